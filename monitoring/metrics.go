package monitoring

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/XinWenfei/netsim/sim"
)

// EngineMetrics exports the progress of an engine as Prometheus metrics. It is
// a hook that must be attached to the engine.
type EngineMetrics struct {
	Events        *prometheus.CounterVec
	EventErrors   prometheus.Counter
	SimulatedTime prometheus.Gauge
}

// NewEngineMetrics registers the engine metrics against the registerer,
// defaulting to the global Prometheus registry when nil. Metrics that are
// already registered are reused.
func NewEngineMetrics(reg prometheus.Registerer) (*EngineMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsim_events_total",
			Help: "Number of dispatched events, labeled by event type.",
		}, []string{"type"}), "netsim_events_total")
	if err != nil {
		return nil, err
	}

	eventErrors, err := registerCounter(reg, prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netsim_event_errors_total",
			Help: "Number of events whose handler returned an error.",
		}), "netsim_event_errors_total")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netsim_simulated_time_seconds",
			Help: "Time of the last dispatched event.",
		}), "netsim_simulated_time_seconds")
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		Events:        events,
		EventErrors:   eventErrors,
		SimulatedTime: simTime,
	}, nil
}

// Func updates the metrics after each event.
func (m *EngineMetrics) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosAfterEvent {
		return
	}

	evt, ok := ctx.Item.(sim.Event)
	if !ok {
		return
	}

	m.Events.WithLabelValues(eventTypeName(evt)).Inc()
	m.SimulatedTime.Set(float64(evt.Time()))

	if err, ok := ctx.Detail.(error); ok && err != nil {
		m.EventErrors.Inc()
	}
}

func eventTypeName(evt sim.Event) string {
	t := reflect.TypeOf(evt)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	pkg := t.PkgPath()
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		pkg = pkg[i+1:]
	}

	if pkg == "" {
		return t.Name()
	}

	return pkg + "." + t.Name()
}

func registerCounterVec(
	reg prometheus.Registerer,
	vec *prometheus.CounterVec,
	name string,
) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(
	reg prometheus.Registerer,
	counter prometheus.Counter,
	name string,
) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(
	reg prometheus.Registerer,
	gauge prometheus.Gauge,
	name string,
) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
