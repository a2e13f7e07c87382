package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/XinWenfei/netsim/scenario"
	"github.com/XinWenfei/netsim/sim"
	"github.com/XinWenfei/netsim/simulation"
)

type runOptions struct {
	configPath  string
	stopTime    time.Duration
	traceDB     string
	monitor     bool
	monitorPort int
	openBrowser bool
	flowMonitor bool
	logEvents   bool
	logger      *slog.Logger
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := runOptions{}

	runCmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Run a built-in scenario or a scenario file",
		Long: `Run a built-in scenario (first, second, third or onoff) or the ` +
			`scenario described by --config, then print the traffic counts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("monitor-port") {
				opts.monitorPort = envIntOr("NETSIM_MONITOR_PORT", 0)
			}
			opts.logger = root.logger

			cfg, err := loadScenario(args, opts.configPath)
			if err != nil {
				return err
			}

			return runScenario(cmd.OutOrStdout(), cfg, opts)
		},
	}

	f := runCmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML scenario file")
	f.DurationVar(&opts.stopTime, "stop", 0,
		"simulated time to stop at, overrides the scenario")
	f.StringVar(&opts.traceDB, "trace-db", "",
		"record traced frames into this SQLite file, without extension")
	f.BoolVar(&opts.monitor, "monitor", false, "serve the monitoring API")
	f.IntVar(&opts.monitorPort, "monitor-port", 0,
		"monitoring port, 0 picks a free one (env NETSIM_MONITOR_PORT)")
	f.BoolVar(&opts.openBrowser, "open-browser", false,
		"open the monitoring API in a browser")
	f.BoolVar(&opts.flowMonitor, "flow-monitor", false,
		"collect per-flow statistics")
	f.BoolVar(&opts.logEvents, "log-events", false,
		"log every event at debug level")

	return runCmd
}

func loadScenario(args []string, configPath string) (scenario.Config, error) {
	switch {
	case configPath != "" && len(args) > 0:
		return scenario.Config{}, errors.New("give either a scenario or --config")
	case configPath != "":
		return scenario.LoadConfig(configPath)
	case len(args) == 0:
		return scenario.Config{}, fmt.Errorf(
			"missing scenario, expecting one of %v", scenario.Names)
	}

	return scenario.Default(args[0])
}

func buildSimulation(cfg scenario.Config, opts runOptions) (*simulation.Simulation, error) {
	b := simulation.MakeBuilder().
		WithStopTime(sim.FromDuration(cfg.StopTime)).
		WithLogger(opts.logger)

	if opts.traceDB != "" {
		b = b.WithDataRecording(opts.traceDB)
	}

	if opts.monitor || opts.openBrowser {
		b = b.WithMonitoring()
		if opts.monitorPort != 0 {
			b = b.WithMonitorPort(opts.monitorPort)
		}
	}

	if opts.logEvents {
		b = b.WithEventLogging()
	}

	return b.Build()
}

func runScenario(w io.Writer, cfg scenario.Config, opts runOptions) (err error) {
	if opts.stopTime > 0 {
		cfg.StopTime = opts.stopTime
	}
	cfg.FlowMonitor = cfg.FlowMonitor || opts.flowMonitor

	s, err := buildSimulation(cfg, opts)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.Terminate()) }()

	if opts.openBrowser {
		// The server is up once the first event fires.
		_, err := s.Engine().Schedule(sim.NewCallbackEvent(0,
			func(sim.VTimeInSec) error {
				if err := s.Monitor().OpenInBrowser(); err != nil {
					s.Logger().Warn("cannot open browser", "error", err)
				}

				return nil
			}))
		if err != nil {
			return err
		}
	}

	res, _, err := scenario.Run(s, cfg)
	if err != nil {
		return err
	}

	return printResult(w, res)
}

func printResult(w io.Writer, res *scenario.Result) error {
	_, err := fmt.Fprintf(w,
		"scenario %s: sent %d, received %d, server received %d, ended at %.6fs\n",
		res.Name, res.Sent, res.Received, res.ServerReceived, float64(res.EndTime))
	if err != nil {
		return err
	}

	if res.Connections > 0 || res.OnOffSent > 0 {
		_, err := fmt.Fprintf(w,
			"on-off sent %d bytes, sink received %d bytes over %d connections\n",
			res.OnOffSent, res.SinkReceived, res.Connections)
		if err != nil {
			return err
		}
	}

	for _, line := range res.Flows {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	return nil
}
