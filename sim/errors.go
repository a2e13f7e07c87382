package sim

import "fmt"

// InvalidTimeError is returned when an event is scheduled at a time that the
// engine has already passed.
type InvalidTimeError struct {
	EventTime   VTimeInSec
	CurrentTime VTimeInSec
}

func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf(
		"cannot schedule event at %.10f, current time is %.10f",
		e.EventTime, e.CurrentTime,
	)
}

// ConfigurationError reports an invalid attribute of a component. It is
// detected when the component is built.
type ConfigurationError struct {
	Component string
	Field     string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration of %s: %s",
			e.Component, e.Reason)
	}

	return fmt.Sprintf("invalid configuration of %s.%s: %s",
		e.Component, e.Field, e.Reason)
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(component, field, reason string) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Field:     field,
		Reason:    reason,
	}
}
