package sim

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Common time units.
const (
	Second      VTimeInSec = 1
	Millisecond VTimeInSec = 1e-3
	Microsecond VTimeInSec = 1e-6
	Nanosecond  VTimeInSec = 1e-9
)

// ParseTime converts strings such as "2ms", "65600ns" or "10s" into a
// simulated time. A bare number is read as seconds.
func ParseTime(s string) (VTimeInSec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time")
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("time %q is negative", s)
		}
		return VTimeInSec(v), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing time %q: %w", s, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("time %q is negative", s)
	}

	return FromDuration(d), nil
}

// FromDuration converts a wall-clock style duration into simulated time.
func FromDuration(d time.Duration) VTimeInSec {
	return VTimeInSec(d.Seconds())
}

// Duration converts the simulated time into a time.Duration, rounded to the
// nanosecond.
func (t VTimeInSec) Duration() time.Duration {
	return time.Duration(float64(t)*1e9 + 0.5)
}
