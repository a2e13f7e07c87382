package network

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/XinWenfei/netsim/sim"
)

// DataRate is a transmission rate in bits per second.
type DataRate float64

// Defines the unit of data rates
const (
	Bps  DataRate = 1
	Kbps DataRate = 1e3
	Mbps DataRate = 1e6
	Gbps DataRate = 1e9
)

var dataRateUnits = []struct {
	suffix string
	factor DataRate
}{
	{"Gbps", Gbps},
	{"Mbps", Mbps},
	{"Kbps", Kbps},
	{"kbps", Kbps},
	{"Gb/s", Gbps},
	{"Mb/s", Mbps},
	{"kb/s", Kbps},
	{"Kb/s", Kbps},
	{"GBps", 8 * Gbps},
	{"MBps", 8 * Mbps},
	{"KBps", 8 * Kbps},
	{"kBps", 8 * Kbps},
	{"bps", Bps},
	{"b/s", Bps},
	{"Bps", 8 * Bps},
	{"B/s", 8 * Bps},
}

// ParseDataRate parses strings like "5Mbps", "100Mb/s" or "54000000". Units
// with a capital B count bytes.
func ParseDataRate(s string) (DataRate, error) {
	s = strings.TrimSpace(s)

	number, factor := s, Bps
	for _, u := range dataRateUnits {
		if strings.HasSuffix(s, u.suffix) {
			number = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			factor = u.factor
			break
		}
	}

	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing data rate %q: %w", s, err)
	}

	if v <= 0 {
		return 0, fmt.Errorf("data rate %q must be positive", s)
	}

	return DataRate(v) * factor, nil
}

// MustParseDataRate is like ParseDataRate but panics on error.
func MustParseDataRate(s string) DataRate {
	r, err := ParseDataRate(s)
	if err != nil {
		panic(err)
	}

	return r
}

// TxTime returns the time needed to put the given number of bytes on the
// wire.
func (r DataRate) TxTime(bytes int) sim.VTimeInSec {
	if r <= 0 {
		panic("data rate must be positive")
	}

	return sim.VTimeInSec(float64(bytes) * 8 / float64(r))
}

func (r DataRate) String() string {
	switch {
	case r >= Gbps:
		return strconv.FormatFloat(float64(r/Gbps), 'f', -1, 64) + "Gbps"
	case r >= Mbps:
		return strconv.FormatFloat(float64(r/Mbps), 'f', -1, 64) + "Mbps"
	case r >= Kbps:
		return strconv.FormatFloat(float64(r/Kbps), 'f', -1, 64) + "Kbps"
	default:
		return strconv.FormatFloat(float64(r), 'f', -1, 64) + "bps"
	}
}
