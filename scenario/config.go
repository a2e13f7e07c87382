// Package scenario builds and runs the example topologies. "first" joins two
// hosts with a point-to-point link, "second" adds a CSMA bus behind the link
// and "third" adds a wireless network on the near side. "onoff" runs TCP
// on-off traffic over a slow link.
package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/XinWenfei/netsim/network"
)

// Config describes a scenario. Zero-sized CSMA and wifi sections leave those
// networks out, and a zero port leaves the echo or the on-off traffic out.
type Config struct {
	Name        string        `yaml:"name"`
	StopTime    time.Duration `yaml:"stop_time"`
	FlowMonitor bool          `yaml:"flow_monitor"`

	P2p  LinkConfig `yaml:"p2p"`
	Csma CsmaConfig `yaml:"csma"`
	Wifi WifiConfig `yaml:"wifi"`
	Echo  EchoConfig  `yaml:"echo"`
	OnOff OnOffConfig `yaml:"onoff"`
}

// SubnetConfig is the address block of a network.
type SubnetConfig struct {
	Base string `yaml:"base"`
	Mask string `yaml:"mask"`
}

// LinkConfig configures a wired network.
type LinkConfig struct {
	DataRate  string        `yaml:"data_rate"`
	Delay     time.Duration `yaml:"delay"`
	QueueSize int           `yaml:"queue_size"`
	Subnet    SubnetConfig  `yaml:"subnet"`

	// Positions pins the link nodes in place, in order.
	Positions []network.Vector `yaml:"positions"`
}

// CsmaConfig configures the bus. The bus joins the second point-to-point
// node and Nodes new nodes.
type CsmaConfig struct {
	Nodes      int `yaml:"nodes"`
	LinkConfig `yaml:",inline"`
}

// RectangleConfig bounds the walk of the stations.
type RectangleConfig struct {
	MinX float64 `yaml:"min_x"`
	MaxX float64 `yaml:"max_x"`
	MinY float64 `yaml:"min_y"`
	MaxY float64 `yaml:"max_y"`
}

// GridConfig places the stations and the access point on a grid.
type GridConfig struct {
	MinX   float64 `yaml:"min_x"`
	MinY   float64 `yaml:"min_y"`
	DeltaX float64 `yaml:"delta_x"`
	DeltaY float64 `yaml:"delta_y"`
	Width  int     `yaml:"width"`
}

// WifiConfig configures the wireless network. The first point-to-point node
// is the access point.
type WifiConfig struct {
	Stations int             `yaml:"stations"`
	Ssid     string          `yaml:"ssid"`
	DataRate string          `yaml:"data_rate"`
	MaxRange float64         `yaml:"max_range"`
	Grid     GridConfig      `yaml:"grid"`
	Bounds   RectangleConfig `yaml:"bounds"`
	SpeedMin float64         `yaml:"speed_min"`
	SpeedMax float64         `yaml:"speed_max"`
	Subnet   SubnetConfig    `yaml:"subnet"`
}

// EchoConfig configures the echo server and client.
type EchoConfig struct {
	Port        uint16        `yaml:"port"`
	MaxPackets  int           `yaml:"max_packets"`
	Interval    time.Duration `yaml:"interval"`
	PacketSize  int           `yaml:"packet_size"`
	ServerStart time.Duration `yaml:"server_start"`
	ServerStop  time.Duration `yaml:"server_stop"`
	ClientStart time.Duration `yaml:"client_start"`
	ClientStop  time.Duration `yaml:"client_stop"`
}

// OnOffConfig configures the on-off senders and the sink. Every link node
// runs a sender towards the sink on the far end of the link.
type OnOffConfig struct {
	Transport  string        `yaml:"transport"`
	Port       uint16        `yaml:"port"`
	DataRate   string        `yaml:"data_rate"`
	PacketSize int           `yaml:"packet_size"`
	OnTime     time.Duration `yaml:"on_time"`
	OffTime    time.Duration `yaml:"off_time"`
	MaxBytes   uint64        `yaml:"max_bytes"`
	Start      time.Duration `yaml:"start"`
	Stop       time.Duration `yaml:"stop"`
	SinkStart  time.Duration `yaml:"sink_start"`
	SinkStop   time.Duration `yaml:"sink_stop"`
}

// Names lists the built-in scenarios.
var Names = []string{"first", "second", "third", "onoff"}

func defaultP2p() LinkConfig {
	return LinkConfig{
		DataRate:  "5Mbps",
		Delay:     2 * time.Millisecond,
		QueueSize: 100,
		Subnet:    SubnetConfig{Base: "10.1.1.0", Mask: "255.255.255.0"},
	}
}

func defaultEcho() EchoConfig {
	return EchoConfig{
		Port:        9,
		MaxPackets:  5,
		Interval:    time.Second,
		PacketSize:  1024,
		ServerStart: time.Second,
		ServerStop:  10 * time.Second,
		ClientStart: 2 * time.Second,
		ClientStop:  10 * time.Second,
	}
}

func defaultCsma(delay time.Duration) CsmaConfig {
	return CsmaConfig{
		Nodes: 3,
		LinkConfig: LinkConfig{
			DataRate:  "100Mbps",
			Delay:     delay,
			QueueSize: 100,
			Subnet:    SubnetConfig{Base: "10.1.2.0", Mask: "255.255.255.0"},
		},
	}
}

func defaultWifi() WifiConfig {
	return WifiConfig{
		Stations: 3,
		Ssid:     "ns-3-ssid",
		DataRate: "6Mbps",
		MaxRange: 250,
		Grid: GridConfig{
			DeltaX: 5,
			DeltaY: 10,
			Width:  3,
		},
		Bounds:   RectangleConfig{MinX: -50, MaxX: 50, MinY: -50, MaxY: 50},
		SpeedMin: 2,
		SpeedMax: 4,
		Subnet:   SubnetConfig{Base: "10.1.3.0", Mask: "255.255.255.0"},
	}
}

// Default returns the configuration of a built-in scenario.
func Default(name string) (Config, error) {
	switch name {
	case "first":
		return Config{
			Name: name,
			P2p:  defaultP2p(),
			Echo: defaultEcho(),
		}, nil
	case "second":
		return Config{
			Name: name,
			P2p:  defaultP2p(),
			Csma: defaultCsma(6560 * time.Nanosecond),
			Echo: defaultEcho(),
		}, nil
	case "onoff":
		return Config{
			Name:     name,
			StopTime: 25 * time.Second,
			P2p: LinkConfig{
				DataRate:  "512Kbps",
				Delay:     500 * time.Microsecond,
				QueueSize: 100,
				Subnet:    SubnetConfig{Base: "192.168.1.0", Mask: "255.255.255.0"},
				Positions: []network.Vector{{}, {X: 2.5, Y: 2.5}},
			},
			OnOff: OnOffConfig{
				Transport:  "tcp",
				Port:       4000,
				DataRate:   "5kbps",
				PacketSize: 1000,
				OnTime:     time.Second,
				MaxBytes:   100000,
				Start:      time.Second,
				Stop:       25 * time.Second,
				SinkStop:   25 * time.Second,
			},
		}, nil
	case "third":
		echo := defaultEcho()
		echo.ServerStop = 20 * time.Second
		echo.ClientStop = 20 * time.Second

		return Config{
			Name:     name,
			StopTime: 10 * time.Second,
			P2p:      defaultP2p(),
			Csma:     defaultCsma(65600 * time.Nanosecond),
			Wifi:     defaultWifi(),
			Echo:     echo,
		}, nil
	}

	return Config{}, fmt.Errorf("unknown scenario %q, expecting one of %v", name, Names)
}

// LoadConfig reads a YAML scenario file. When the file names a built-in
// scenario, the file only needs the values that differ from it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// ParseConfig decodes and validates a YAML scenario.
func ParseConfig(data []byte) (Config, error) {
	var head struct {
		Name string `yaml:"name"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Config{}, fmt.Errorf("yaml unmarshal: %w", err)
	}

	cfg := Config{Name: head.Name}
	if head.Name != "" {
		if base, err := Default(head.Name); err == nil {
			cfg = base
		}
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("yaml unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the values that the builders cannot check on their own.
func (c Config) Validate() error {
	if c.StopTime < 0 {
		return configError("StopTime", "must not be negative")
	}

	if err := c.P2p.validate("P2p"); err != nil {
		return err
	}

	if c.Csma.Nodes < 0 {
		return configError("Csma.Nodes", "must not be negative")
	}
	if c.Csma.Nodes > 0 {
		if err := c.Csma.LinkConfig.validate("Csma"); err != nil {
			return err
		}
	}

	if err := c.Wifi.validate(); err != nil {
		return err
	}

	if c.Wifi.Stations > 0 && c.StopTime == 0 {
		return configError("StopTime",
			"must be set when stations walk, the walk never ends")
	}

	if c.Echo.Port == 0 && c.OnOff.Port == 0 {
		return configError("Echo.Port", "must be set when there is no on-off traffic")
	}

	if c.Echo.Port != 0 {
		if err := c.Echo.validate(); err != nil {
			return err
		}
	}

	if c.OnOff.Port != 0 {
		return c.OnOff.validate()
	}

	return nil
}

func (l LinkConfig) validate(field string) error {
	if _, err := network.ParseDataRate(l.DataRate); err != nil {
		return configError(field+".DataRate", err.Error())
	}

	if l.Delay < 0 {
		return configError(field+".Delay", "must not be negative")
	}

	return l.Subnet.validate(field)
}

func (s SubnetConfig) validate(field string) error {
	if s.Base == "" || s.Mask == "" {
		return configError(field+".Subnet", "base and mask are required")
	}

	return nil
}

func (w WifiConfig) validate() error {
	switch {
	case w.Stations < 0:
		return configError("Wifi.Stations", "must not be negative")
	case w.Stations == 0:
		return nil
	case w.Ssid == "":
		return configError("Wifi.Ssid", "must not be empty")
	case w.MaxRange <= 0:
		return configError("Wifi.MaxRange", "must be positive")
	case w.Grid.Width <= 0:
		return configError("Wifi.Grid.Width", "must be positive")
	}

	if _, err := network.ParseDataRate(w.DataRate); err != nil {
		return configError("Wifi.DataRate", err.Error())
	}

	return w.Subnet.validate("Wifi")
}

func (e EchoConfig) validate() error {
	switch {
	case e.MaxPackets < 0:
		return configError("Echo.MaxPackets", "must not be negative")
	case e.Interval <= 0:
		return configError("Echo.Interval", "must be positive")
	case e.PacketSize < 0:
		return configError("Echo.PacketSize", "must not be negative")
	case e.ServerStop < e.ServerStart:
		return configError("Echo.ServerStop", "must not be before the start")
	case e.ClientStop < e.ClientStart:
		return configError("Echo.ClientStop", "must not be before the start")
	}

	return nil
}

func (o OnOffConfig) validate() error {
	switch {
	case o.Transport != "udp" && o.Transport != "tcp":
		return configError("OnOff.Transport", "must be udp or tcp")
	case o.PacketSize <= 0:
		return configError("OnOff.PacketSize", "must be positive")
	case o.OnTime <= 0:
		return configError("OnOff.OnTime", "must be positive")
	case o.OffTime < 0:
		return configError("OnOff.OffTime", "must not be negative")
	case o.Stop < o.Start:
		return configError("OnOff.Stop", "must not be before the start")
	case o.SinkStop != 0 && o.SinkStop < o.SinkStart:
		return configError("OnOff.SinkStop", "must not be before the start")
	}

	if _, err := network.ParseDataRate(o.DataRate); err != nil {
		return configError("OnOff.DataRate", err.Error())
	}

	return nil
}
