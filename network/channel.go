// Package network defines the nodes and devices that link-layer models
// build on.
package network

import "github.com/XinWenfei/netsim/sim"

// A Channel is the medium that connects devices.
type Channel interface {
	sim.Named

	// Devices returns the attached devices in attachment order.
	Devices() []Device
}

// PeerDevices returns the devices on the same channel as dev, excluding dev.
func PeerDevices(dev Device) []Device {
	ch := dev.Channel()
	if ch == nil {
		return nil
	}

	peers := make([]Device, 0, len(ch.Devices()))
	for _, d := range ch.Devices() {
		if d != dev {
			peers = append(peers, d)
		}
	}

	return peers
}
