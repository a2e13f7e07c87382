package internet

import (
	"errors"
	"fmt"
	"net/netip"
)

// Errors returned when a datagram cannot be sent.
var (
	ErrNoRoute         = errors.New("no route to destination")
	ErrHostUnreachable = errors.New("next hop unreachable")
	ErrPortInUse       = errors.New("port already in use")
	ErrSocketClosed    = errors.New("socket closed")
)

// Errors reported by TCP sockets.
var (
	ErrConnectionRefused  = errors.New("connection refused")
	ErrConnectionReset    = errors.New("connection reset by peer")
	ErrConnectionTimedOut = errors.New("connection timed out")
	ErrSocketState        = errors.New("operation not allowed in socket state")
)

// AddressExhaustionError is returned when a subnet has fewer free addresses
// than devices to number.
type AddressExhaustionError struct {
	Subnet    netip.Prefix
	Requested int
	Available int
}

func (e *AddressExhaustionError) Error() string {
	return fmt.Sprintf("subnet %s has %d free addresses, %d requested",
		e.Subnet, e.Available, e.Requested)
}

// TopologyError is returned when global routes are computed on a graph that
// is not ready.
type TopologyError struct {
	Node   string
	Reason string
}

func (e *TopologyError) Error() string {
	if e.Node == "" {
		return "topology error: " + e.Reason
	}

	return fmt.Sprintf("topology error at %s: %s", e.Node, e.Reason)
}
