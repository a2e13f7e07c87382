package network

import (
	"fmt"
	"sync"
)

// MacAddress is a 48-bit link-layer address.
type MacAddress [6]byte

// BroadcastMac is the address that every device accepts.
var BroadcastMac = MacAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcast returns true for ff:ff:ff:ff:ff:ff.
func (m MacAddress) IsBroadcast() bool {
	return m == BroadcastMac
}

func (m MacAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		m[0], m[1], m[2], m[3], m[4], m[5])
}

// MacAllocator hands out unique addresses in increasing order, starting from
// 00:00:00:00:00:01.
type MacAllocator struct {
	lock sync.Mutex
	next uint64
}

// NewMacAllocator creates a MacAllocator.
func NewMacAllocator() *MacAllocator {
	return &MacAllocator{next: 1}
}

// Allocate returns the next unused address.
func (a *MacAllocator) Allocate() MacAddress {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.next >= 1<<48-1 {
		panic("mac address space exhausted")
	}

	v := a.next
	a.next++

	var m MacAddress
	for i := 5; i >= 0; i-- {
		m[i] = byte(v)
		v >>= 8
	}

	return m
}
