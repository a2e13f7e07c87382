package internet

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// AddressHelper numbers devices with consecutive addresses of a subnet.
//
// For a subnet with h host bits, at most 2^h - 3 addresses are handed out:
// the network address, the broadcast address and the highest host address
// are reserved.
type AddressHelper struct {
	prefix netip.Prefix
	next   uint32
}

// NewAddressHelper creates a helper from a dotted base address and mask, such
// as "10.1.1.0" and "255.255.255.0".
func NewAddressHelper(base, mask string) (*AddressHelper, error) {
	addr, err := netip.ParseAddr(base)
	if err != nil || !addr.Is4() {
		return nil, sim.NewConfigurationError("AddressHelper", "Base",
			fmt.Sprintf("%q is not an IPv4 address", base))
	}

	bits, err := maskBits(mask)
	if err != nil {
		return nil, err
	}

	return NewAddressHelperFromPrefix(netip.PrefixFrom(addr, bits))
}

// NewAddressHelperFromPrefix creates a helper for a subnet in CIDR form.
func NewAddressHelperFromPrefix(prefix netip.Prefix) (*AddressHelper, error) {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return nil, sim.NewConfigurationError("AddressHelper", "Prefix",
			fmt.Sprintf("%s is not an IPv4 prefix", prefix))
	}

	return &AddressHelper{prefix: prefix.Masked(), next: 1}, nil
}

func maskBits(mask string) (int, error) {
	m, err := netip.ParseAddr(mask)
	if err != nil || !m.Is4() {
		return 0, sim.NewConfigurationError("AddressHelper", "Mask",
			fmt.Sprintf("%q is not an IPv4 mask", mask))
	}

	v := toUint32(m)
	bits := 0
	for v&0x80000000 != 0 {
		bits++
		v <<= 1
	}

	if v != 0 {
		return 0, sim.NewConfigurationError("AddressHelper", "Mask",
			fmt.Sprintf("%q is not contiguous", mask))
	}

	return bits, nil
}

func toUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func fromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// Prefix returns the current subnet.
func (h *AddressHelper) Prefix() netip.Prefix {
	return h.prefix
}

// Capacity returns how many addresses a subnet of this size can hand out.
func (h *AddressHelper) Capacity() int {
	hostBits := 32 - h.prefix.Bits()
	total := uint64(1) << hostBits
	if total < 3 {
		return 0
	}

	return int(total - 3)
}

// Available returns how many addresses are left in the current subnet.
func (h *AddressHelper) Available() int {
	return h.Capacity() - int(h.next-1)
}

// NewNetwork moves to the next subnet of the same size and restarts
// numbering.
func (h *AddressHelper) NewNetwork() {
	size := uint64(1) << (32 - h.prefix.Bits())
	base := uint64(toUint32(h.prefix.Addr())) + size

	h.prefix = netip.PrefixFrom(fromUint32(uint32(base)), h.prefix.Bits())
	h.next = 1
}

// Assign numbers the devices in order. Either all devices get an address or
// none does.
func (h *AddressHelper) Assign(devs ...network.Device) ([]netip.Addr, error) {
	if len(devs) > h.Available() {
		return nil, &AddressExhaustionError{
			Subnet:    h.prefix,
			Requested: len(devs),
			Available: h.Available(),
		}
	}

	base := toUint32(h.prefix.Addr())
	addrs := make([]netip.Addr, len(devs))
	seen := make(map[network.Device]bool, len(devs))

	for i, d := range devs {
		stack := StackOf(d.Node())
		if stack == nil {
			return nil, sim.NewConfigurationError("AddressHelper", "Device",
				fmt.Sprintf("node %s has no IPv4 stack", d.Node().Name()))
		}

		if seen[d] || stack.InterfaceFor(d) != nil {
			return nil, sim.NewConfigurationError("AddressHelper", "Device",
				fmt.Sprintf("device %s already has an address", d.Name()))
		}
		seen[d] = true

		addrs[i] = fromUint32(base + h.next + uint32(i))
	}

	for i, d := range devs {
		err := StackOf(d.Node()).AddAddress(d, addrs[i], h.prefix)
		if err != nil {
			return nil, err
		}
	}
	h.next += uint32(len(devs))

	return addrs, nil
}

// AssignChannel numbers all the devices attached to the channel.
func (h *AddressHelper) AssignChannel(ch network.Channel) ([]netip.Addr, error) {
	return h.Assign(ch.Devices()...)
}
