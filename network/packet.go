package network

import (
	"github.com/XinWenfei/netsim/sim"
)

// A Header is protocol control information prepended to a packet.
type Header interface {
	// Size returns the number of bytes the header occupies on the wire.
	Size() int
}

// A Packet is the unit of data that flows through devices and protocol
// stacks. Headers are stacked, the last added header is the outermost one.
type Packet struct {
	ID string

	payload     []byte
	payloadSize int
	headers     []Header
}

// NewPacket creates a packet whose payload is size zero bytes.
func NewPacket(size int) *Packet {
	if size < 0 {
		panic("packet size must not be negative")
	}

	return &Packet{
		ID:          sim.GetIDGenerator().Generate(),
		payloadSize: size,
	}
}

// NewPacketWithPayload creates a packet carrying the given bytes.
func NewPacketWithPayload(payload []byte) *Packet {
	p := NewPacket(len(payload))
	p.payload = append([]byte(nil), payload...)
	return p
}

// Size returns the size of the payload plus all headers.
func (p *Packet) Size() int {
	size := p.payloadSize
	for _, h := range p.headers {
		size += h.Size()
	}

	return size
}

// PayloadSize returns the size of the payload without headers.
func (p *Packet) PayloadSize() int {
	return p.payloadSize
}

// Payload returns the payload bytes. Packets created with NewPacket return
// zero-filled bytes.
func (p *Packet) Payload() []byte {
	if p.payload == nil {
		return make([]byte, p.payloadSize)
	}

	return p.payload
}

// AddHeader pushes a header in front of the packet.
func (p *Packet) AddHeader(h Header) {
	p.headers = append(p.headers, h)
}

// RemoveHeader pops the outermost header. It returns nil if the packet has no
// header.
func (p *Packet) RemoveHeader() Header {
	if len(p.headers) == 0 {
		return nil
	}

	h := p.headers[len(p.headers)-1]
	p.headers = p.headers[:len(p.headers)-1]

	return h
}

// PeekHeader returns the outermost header without removing it.
func (p *Packet) PeekHeader() Header {
	if len(p.headers) == 0 {
		return nil
	}

	return p.headers[len(p.headers)-1]
}

// ReplaceHeader replaces the outermost header.
func (p *Packet) ReplaceHeader(h Header) {
	if len(p.headers) == 0 {
		panic("packet has no header to replace")
	}

	p.headers[len(p.headers)-1] = h
}

// Headers returns the headers from the outermost to the innermost.
func (p *Packet) Headers() []Header {
	hs := make([]Header, len(p.headers))
	for i, h := range p.headers {
		hs[len(p.headers)-1-i] = h
	}

	return hs
}

// Copy returns a packet with the same ID and content. Headers are values, so
// later changes to the copy do not affect the original.
func (p *Packet) Copy() *Packet {
	c := &Packet{
		ID:          p.ID,
		payloadSize: p.payloadSize,
		headers:     append([]Header(nil), p.headers...),
	}

	if p.payload != nil {
		c.payload = append([]byte(nil), p.payload...)
	}

	return c
}
