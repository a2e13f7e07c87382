package internet

import (
	"fmt"
	"log"
	"net/netip"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// TcpState is the state of a TCP connection.
type TcpState int

// States of a TCP connection. TIME-WAIT is left immediately.
const (
	TcpClosed TcpState = iota
	TcpListen
	TcpSynSent
	TcpSynReceived
	TcpEstablished
	TcpFinWait1
	TcpFinWait2
	TcpCloseWait
	TcpClosing
	TcpLastAck
)

var tcpStateNames = [...]string{
	"CLOSED", "LISTEN", "SYN-SENT", "SYN-RECEIVED", "ESTABLISHED",
	"FIN-WAIT-1", "FIN-WAIT-2", "CLOSE-WAIT", "CLOSING", "LAST-ACK",
}

func (s TcpState) String() string {
	if s < 0 || int(s) >= len(tcpStateNames) {
		return fmt.Sprintf("TcpState(%d)", int(s))
	}

	return tcpStateNames[s]
}

// TcpConfig holds the attributes of a TCP socket.
type TcpConfig struct {
	// SegmentSize is the largest payload of a segment, in bytes.
	SegmentSize int

	// InitialCwnd is the congestion window at the start, in segments.
	InitialCwnd int

	// SendBufferSize limits the bytes written but not yet acknowledged.
	SendBufferSize int

	// ReceiveWindow is the window advertised to the peer, in bytes.
	ReceiveWindow uint16

	InitialRto sim.VTimeInSec
	MinRto     sim.VTimeInSec
	MaxRto     sim.VTimeInSec

	// MaxRetries is the number of consecutive timeouts after which the
	// connection is given up.
	MaxRetries int
}

// DefaultTcpConfig returns 536-byte segments, a one-segment initial window,
// a 128 KiB send buffer and a 1 s initial retransmission timeout.
func DefaultTcpConfig() TcpConfig {
	return TcpConfig{
		SegmentSize:    536,
		InitialCwnd:    1,
		SendBufferSize: 131072,
		ReceiveWindow:  65535,
		InitialRto:     1,
		MinRto:         200 * sim.Millisecond,
		MaxRto:         60,
		MaxRetries:     6,
	}
}

func (c TcpConfig) validate() error {
	const comp = "TcpSocket"

	switch {
	case c.SegmentSize <= 0:
		return sim.NewConfigurationError(comp, "SegmentSize", "must be positive")
	case c.InitialCwnd <= 0:
		return sim.NewConfigurationError(comp, "InitialCwnd", "must be positive")
	case c.SendBufferSize < c.SegmentSize:
		return sim.NewConfigurationError(comp, "SendBufferSize",
			"must hold at least one segment")
	case c.ReceiveWindow == 0:
		return sim.NewConfigurationError(comp, "ReceiveWindow", "must be positive")
	case c.MinRto <= 0 || c.InitialRto < c.MinRto || c.MaxRto < c.InitialRto:
		return sim.NewConfigurationError(comp, "InitialRto",
			"must lie between MinRto and MaxRto")
	case c.MaxRetries <= 0:
		return sim.NewConfigurationError(comp, "MaxRetries", "must be positive")
	}

	return nil
}

type tcpKey struct {
	local  netip.AddrPort
	remote netip.AddrPort
}

type tcpRtoEvent struct {
	*sim.EventBase
}

func seqLT(a, b uint32) bool { return int32(a-b) < 0 }
func seqLE(a, b uint32) bool { return int32(a-b) <= 0 }

// A TcpSocket is one end of a reliable byte stream. Payload bytes are only
// counted, segments carry no data. Lost segments are recovered by
// retransmission timeouts with go-back-N and by fast retransmit after three
// duplicate acknowledgements. The congestion window follows slow start and
// congestion avoidance.
type TcpSocket struct {
	stack *Ipv4
	cfg   TcpConfig
	state TcpState
	bound bool

	local    netip.AddrPort
	remote   netip.AddrPort
	listener *TcpSocket

	iss, sndUna, sndNxt, sndMax uint32
	written                     uint64
	closeRequested              bool
	finSent                     bool
	finSeq                      uint32
	peerWindow                  int
	cwnd, ssthresh              int
	dupAcks                     int

	rto, srtt, rttvar sim.VTimeInSec
	hasRtt            bool
	timing            bool
	rttSeq            uint32
	rttStart          sim.VTimeInSec
	retries           int
	rtoTimer          *sim.EventHandle

	rcvNxt   uint32
	received uint64

	segmentsSent    uint64
	retransmissions uint64

	onConnect   func(*TcpSocket, error)
	onAccept    func(*TcpSocket)
	onRecv      func(*TcpSocket, int)
	onPeerClose func(*TcpSocket)
	onClose     func(*TcpSocket, error)
}

// NewTcpSocket creates a closed socket with the default attributes.
func (s *Ipv4) NewTcpSocket() *TcpSocket {
	sock, err := s.NewTcpSocketWithConfig(DefaultTcpConfig())
	if err != nil {
		log.Panic(err)
	}

	return sock
}

// NewTcpSocketWithConfig creates a closed socket.
func (s *Ipv4) NewTcpSocketWithConfig(cfg TcpConfig) (*TcpSocket, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &TcpSocket{
		stack:      s,
		cfg:        cfg,
		rto:        cfg.InitialRto,
		peerWindow: int(cfg.ReceiveWindow),
	}, nil
}

// State returns the connection state.
func (t *TcpSocket) State() TcpState {
	return t.state
}

// LocalAddress returns the local endpoint. The address is only valid once
// the socket is connected.
func (t *TcpSocket) LocalAddress() netip.AddrPort {
	return t.local
}

// RemoteAddress returns the peer endpoint of a connection.
func (t *TcpSocket) RemoteAddress() netip.AddrPort {
	return t.remote
}

// BytesReceived returns the number of in-order bytes delivered.
func (t *TcpSocket) BytesReceived() uint64 {
	return t.received
}

// BytesAcked returns the number of written bytes the peer acknowledged.
func (t *TcpSocket) BytesAcked() uint64 {
	if t.sndUna == t.iss {
		return 0
	}

	acked := uint64(t.sndUna - t.iss - 1)
	if acked > t.written {
		acked = t.written
	}

	return acked
}

// SegmentsSent returns the number of segments sent, retransmissions
// included.
func (t *TcpSocket) SegmentsSent() uint64 {
	return t.segmentsSent
}

// Retransmissions returns the number of segments sent again.
func (t *TcpSocket) Retransmissions() uint64 {
	return t.retransmissions
}

// CongestionWindow returns the congestion window in bytes.
func (t *TcpSocket) CongestionWindow() int {
	return t.cwnd
}

// SetConnectCallback is called when an active open succeeds or fails.
func (t *TcpSocket) SetConnectCallback(cb func(*TcpSocket, error)) {
	t.onConnect = cb
}

// SetAcceptCallback is called on a listening socket with every connection
// that completes the handshake. Callbacks of the new socket should be set
// from here.
func (t *TcpSocket) SetAcceptCallback(cb func(*TcpSocket)) {
	t.onAccept = cb
}

// SetRecvCallback is called with the number of bytes that arrived in order.
func (t *TcpSocket) SetRecvCallback(cb func(*TcpSocket, int)) {
	t.onRecv = cb
}

// SetPeerCloseCallback is called when the peer has no more bytes to send.
func (t *TcpSocket) SetPeerCloseCallback(cb func(*TcpSocket)) {
	t.onPeerClose = cb
}

// SetCloseCallback is called once the connection is gone. The error is nil
// after an orderly close.
func (t *TcpSocket) SetCloseCallback(cb func(*TcpSocket, error)) {
	t.onClose = cb
}

// Bind attaches the socket to a local port. Port 0 picks a free ephemeral
// port.
func (t *TcpSocket) Bind(port uint16) error {
	if t.bound || t.state != TcpClosed {
		return fmt.Errorf("tcp bind in %s: %w", t.state, ErrSocketState)
	}

	s := t.stack
	if port == 0 {
		p, err := s.allocateEphemeral()
		if err != nil {
			return err
		}
		port = p
	}

	if _, used := s.tcpPorts[port]; used {
		return fmt.Errorf("%s tcp port %d: %w", s.node.Name(), port, ErrPortInUse)
	}

	s.tcpPorts[port] = t
	t.local = netip.AddrPortFrom(netip.Addr{}, port)
	t.bound = true

	return nil
}

// Listen makes a bound socket accept connections.
func (t *TcpSocket) Listen() error {
	if !t.bound || t.state != TcpClosed {
		return fmt.Errorf("tcp listen in %s: %w", t.state, ErrSocketState)
	}

	t.state = TcpListen
	t.stack.tcpListeners[t.local.Port()] = t

	return nil
}

// Connect starts an active open. An unbound socket is bound to an ephemeral
// port first. The outcome is reported to the connect callback.
func (t *TcpSocket) Connect(remote netip.AddrPort) error {
	if t.state != TcpClosed || t.listener != nil {
		return fmt.Errorf("tcp connect in %s: %w", t.state, ErrSocketState)
	}

	s := t.stack
	localAddr, err := s.sourceFor(remote.Addr())
	if err != nil {
		return err
	}

	if !t.bound {
		if err := t.Bind(0); err != nil {
			return err
		}
	}

	key := tcpKey{
		local:  netip.AddrPortFrom(localAddr, t.local.Port()),
		remote: remote,
	}
	if _, used := s.tcpConns[key]; used {
		return fmt.Errorf("%s tcp %s: %w", s.node.Name(), key.local, ErrPortInUse)
	}

	t.local = key.local
	t.remote = remote
	s.tcpConns[key] = t

	t.initSend()
	t.state = TcpSynSent
	t.sendControl(t.iss, TcpSyn)
	t.armTimer()

	return nil
}

// sourceFor picks the local address used to reach dst.
func (s *Ipv4) sourceFor(dst netip.Addr) (netip.Addr, error) {
	if s.isLocal(dst) {
		return dst, nil
	}

	route, ok := s.routes.Lookup(dst)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%s to %s: %w", s.node.Name(), dst, ErrNoRoute)
	}

	return s.interfaces[route.Interface].address, nil
}

func (t *TcpSocket) initSend() {
	t.sndUna = t.iss
	t.sndNxt = t.iss + 1
	t.sndMax = t.sndNxt
	t.cwnd = t.cfg.InitialCwnd * t.cfg.SegmentSize
	t.ssthresh = int(^uint(0) >> 1)
}

// Send queues n bytes for transmission. It returns how many bytes fit in
// the send buffer.
func (t *TcpSocket) Send(n int) (int, error) {
	switch t.state {
	case TcpSynSent, TcpSynReceived, TcpEstablished, TcpCloseWait:
	default:
		return 0, fmt.Errorf("tcp send in %s: %w", t.state, ErrSocketState)
	}

	if t.closeRequested {
		return 0, ErrSocketClosed
	}

	free := t.cfg.SendBufferSize - int(t.dataEnd()-t.sndUna)
	if t.state == TcpSynSent || t.state == TcpSynReceived {
		free++
	}
	if n > free {
		n = free
	}
	if n <= 0 {
		return 0, nil
	}

	t.written += uint64(n)
	t.output()

	return n, nil
}

// Close closes the socket. A connection sends what is buffered, then a FIN.
func (t *TcpSocket) Close() {
	switch t.state {
	case TcpClosed:
		t.release()
	case TcpListen:
		delete(t.stack.tcpListeners, t.local.Port())
		t.state = TcpClosed
		t.release()
	case TcpSynSent:
		t.finish(nil)
	case TcpSynReceived, TcpEstablished, TcpCloseWait:
		t.closeRequested = true
		t.output()
	}
}

// dataEnd is the sequence number after the last written byte.
func (t *TcpSocket) dataEnd() uint32 {
	return t.iss + 1 + uint32(t.written)
}

func (t *TcpSocket) output() {
	switch t.state {
	case TcpEstablished, TcpCloseWait, TcpFinWait1, TcpClosing, TcpLastAck:
	default:
		return
	}

	for {
		unsent := int(int32(t.dataEnd() - t.sndNxt))
		inFlight := int(t.sndNxt - t.sndUna)
		window := t.cwnd
		if t.peerWindow < window {
			window = t.peerWindow
		}

		if unsent > 0 {
			room := window - inFlight
			if room <= 0 {
				break
			}

			n := min(unsent, t.cfg.SegmentSize, room)
			t.sendData(t.sndNxt, n)
			t.sndNxt += uint32(n)
			if seqLT(t.sndMax, t.sndNxt) {
				t.sndMax = t.sndNxt
			}

			continue
		}

		if t.closeRequested && !t.finSent && t.sndNxt == t.dataEnd() {
			t.sendFin()
		}

		break
	}

	if t.sndNxt != t.sndUna {
		t.armTimer()
	}
}

func (t *TcpSocket) sendFin() {
	t.finSeq = t.sndNxt
	t.finSent = true
	t.sendControl(t.finSeq, TcpFin|TcpAck)
	t.sndNxt++
	if seqLT(t.sndMax, t.sndNxt) {
		t.sndMax = t.sndNxt
	}

	switch t.state {
	case TcpEstablished:
		t.state = TcpFinWait1
	case TcpCloseWait:
		t.state = TcpLastAck
	}
}

func (t *TcpSocket) sendData(seq uint32, n int) {
	if seqLT(seq, t.sndMax) {
		t.retransmissions++
	} else if !t.timing {
		t.timing = true
		t.rttSeq = seq + uint32(n)
		t.rttStart = t.stack.engine.CurrentTime()
	}

	t.transmit(network.NewPacket(n), seq, TcpAck)
}

func (t *TcpSocket) sendControl(seq uint32, flags TcpFlags) {
	t.transmit(network.NewPacket(0), seq, flags)
}

func (t *TcpSocket) transmit(pkt *network.Packet, seq uint32, flags TcpFlags) {
	hdr := TcpHeader{
		SourcePort:      t.local.Port(),
		DestinationPort: t.remote.Port(),
		Sequence:        seq,
		Flags:           flags,
		Window:          t.cfg.ReceiveWindow,
	}
	if flags.Has(TcpAck) {
		hdr.Acknowledgement = t.rcvNxt
	}

	pkt.AddHeader(hdr)
	t.segmentsSent++

	err := t.stack.Send(pkt, t.local.Addr(), t.remote.Addr(), ProtocolTcp)
	if err != nil {
		t.stack.logger.Debug("tcp segment not sent",
			"local", t.local.String(), "remote", t.remote.String(),
			"error", err.Error())
	}
}

func (t *TcpSocket) armTimer() {
	if t.rtoTimer != nil {
		return
	}

	h, err := t.stack.engine.Schedule(&tcpRtoEvent{
		EventBase: sim.NewEventBase(t.stack.engine.CurrentTime()+t.rto, t),
	})
	if err != nil {
		log.Panicf("%s: cannot schedule tcp timer: %v", t.stack.Name(), err)
	}
	t.rtoTimer = h
}

func (t *TcpSocket) stopTimer() {
	if t.rtoTimer == nil {
		return
	}

	t.stack.engine.Cancel(t.rtoTimer)
	t.rtoTimer = nil
}

// Handle processes the retransmission timer.
func (t *TcpSocket) Handle(e sim.Event) error {
	if _, ok := e.(*tcpRtoEvent); !ok {
		log.Panicf("cannot handle event of type %T", e)
	}

	t.rtoTimer = nil
	t.retries++
	if t.retries > t.cfg.MaxRetries {
		t.finish(ErrConnectionTimedOut)
		return nil
	}

	t.rto *= 2
	if t.rto > t.cfg.MaxRto {
		t.rto = t.cfg.MaxRto
	}

	switch t.state {
	case TcpSynSent:
		t.retransmissions++
		t.sendControl(t.iss, TcpSyn)
		t.armTimer()
	case TcpSynReceived:
		t.retransmissions++
		t.sendControl(t.iss, TcpSyn|TcpAck)
		t.armTimer()
	case TcpClosed, TcpListen, TcpFinWait2:
	default:
		t.stack.logger.Debug("tcp retransmission timeout",
			"local", t.local.String(), "remote", t.remote.String(),
			"rto", float64(t.rto))

		t.ssthresh = max(int(t.sndNxt-t.sndUna)/2, 2*t.cfg.SegmentSize)
		t.cwnd = t.cfg.SegmentSize
		t.dupAcks = 0
		t.timing = false
		t.sndNxt = t.sndUna
		if t.finSent && !seqLT(t.finSeq, t.sndUna) {
			t.finSent = false
			t.retransmissions++
		}
		t.output()
	}

	return nil
}

func (s *Ipv4) deliverTcp(pkt *network.Packet, ipHdr Ipv4Header) {
	hdr, ok := pkt.RemoveHeader().(TcpHeader)
	if !ok {
		s.drop(pkt, DropMalformed)
		return
	}

	key := tcpKey{
		local:  netip.AddrPortFrom(ipHdr.Destination, hdr.DestinationPort),
		remote: netip.AddrPortFrom(ipHdr.Source, hdr.SourcePort),
	}

	if sock, found := s.tcpConns[key]; found {
		sock.segmentArrived(hdr, pkt.Size())
		return
	}

	l, found := s.tcpListeners[hdr.DestinationPort]
	if found && hdr.Flags == TcpSyn {
		l.acceptSyn(key, hdr)
		return
	}

	if !hdr.Flags.Has(TcpRst) {
		s.sendReset(key, hdr, pkt.Size())
	}
	s.drop(pkt, DropPortUnreachable)
}

func (s *Ipv4) sendReset(key tcpKey, in TcpHeader, payload int) {
	rst := TcpHeader{
		SourcePort:      key.local.Port(),
		DestinationPort: key.remote.Port(),
		Flags:           TcpRst | TcpAck,
	}

	if in.Flags.Has(TcpAck) {
		rst.Sequence = in.Acknowledgement
	}

	rst.Acknowledgement = in.Sequence + uint32(payload)
	if in.Flags.Has(TcpSyn) {
		rst.Acknowledgement++
	}

	pkt := network.NewPacket(0)
	pkt.AddHeader(rst)
	_ = s.Send(pkt, key.local.Addr(), key.remote.Addr(), ProtocolTcp)
}

func (t *TcpSocket) acceptSyn(key tcpKey, hdr TcpHeader) {
	child := &TcpSocket{
		stack:      t.stack,
		cfg:        t.cfg,
		rto:        t.cfg.InitialRto,
		peerWindow: int(hdr.Window),
		local:      key.local,
		remote:     key.remote,
		listener:   t,
		rcvNxt:     hdr.Sequence + 1,
	}

	t.stack.tcpConns[key] = child
	child.initSend()
	child.state = TcpSynReceived
	child.sendControl(child.iss, TcpSyn|TcpAck)
	child.armTimer()
}

func (t *TcpSocket) segmentArrived(hdr TcpHeader, payload int) {
	if hdr.Flags.Has(TcpRst) {
		t.reset()
		return
	}

	switch t.state {
	case TcpSynSent:
		t.synSentArrived(hdr)
		return
	case TcpSynReceived:
		if hdr.Flags.Has(TcpSyn) {
			t.sendControl(t.iss, TcpSyn|TcpAck)
			return
		}

		if !hdr.Flags.Has(TcpAck) || hdr.Acknowledgement != t.iss+1 {
			return
		}

		t.establish()
		if t.listener != nil && t.listener.onAccept != nil {
			t.listener.onAccept(t)
		}
		t.output()
	case TcpClosed, TcpListen:
		return
	}

	if hdr.Flags.Has(TcpSyn) {
		// Our ACK of the peer's SYN was lost.
		t.sendControl(t.sndNxt, TcpAck)
		return
	}

	if hdr.Flags.Has(TcpAck) {
		t.ackArrived(hdr, payload)
		if t.state == TcpClosed {
			return
		}
	}

	t.dataArrived(hdr, payload)
}

func (t *TcpSocket) synSentArrived(hdr TcpHeader) {
	if !hdr.Flags.Has(TcpSyn|TcpAck) || hdr.Acknowledgement != t.iss+1 {
		return
	}

	t.rcvNxt = hdr.Sequence + 1
	t.peerWindow = int(hdr.Window)
	t.establish()
	t.sendControl(t.sndNxt, TcpAck)

	if t.onConnect != nil {
		t.onConnect(t, nil)
	}

	t.output()
}

func (t *TcpSocket) establish() {
	t.sndUna = t.iss + 1
	t.state = TcpEstablished
	t.retries = 0
	t.rto = t.cfg.InitialRto
	t.stopTimer()
}

func (t *TcpSocket) ackArrived(hdr TcpHeader, payload int) {
	ack := hdr.Acknowledgement
	t.peerWindow = int(hdr.Window)

	if seqLT(t.sndUna, ack) && seqLE(ack, t.sndMax) {
		t.newAck(ack)
		return
	}

	pure := payload == 0 && !hdr.Flags.Has(TcpFin)
	if ack == t.sndUna && t.sndNxt != t.sndUna && pure {
		t.dupAcks++
		if t.dupAcks == 3 {
			t.fastRetransmit()
		}
	}
}

func (t *TcpSocket) newAck(ack uint32) {
	acked := int(ack - t.sndUna)
	t.sndUna = ack
	if seqLT(t.sndNxt, ack) {
		t.sndNxt = ack
	}
	t.dupAcks = 0
	t.retries = 0

	if t.timing && seqLE(t.rttSeq, ack) {
		t.updateRto(t.stack.engine.CurrentTime() - t.rttStart)
		t.timing = false
	}

	if t.cwnd < t.ssthresh {
		t.cwnd += min(acked, t.cfg.SegmentSize)
	} else {
		t.cwnd += max(1, t.cfg.SegmentSize*t.cfg.SegmentSize/t.cwnd)
	}

	t.stopTimer()

	if t.finSent && seqLT(t.finSeq, ack) {
		switch t.state {
		case TcpFinWait1:
			t.state = TcpFinWait2
		case TcpClosing, TcpLastAck:
			t.finish(nil)
			return
		}
	}

	t.output()
}

func (t *TcpSocket) fastRetransmit() {
	t.ssthresh = max(int(t.sndNxt-t.sndUna)/2, 2*t.cfg.SegmentSize)
	t.cwnd = t.ssthresh
	t.timing = false

	n := min(int(int32(t.dataEnd()-t.sndUna)), t.cfg.SegmentSize)
	if n > 0 {
		t.sendData(t.sndUna, n)
	} else if t.finSent {
		t.retransmissions++
		t.sendControl(t.finSeq, TcpFin|TcpAck)
	}
}

func (t *TcpSocket) updateRto(sample sim.VTimeInSec) {
	if !t.hasRtt {
		t.srtt = sample
		t.rttvar = sample / 2
		t.hasRtt = true
	} else {
		diff := t.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		t.rttvar = 0.75*t.rttvar + 0.25*diff
		t.srtt = 0.875*t.srtt + 0.125*sample
	}

	t.rto = t.srtt + 4*t.rttvar
	if t.rto < t.cfg.MinRto {
		t.rto = t.cfg.MinRto
	}
	if t.rto > t.cfg.MaxRto {
		t.rto = t.cfg.MaxRto
	}
}

func (t *TcpSocket) dataArrived(hdr TcpHeader, payload int) {
	fin := hdr.Flags.Has(TcpFin)
	if payload == 0 && !fin {
		return
	}

	if payload > 0 && hdr.Sequence == t.rcvNxt {
		t.rcvNxt += uint32(payload)
		t.received += uint64(payload)
		if t.onRecv != nil {
			t.onRecv(t, payload)
		}
	}

	if fin && hdr.Sequence+uint32(payload) == t.rcvNxt {
		t.rcvNxt++
		t.sendControl(t.sndNxt, TcpAck)
		t.finArrived()
		return
	}

	t.sendControl(t.sndNxt, TcpAck)
}

func (t *TcpSocket) finArrived() {
	switch t.state {
	case TcpEstablished:
		t.state = TcpCloseWait
		if t.onPeerClose != nil {
			t.onPeerClose(t)
		}
	case TcpFinWait1:
		t.state = TcpClosing
	case TcpFinWait2:
		t.finish(nil)
	}
}

func (t *TcpSocket) reset() {
	if t.state == TcpSynSent {
		t.finish(ErrConnectionRefused)
		return
	}

	t.finish(ErrConnectionReset)
}

// finish tears the connection down and reports the outcome.
func (t *TcpSocket) finish(err error) {
	wasConnecting := t.state == TcpSynSent
	wasAccepted := t.state != TcpSynReceived

	t.stopTimer()
	t.state = TcpClosed
	delete(t.stack.tcpConns, tcpKey{local: t.local, remote: t.remote})
	t.release()

	if wasConnecting && err != nil && t.onConnect != nil {
		t.onConnect(t, err)
		return
	}

	if wasAccepted && t.onClose != nil {
		t.onClose(t, err)
	}
}

// release frees the port of a socket that owns one.
func (t *TcpSocket) release() {
	if !t.bound {
		return
	}

	port := t.local.Port()
	if t.stack.tcpPorts[port] == t {
		delete(t.stack.tcpPorts, port)
	}
	t.bound = false
}
