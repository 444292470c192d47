package raknet

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brinebound/raknet/internal/telemetry"
)

// malformedBudget/malformedWindow bound how many malformed datagrams a
// Connected peer may send: more than malformedBudget within
// malformedWindow triggers a disconnect.
const (
	malformedBudget = 5
	malformedWindow = time.Second
)

type sendRequest struct {
	payload []byte
	opts    SendOptions
	result  chan error
}

// Connection is the per-peer state machine: one goroutine (run) owns
// all of its mutable state, driven by inbound datagrams, application
// Send calls, and the tick timer. External callers only ever touch it
// through Recv/Send/Close/IsClosed, which all hand off to that
// goroutine via channels.
type Connection struct {
	id          uuid.UUID // correlates log lines across a reconnect at the same address
	addr        *net.UDPAddr
	cfg         Config
	serverGUID  uint64
	clientGUID  uint64
	mtu         uint16
	state       connState
	startTime   time.Time
	lastRecv    time.Time
	closeReason string

	sendQ *sendQueue
	recvQ *recvQueue

	writeOut func([]byte) // encode -> hand to listener's writer
	motd     func() string

	inbound  chan []byte
	appSend  chan sendRequest
	appRecv  chan []byte
	accepted chan struct{} // closed once, when Connected is reached

	stopOnce sync.Once
	stopCh   chan struct{}
	closedCh chan struct{} // closed once the run loop exits

	malformedCount  int
	malformedWindow time.Time

	log *zap.Logger
}

func newConnection(addr *net.UDPAddr, cfg Config, serverGUID uint64, writeOut func([]byte), motd func() string) *Connection {
	now := time.Now()
	id := uuid.New()
	c := &Connection{
		id:         id,
		addr:       addr,
		cfg:        cfg,
		serverGUID: serverGUID,
		mtu:        cfg.MaxMTU,
		state:      StateUnidentified,
		startTime:  now,
		lastRecv:   now,
		sendQ:      newSendQueue(cfg.MaxMTU, cfg.InitialRTO),
		recvQ:      newRecvQueue(cfg.InitialRTO),
		writeOut:   writeOut,
		motd:       motd,
		inbound:    make(chan []byte, 128),
		appSend:    make(chan sendRequest),
		appRecv:    make(chan []byte, 256),
		accepted:   make(chan struct{}),
		stopCh:     make(chan struct{}),
		closedCh:   make(chan struct{}),
		log:        telemetry.L().With(zap.String("addr", addr.String()), zap.String("conn_id", id.String())),
	}
	return c
}

// RemoteAddr returns the peer's address.
func (c *Connection) RemoteAddr() *net.UDPAddr { return c.addr }

// IsClosed reports whether the connection has reached Offline.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.closedCh:
		return true
	default:
		return false
	}
}

// Recv blocks until an application payload is available, the
// connection closes, or ctx is cancelled.
func (c *Connection) Recv(ctx context.Context) ([]byte, error) {
	for {
		select {
		case payload, ok := <-c.appRecv:
			if ok {
				return payload, nil
			}
			return nil, c.closedError()
		case <-c.closedCh:
			// Drain whatever is left before reporting closed.
			select {
			case payload, ok := <-c.appRecv:
				if ok {
					return payload, nil
				}
			default:
			}
			return nil, c.closedError()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Connection) closedError() error {
	reason := c.closeReason
	if reason == "" {
		reason = reasonLocalClose
	}
	return &DisconnectError{Addr: c.addr.String(), Reason: reason}
}

// DisconnectError wraps ErrClosed with the reason a connection ended,
// so callers can both errors.Is(err, ErrClosed) and inspect Reason.
type DisconnectError struct {
	Addr   string
	Reason string
}

func (e *DisconnectError) Error() string {
	return "raknet: " + e.Addr + " closed: " + e.Reason
}

func (e *DisconnectError) Unwrap() error { return ErrClosed }

// Send enqueues payload for delivery under the given options. It
// blocks if the connection's internal command channel is saturated,
// applying cooperative backpressure, but never blocks forever: a
// closed connection returns ErrClosed immediately.
func (c *Connection) Send(payload []byte, opts SendOptions) error {
	req := sendRequest{payload: payload, opts: opts, result: make(chan error, 1)}
	select {
	case c.appSend <- req:
	case <-c.closedCh:
		return c.closedError()
	}
	select {
	case err := <-req.result:
		return err
	case <-c.closedCh:
		return c.closedError()
	}
}

// Close requests the connection move to Offline immediately, as if
// the application initiated a disconnect.
func (c *Connection) Close(reason string) error {
	if reason == "" {
		reason = reasonLocalClose
	}
	c.stopOnce.Do(func() {
		c.closeReason = reason
		close(c.stopCh)
	})
	return nil
}

// run is the connection's owning goroutine: it alone mutates the
// connection's state, fed by inbound datagrams, application Send
// requests, and the tick timer.
func (c *Connection) run() {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	defer close(c.closedCh)
	defer func() {
		c.log.Debug("connection closed", zap.String("reason", c.closeReason), zap.Duration("lifetime", time.Since(c.startTime)))
	}()

	for {
		select {
		case data, ok := <-c.inbound:
			if !ok {
				c.transitionOffline(reasonListenerShutdown)
				return
			}
			c.onDatagram(data, time.Now())
		case req := <-c.appSend:
			req.result <- c.onAppSend(req.payload, req.opts)
		case now := <-ticker.C:
			c.onTick(now)
		case <-c.stopCh:
			if c.state != StateOffline {
				c.sendDisconnectNotification()
				c.state = StateOffline
			}
		}
		if c.state == StateOffline {
			c.drainRemaining()
			return
		}
	}
}

func (c *Connection) sendDisconnectNotification() {
	w := newWriter()
	w.writeByte(idDisconnectNotification)
	_, _ = c.sendQ.push(w.bytes(), ReliableOrdered, 0, PriorityImmediate)
	c.flushNow(time.Now())
}

func (c *Connection) drainRemaining() {
	close(c.appRecv)
}

func (c *Connection) onAppSend(payload []byte, opts SendOptions) error {
	if c.state == StateOffline {
		return c.closedError()
	}
	frames, err := c.sendQ.push(payload, opts.Reliability, opts.OrderChannel, opts.Priority)
	if err != nil {
		return err
	}
	if opts.Priority == PriorityImmediate && len(frames) > 0 {
		c.flushNow(time.Now())
	}
	return nil
}

func (c *Connection) flushNow(now time.Time) {
	for _, ofs := range c.sendQ.flush(now) {
		c.writeOut(ofs.encoded)
	}
}

// onTick drives spec.md §4.E's tick duties: send queue flush, ACK
// emission, RTO resends, and the receive-timeout check. It is the
// only place queued Normal/Low traffic and accumulated ACKs are sent;
// Immediate-priority pushes (including online handshake replies),
// offline handshake replies, and the NAK for a newly detected gap are
// written as they arise.
func (c *Connection) onTick(now time.Time) {
	if now.Sub(c.lastRecv) >= c.cfg.ConnectionTimeout {
		c.log.Info("connection timed out")
		c.closeReason = reasonTimeout
		c.state = StateOffline
		return
	}

	if exhausted := c.sendQ.resendDue(now, c.cfg.MaxResendCount); exhausted {
		c.log.Warn("frame exceeded max resend count, dropping connection")
		c.closeReason = reasonStale
		c.state = StateOffline
		return
	}

	c.flushNow(now)

	if ack := c.recvQ.drainAck(); ack != nil {
		c.writeOut(ack)
	}
	if nak := c.recvQ.drainNak(now); nak != nil {
		c.writeOut(nak)
	}
}

// onDatagram implements the receive half of spec.md §4.E/§4.F: offline
// packets are handled unframed; FrameSets are reassembled and their
// payloads dispatched either to the handshake stepper (for online
// control packets) or to the application.
func (c *Connection) onDatagram(data []byte, now time.Time) {
	if len(data) == 0 {
		return
	}
	c.lastRecv = now

	switch {
	case data[0] == idACK:
		c.handleAckDatagram(data, now)
	case data[0] == idNACK:
		c.handleNakDatagram(data)
	case isFrameSetHeader(data[0]):
		c.handleFrameSet(data, now)
	default:
		c.handleOfflinePacket(data, now)
	}
}

func (c *Connection) handleAckDatagram(data []byte, now time.Time) {
	_, records, err := decodeAckDatagram(data)
	if err != nil {
		c.noteMalformed(now)
		return
	}
	for _, rec := range records {
		for s := rec.min; ; s++ {
			c.sendQ.onACK(s, now)
			if s == rec.max {
				break
			}
		}
	}
}

func (c *Connection) handleNakDatagram(data []byte) {
	_, records, err := decodeAckDatagram(data)
	if err != nil {
		c.noteMalformed(time.Now())
		return
	}
	for _, rec := range records {
		for s := rec.min; ; s++ {
			c.sendQ.onNAK(s)
			if s == rec.max {
				break
			}
		}
	}
}

func (c *Connection) handleFrameSet(data []byte, now time.Time) {
	fs, err := decodeFrameSet(data)
	if err != nil {
		c.noteMalformed(now)
		return
	}
	res := c.recvQ.ingest(fs, now)
	if res.immediateNak != nil {
		c.writeOut(res.immediateNak)
	}
	if res.protocolViolation {
		c.log.Warn("ordered channel reorder buffer overflowed")
		c.closeReason = reasonProtocolViolation
		c.state = StateOffline
		return
	}
	for _, payload := range c.recvQ.drainMessages() {
		c.handlePayload(payload, now)
	}
}

func (c *Connection) handlePayload(payload []byte, now time.Time) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case idConnectionRequest, idNewIncomingConnection, idConnectedPing, idDisconnectNotification:
		c.stepOnline(payload[0], payload[1:], now)
	default:
		c.deliverToApp(payload)
	}
}

func (c *Connection) stepOnline(packetID byte, body []byte, now time.Time) {
	out, err := stepHandshake(handshakeIn{
		state:      c.state,
		packetID:   packetID,
		body:       body,
		from:       c.addr,
		cfg:        c.cfg,
		serverGUID: c.serverGUID,
		clientGUID: c.clientGUID,
		now:        now,
	}, c.mtu)
	if err != nil {
		c.noteMalformed(now)
		return
	}
	c.applyHandshakeOut(out, now, true)
}

func (c *Connection) handleOfflinePacket(data []byte, now time.Time) {
	r := newReader(data)
	packetID, _ := r.byte()
	out, err := stepHandshake(handshakeIn{
		state:      c.state,
		packetID:   packetID,
		body:       data[1:],
		from:       c.addr,
		cfg:        c.cfg,
		serverGUID: c.serverGUID,
		clientGUID: c.clientGUID,
		now:        now,
		motd:       c.motd,
	}, requestedMTUFromPadding(data))
	if err != nil {
		c.noteMalformed(now)
		return
	}
	c.applyHandshakeOut(out, now, false)
}

// requestedMTUFromPadding recovers the MTU a client is probing for
// from the padded length of its OpenConnectRequest, per spec.md §8's
// scenario 1 (the client pads the request to the MTU it wants to
// use) and original_source/offline.rs's OpenConnectRequest::compose,
// which derives mtu_size from the received buffer's length.
func requestedMTUFromPadding(data []byte) uint16 {
	n := len(data) + udpIPOverhead
	if n > 0xffff {
		n = 0xffff
	}
	return uint16(n)
}

func (c *Connection) applyHandshakeOut(out handshakeOut, now time.Time, online bool) {
	c.state = out.nextState
	if out.clientGUID != 0 {
		c.clientGUID = out.clientGUID
	}
	if out.mtu != 0 {
		c.mtu = out.mtu
		c.sendQ.mtu = out.mtu
	}
	for _, pkt := range out.outbound {
		if online {
			_, _ = c.sendQ.push(pkt, ReliableOrdered, 0, PriorityImmediate)
		} else {
			c.writeOut(pkt)
		}
	}
	if online {
		c.flushNow(now)
	}
	if out.connected {
		select {
		case <-c.accepted:
		default:
			close(c.accepted)
		}
	}
}

func (c *Connection) deliverToApp(payload []byte) {
	select {
	case c.appRecv <- payload:
		return
	default:
	}
	// Application event queue full: drop the oldest rather than block
	// the network-processing goroutine (spec.md §7).
	select {
	case <-c.appRecv:
	default:
	}
	select {
	case c.appRecv <- payload:
	default:
	}
}

func (c *Connection) noteMalformed(now time.Time) {
	if now.Sub(c.malformedWindow) > malformedWindow {
		c.malformedWindow = now
		c.malformedCount = 0
	}
	c.malformedCount++
	if c.state == StateConnected && c.malformedCount > malformedBudget {
		c.log.Warn("too many malformed packets, disconnecting")
		c.closeReason = reasonProtocolViolation
		c.state = StateOffline
	}
}

func (c *Connection) transitionOffline(reason string) {
	if c.state != StateOffline {
		c.closeReason = reason
		c.state = StateOffline
	}
}
