package raknet

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brinebound/raknet/internal/telemetry"
)

// acceptBacklog bounds how many newly-Connected peers can wait for an
// application call to Accept before the listener starts dropping the
// oldest, mirroring the per-connection appRecv backpressure policy.
const acceptBacklog = 64

// offlineGraceTicks scales the interval of sweepLoop, which runs every
// offlineGraceTicks*10 ticks. A connection's dispatch-table entry is
// removed as soon as its run loop exits; no grace period keeps it
// registered after it reaches Offline.
const offlineGraceTicks = 1

// Listener owns the UDP socket and the address->Connection table. It
// runs a small errgroup of goroutines: one reading datagrams and
// demuxing them to the right Connection (or admitting a new one), and
// one sweeping closed connections out of the table.
type Listener struct {
	conn *net.UDPConn
	cfg  Config

	serverGUID uint64

	motdMu sync.RWMutex
	MOTD   *MOTD

	mu          sync.Mutex
	connections map[string]*Connection

	accept chan *Connection

	startOnce sync.Once

	closeOnce sync.Once
	closeCh   chan struct{}
	group     *errgroup.Group

	log *zap.Logger
}

// Listen resolves address and binds a UDP socket, but does not start
// processing datagrams until Start is called.
func Listen(address string, cfg Config) (*Listener, error) {
	cfg = cfg.withDefaults()
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("raknet: resolve %q: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("raknet: listen %q: %w", address, err)
	}

	guid := cfg.ServerGUID
	if guid == 0 {
		guid = rand.Uint64()
	}

	return &Listener{
		conn:        conn,
		cfg:         cfg,
		serverGUID:  guid,
		connections: make(map[string]*Connection),
		accept:      make(chan *Connection, acceptBacklog),
		closeCh:     make(chan struct{}),
		log:         telemetry.L().With(zap.String("listen_addr", conn.LocalAddr().String())),
	}, nil
}

// Start launches the listener's background goroutines. Calling it
// twice returns ErrAlreadyOnline.
func (l *Listener) Start() error {
	already := true
	l.startOnce.Do(func() {
		already = false
		g, ctx := errgroup.WithContext(context.Background())
		l.group = g
		g.Go(func() error { return l.readLoop(ctx) })
		g.Go(func() error { return l.sweepLoop(ctx) })
	})
	if already {
		return ErrAlreadyOnline
	}
	return nil
}

// Accept blocks until a peer completes the handshake and reaches
// Connected, the listener is closed, or ctx is cancelled.
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	select {
	case c, ok := <-l.accept:
		if !ok {
			return nil, ErrClosed
		}
		return c, nil
	case <-l.closeCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the socket and every open connection down.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.conn.Close()
		l.mu.Lock()
		conns := make([]*Connection, 0, len(l.connections))
		for _, c := range l.connections {
			conns = append(conns, c)
		}
		l.connections = make(map[string]*Connection)
		l.mu.Unlock()
		for _, c := range conns {
			_ = c.Close(reasonListenerShutdown)
		}
		if l.group != nil {
			_ = l.group.Wait()
		}
	})
	return err
}

func (l *Listener) motdSnapshot() func() string {
	return func() string {
		if !l.cfg.MCPE {
			return ""
		}
		l.motdMu.RLock()
		defer l.motdMu.RUnlock()
		return l.MOTD.Encode()
	}
}

// readLoop is the single goroutine that owns reads off the UDP socket,
// demuxing each datagram to its Connection's inbound mailbox or
// admitting a new one.
func (l *Listener) readLoop(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.closeCh:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn("read error", zap.Error(err))
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		l.dispatch(addr, data)

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (l *Listener) dispatch(addr *net.UDPAddr, data []byte) {
	key := addr.String()

	l.mu.Lock()
	conn, known := l.connections[key]
	l.mu.Unlock()

	if known {
		select {
		case conn.inbound <- data:
		default:
			l.log.Warn("connection inbound mailbox full, dropping datagram", zap.String("addr", key))
		}
		return
	}

	if len(data) == 0 {
		return
	}
	// Only a fresh offline handshake packet may admit a brand new
	// connection; anything else for an unknown address is dropped.
	if data[0] != idUnconnectedPing && data[0] != idOpenConnectRequest {
		return
	}

	c := newConnection(addr, l.cfg, l.serverGUID, func(b []byte) {
		_, _ = l.conn.WriteToUDP(b, addr)
	}, l.motdSnapshot())

	l.mu.Lock()
	l.connections[key] = c
	l.mu.Unlock()

	go l.runConnection(c)

	c.inbound <- data
}

// runConnection drives one Connection's goroutine, surfacing it to
// Accept once it reaches Connected and removing it from the dispatch
// table once it goes Offline.
func (l *Listener) runConnection(c *Connection) {
	go func() {
		select {
		case <-c.accepted:
			select {
			case l.accept <- c:
			case <-l.closeCh:
			default:
				// Accept backlog full: drop the oldest pending connection
				// rather than block connection processing.
				select {
				case <-l.accept:
				default:
				}
				select {
				case l.accept <- c:
				default:
				}
			}
		case <-c.closedCh:
		}
	}()

	c.run()

	l.mu.Lock()
	delete(l.connections, c.addr.String())
	l.mu.Unlock()
}

// sweepLoop periodically removes every closed connection from the
// table, whether or not it ever reached Connected, as a backstop to
// the removal runConnection does when a run loop exits.
func (l *Listener) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.TickInterval * offlineGraceTicks * 10)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for addr, c := range l.connections {
				if c.IsClosed() {
					delete(l.connections, addr)
				}
			}
			l.mu.Unlock()
		case <-ctx.Done():
			return nil
		case <-l.closeCh:
			return nil
		}
	}
}
