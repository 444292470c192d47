package raknet

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func newTestConnection(t *testing.T, out chan []byte) *Connection {
	t.Helper()
	cfg := DefaultConfig().withDefaults()
	cfg.TickInterval = 5 * time.Millisecond
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
	c := newConnection(addr, cfg, 1, func(b []byte) {
		select {
		case out <- b:
		default:
		}
	}, func() string { return "" })
	go c.run()
	t.Cleanup(func() { _ = c.Close(reasonLocalClose) })
	return c
}

func waitForDatagram(t *testing.T, out chan []byte, timeout time.Duration) []byte {
	t.Helper()
	select {
	case b := <-out:
		return b
	case <-time.After(timeout):
		t.Fatal("timed out waiting for outbound datagram")
		return nil
	}
}

func TestConnectionSendFlushesOnTick(t *testing.T) {
	out := make(chan []byte, 16)
	c := newTestConnection(t, out)
	c.state = StateConnected

	if err := c.Send([]byte("ping"), SendOptions{Reliability: Reliable, Priority: PriorityNormal}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	datagram := waitForDatagram(t, out, 200*time.Millisecond)
	if !isFrameSetHeader(datagram[0]) {
		t.Fatalf("expected a frame set datagram, got first byte 0x%02x", datagram[0])
	}
}

func TestConnectionSendImmediateFlushesWithoutWaitingForTick(t *testing.T) {
	out := make(chan []byte, 16)
	c := newTestConnection(t, out)
	c.state = StateConnected

	if err := c.Send([]byte("urgent"), SendOptions{Reliability: Reliable, Priority: PriorityImmediate}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	datagram := waitForDatagram(t, out, 100*time.Millisecond)
	if !isFrameSetHeader(datagram[0]) {
		t.Fatalf("expected a frame set datagram, got first byte 0x%02x", datagram[0])
	}
}

func TestConnectionDeliversApplicationPayload(t *testing.T) {
	out := make(chan []byte, 16)
	c := newTestConnection(t, out)
	c.state = StateConnected

	fs := &frameSet{sequenceNumber: 0, frames: []*frame{
		{reliability: ReliableOrdered, reliableIndex: 0, orderIndex: 0, payload: []byte("hello")},
	}}
	c.inbound <- fs.encode()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, err := c.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload) != "hello" {
		t.Errorf("expected 'hello', got %q", payload)
	}
}

func TestConnectionCloseUnblocksRecv(t *testing.T) {
	out := make(chan []byte, 16)
	c := newTestConnection(t, out)
	c.state = StateConnected

	if err := c.Close(reasonLocalClose); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Recv(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestConnectionTimeoutClosesConnection(t *testing.T) {
	out := make(chan []byte, 16)
	cfg := DefaultConfig().withDefaults()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.ConnectionTimeout = 20 * time.Millisecond
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5001}
	c := newConnection(addr, cfg, 1, func(b []byte) {
		select {
		case out <- b:
		default:
		}
	}, func() string { return "" })
	c.state = StateConnected
	go c.run()
	t.Cleanup(func() { _ = c.Close(reasonLocalClose) })

	select {
	case <-c.closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected the connection to time out and close")
	}
}
