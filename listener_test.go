package raknet

import (
	"context"
	"net"
	"testing"
	"time"
)

// testClient is a hand-rolled RakNet peer used only to drive Listener
// through a real handshake over loopback UDP.
type testClient struct {
	t    *testing.T
	conn *net.UDPConn
}

func newTestClient(t *testing.T, serverAddr *net.UDPAddr) *testClient {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, serverAddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(b []byte) {
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) recv() []byte {
	c.t.Helper()
	buf := make([]byte, 2048)
	n, err := c.conn.Read(buf)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return append([]byte(nil), buf[:n]...)
}

// recvApplicationPayload reads datagrams until it sees a FrameSet carrying an
// application payload (skipping ACK/NAK traffic and handshake
// packets), returning the decoded application bytes.
func (c *testClient) recvApplicationPayload() []byte {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		data := c.recv()
		if !isFrameSetHeader(data[0]) {
			continue
		}
		fs, err := decodeFrameSet(data)
		if err != nil {
			c.t.Fatalf("decodeFrameSet: %v", err)
		}
		c.ack(fs.sequenceNumber)
		for _, f := range fs.frames {
			switch f.payload[0] {
			case idConnectionRequestAccepted, idConnectedPong:
				continue
			default:
				return f.payload
			}
		}
	}
	c.t.Fatal("never received an application payload")
	return nil
}

func (c *testClient) ack(seq uint32) {
	c.send(encodeAckDatagram(idACK, encodeAckSet([]uint32{seq})))
}

func (c *testClient) sendReliableFrame(localAddr *net.UDPAddr, seq uint32, payload []byte) {
	fs := &frameSet{sequenceNumber: seq, frames: []*frame{
		{reliability: ReliableOrdered, reliableIndex: seq, orderIndex: seq, payload: payload},
	}}
	c.send(fs.encode())
}

func TestListenerFullHandshakeAndEcho(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.ConnectionTimeout = 5 * time.Second

	l, err := Listen("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	serverAddr := l.conn.LocalAddr().(*net.UDPAddr)
	client := newTestClient(t, serverAddr)
	clientAddr := client.conn.LocalAddr().(*net.UDPAddr)

	client.send(buildOpenConnectRequest(cfg.RakNetProtocolVersion, 0))
	reply := client.recv()
	if reply[0] != idOpenConnectReply {
		t.Fatalf("expected OpenConnectReply, got 0x%02x", reply[0])
	}

	client.send(buildSessionInfoRequest(clientAddr, cfg.MaxMTU, 555))
	reply = client.recv()
	if reply[0] != idSessionInfoReply {
		t.Fatalf("expected SessionInfoReply, got 0x%02x", reply[0])
	}

	client.sendReliableFrame(clientAddr, 0, buildConnectionRequest(555, 1000))
	reply = client.recv()
	if !isFrameSetHeader(reply[0]) {
		t.Fatalf("expected a frame set carrying ConnectionRequestAccepted, got 0x%02x", reply[0])
	}
	fs, err := decodeFrameSet(reply)
	if err != nil {
		t.Fatalf("decodeFrameSet: %v", err)
	}
	client.ack(fs.sequenceNumber)
	if fs.frames[0].payload[0] != idConnectionRequestAccepted {
		t.Fatalf("expected ConnectionRequestAccepted, got 0x%02x", fs.frames[0].payload[0])
	}

	client.sendReliableFrame(clientAddr, 1, buildNewIncomingConnection())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if err := conn.Send([]byte("welcome"), SendOptions{Reliability: ReliableOrdered, Priority: PriorityImmediate}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	payload := client.recvApplicationPayload()
	if string(payload) != "welcome" {
		t.Errorf("expected 'welcome', got %q", payload)
	}

	client.sendReliableFrame(clientAddr, 2, []byte("hi server"))
	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()
	got, err := conn.Recv(recvCtx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "hi server" {
		t.Errorf("expected 'hi server', got %q", got)
	}
}
