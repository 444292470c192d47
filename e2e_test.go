package raknet

import (
	"bytes"
	"testing"
	"time"
)

// TestSendRecvFragmentedOrderedRoundTrip drives a >MTU ReliableOrdered
// payload through the real send path (push -> flush -> wire encode)
// and the real receive path (wire decode -> ingest -> drainMessages),
// guarding invariant §8.7: a fragmented message surfaces exactly once,
// intact, and in order.
func TestSendRecvFragmentedOrderedRoundTrip(t *testing.T) {
	const mtu = 1400
	sq := newSendQueue(mtu, 500*time.Millisecond)
	chunk := int(mtu) - frameOverhead

	payload := make([]byte, chunk*4+37) // forces 5 fragments
	for i := range payload {
		payload[i] = byte(i)
	}

	frames, err := sq.push(payload, ReliableOrdered, 0, PriorityNormal)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	wantFrames := (len(payload) + chunk - 1) / chunk
	if len(frames) != wantFrames {
		t.Fatalf("expected %d frames, got %d", wantFrames, len(frames))
	}
	for _, f := range frames {
		if f.orderIndex != frames[0].orderIndex || f.orderChannel != frames[0].orderChannel {
			t.Fatalf("expected every fragment to share one order_index/order_channel, got %+v", f)
		}
	}

	sets := sq.flush(time.Now())

	rq := newRecvQueue(100 * time.Millisecond)
	now := time.Now()
	for _, ofs := range sets {
		fs, err := decodeFrameSet(ofs.encoded)
		if err != nil {
			t.Fatalf("decodeFrameSet: %v", err)
		}
		rq.ingest(fs, now)
	}

	got := rq.drainMessages()
	if len(got) != 1 {
		t.Fatalf("expected exactly one reassembled payload, got %d", len(got))
	}
	if !bytes.Equal(got[0], payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d bytes", len(got[0]), len(payload))
	}
}

// TestSendRecvSequencedPerChannel guards §8.4 and the wire fix for
// sequenced frames carrying order_channel: two sequenced messages on
// distinct channels must not collide into SequenceChannel 0 on decode.
func TestSendRecvSequencedPerChannel(t *testing.T) {
	sq := newSendQueue(1400, 500*time.Millisecond)

	framesCh3, err := sq.push([]byte("on-three"), ReliableSequenced, 3, PriorityNormal)
	if err != nil {
		t.Fatalf("push ch3: %v", err)
	}
	if framesCh3[0].orderChannel != 3 {
		t.Fatalf("expected frame stamped with channel 3, got %d", framesCh3[0].orderChannel)
	}

	sets := sq.flush(time.Now())
	if len(sets) != 1 {
		t.Fatalf("expected 1 frame set, got %d", len(sets))
	}

	fs, err := decodeFrameSet(sets[0].encoded)
	if err != nil {
		t.Fatalf("decodeFrameSet: %v", err)
	}
	if len(fs.frames) != 1 {
		t.Fatalf("expected 1 frame on the wire, got %d", len(fs.frames))
	}
	if fs.frames[0].orderChannel != 3 {
		t.Fatalf("expected order_channel 3 to survive the wire round trip, got %d", fs.frames[0].orderChannel)
	}

	rq := newRecvQueue(100 * time.Millisecond)
	rq.ingest(fs, time.Now())
	got := rq.drainMessages()
	if len(got) != 1 || string(got[0]) != "on-three" {
		t.Fatalf("expected channel-3 sequenced payload delivered, got %v", got)
	}
	if rq.sequence[0].seenAny {
		t.Error("expected SequenceChannel 0 to be untouched by a channel-3 send")
	}
}
