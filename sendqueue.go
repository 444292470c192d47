package raknet

import (
	"time"

	"golang.org/x/time/rate"
)

// Priority controls how eagerly a pushed payload is flushed.
type Priority int

const (
	PriorityImmediate Priority = iota
	PriorityNormal
	PriorityLow
	PriorityDrop
)

// SendOptions configures a single Connection.Send call.
type SendOptions struct {
	Reliability  Reliability
	OrderChannel uint8
	Priority     Priority
}

// frameOverhead is the largest possible per-frame header (flags and
// length, reliable, sequenced, order and split fields) plus the
// FrameSet header and the assumed UDP/IP overhead. Used by the send
// queue to decide when a payload must be fragmented, so that a single
// frame always fits in a FrameSet within the flush budget.
const frameOverhead = 3 + 3 + 3 + 4 + 10 + frameSetHeaderOverhead + udpIPOverhead

// outboundFrameSet is what the send queue hands to its owner for
// actual transmission: the encoded bytes plus the reliable frames it
// carries (for resend tracking).
type outboundFrameSet struct {
	sequenceNumber uint32
	encoded        []byte
	frames         []*frame
}

// sendQueue buffers application payloads, fragments them to fit the
// connection's MTU, assigns reliability metadata, and batches frames
// into FrameSets on tick or overflow.
type sendQueue struct {
	mtu uint16

	nextReliableIndex  uint32
	nextOrderIndex     [maxChannels]uint32
	nextSequenceIndex  [maxChannels]uint32
	nextSequenceNumber uint32
	nextSplitID        uint16

	normal []*frame
	low    []*frame

	resend *resendQueue
	rto    *rtoEstimator

	// lowLimiter throttles how much Low-priority traffic gets batched
	// per tick relative to Normal, so a sustained burst of Low traffic
	// can't starve Normal-priority sends.
	lowLimiter *rate.Limiter
}

func newSendQueue(mtu uint16, initialRTO time.Duration) *sendQueue {
	return &sendQueue{
		mtu:        mtu,
		resend:     newResendQueue(),
		rto:        newRTOEstimator(initialRTO),
		lowLimiter: rate.NewLimiter(rate.Limit(64), 64), // 64 low-priority frames/sec burst
	}
}

// push splits payload into one or more frames, assigns reliability
// metadata, and enqueues them at the given priority. It reports the
// frames it created so the caller can trigger an immediate flush for
// PriorityImmediate sends.
func (q *sendQueue) push(payload []byte, reliability Reliability, orderChannel uint8, priority Priority) ([]*frame, error) {
	if priority == PriorityDrop {
		return nil, nil
	}
	chunk := int(q.mtu) - frameOverhead
	if chunk <= 0 {
		return nil, ErrBadMTU
	}

	var frames []*frame
	if len(payload) <= chunk {
		frames = []*frame{{reliability: reliability, payload: payload}}
	} else {
		// Every fragment of a split message must itself be reliable,
		// so non-reliable large payloads are promoted to Reliable to
		// make reassembly possible at all.
		fragReliability := reliability
		if !fragReliability.isReliable() {
			fragReliability = Reliable
		}
		count := (len(payload) + chunk - 1) / chunk
		if count > 0xffff {
			return nil, ErrPayloadTooLarge
		}
		splitID := q.nextSplitID
		q.nextSplitID++
		frames = make([]*frame, 0, count)
		for i := 0; i < count; i++ {
			start := i * chunk
			end := start + chunk
			if end > len(payload) {
				end = len(payload)
			}
			frames = append(frames, &frame{
				reliability: fragReliability,
				fragmented:  true,
				split: splitInfo{
					count: uint32(count),
					id:    splitID,
					index: uint32(i),
				},
				payload: payload[start:end],
			})
		}
	}

	// order_index/sequence_index identify the whole message, not each
	// fragment: every fragment of a split message shares one value so
	// the receiver's reassembled payload lands at the index the
	// ordering/sequencing channel actually expects.
	q.assignMessageIndex(frames, orderChannel)
	for _, f := range frames {
		q.assignReliableIndex(f)
	}

	switch priority {
	case PriorityLow:
		q.low = append(q.low, frames...)
	default:
		q.normal = append(q.normal, frames...)
	}
	return frames, nil
}

// assignMessageIndex stamps every frame belonging to one pushed
// message with the same order_channel and order_index/sequence_index,
// drawing a single index from the per-channel counter regardless of
// how many fragments the message was split into.
func (q *sendQueue) assignMessageIndex(frames []*frame, orderChannel uint8) {
	if len(frames) == 0 {
		return
	}
	reliability := frames[0].reliability
	switch {
	case reliability.isOrdered():
		orderIndex := q.nextOrderIndex[orderChannel]
		q.nextOrderIndex[orderChannel]++
		for _, f := range frames {
			f.orderChannel = orderChannel
			f.orderIndex = orderIndex
		}
	case reliability.isSequenced():
		sequenceIndex := q.nextSequenceIndex[orderChannel]
		q.nextSequenceIndex[orderChannel]++
		for _, f := range frames {
			f.orderChannel = orderChannel
			f.sequenceIndex = sequenceIndex
		}
	}
}

func (q *sendQueue) assignReliableIndex(f *frame) {
	if f.reliability.isReliable() {
		f.reliableIndex = q.nextReliableIndex
		q.nextReliableIndex++
	}
}

// flush greedily batches pending frames into FrameSets no larger than
// the connection's MTU less the UDP/IP overhead, Normal before Low (Low yields to Normal when
// both are present), tracking reliable FrameSets in the resend map
// before returning them for transmission.
func (q *sendQueue) flush(now time.Time) []outboundFrameSet {
	var out []outboundFrameSet
	budget := int(q.mtu) - udpIPOverhead

	drain := func(src *[]*frame) {
		for len(*src) > 0 {
			fs := &frameSet{sequenceNumber: q.nextSequenceNumber}
			size := frameSetHeaderOverhead
			var taken int
			for taken < len(*src) {
				f := (*src)[taken]
				fsize := f.size()
				if len(fs.frames) > 0 && size+fsize > budget {
					break
				}
				fs.frames = append(fs.frames, f)
				size += fsize
				taken++
			}
			*src = (*src)[taken:]
			q.nextSequenceNumber++
			encoded := fs.encode()
			q.resend.track(fs.sequenceNumber, fs.frames, now)
			out = append(out, outboundFrameSet{
				sequenceNumber: fs.sequenceNumber,
				encoded:        encoded,
				frames:         fs.frames,
			})
		}
	}

	drain(&q.normal)
	if q.lowLimiter.AllowN(now, len(q.low)) || len(q.low) == 0 {
		drain(&q.low)
	} else {
		// Budget exceeded: drain as many frames as the limiter has
		// tokens for, charging them against it, and leave the remainder
		// for a later tick rather than stalling Low entirely.
		allowed := int(q.lowLimiter.TokensAt(now))
		if allowed > len(q.low) {
			allowed = len(q.low)
		}
		if allowed > 0 {
			q.lowLimiter.AllowN(now, allowed)
		}
		head := q.low[:allowed]
		q.low = q.low[allowed:]
		drain(&head)
	}
	return out
}

// onNAK looks up the frames sent as seq and re-enqueues them at Normal
// priority under a fresh sequence number on the next flush, preserving
// reliable_index. A NAK for an unknown sequence number is a no-op.
func (q *sendQueue) onNAK(seq uint32) {
	frames := q.resend.framesForResend(seq)
	if frames == nil {
		return
	}
	q.normal = append(frames, q.normal...)
}

// onACK clears every FrameSet named, feeding the observed latency back
// into the RTO estimator for each reliable frame it carried.
func (q *sendQueue) onACK(seq uint32, now time.Time) {
	for _, idx := range q.resend.bySequence[seq] {
		if p, ok := q.resend.byReliableIndex[idx]; ok {
			q.rto.observe(now.Sub(p.lastSentAt))
		}
	}
	q.resend.ack(seq)
}

// resendDue re-batches any frame whose RTO has elapsed. It reports
// exhausted=true if a frame exceeded the configured retry budget,
// signaling the caller to fail the connection as stale.
func (q *sendQueue) resendDue(now time.Time, maxResendCount int) (exhausted bool) {
	due, exhausted := q.resend.dueForRTOResend(now, q.rto.rto(), maxResendCount)
	if len(due) > 0 {
		q.normal = append(due, q.normal...)
	}
	return exhausted
}
