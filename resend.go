package raknet

import "time"

// rtoEstimator tracks a smoothed round-trip time and derives the
// retransmission timeout from it, using the same EWMA shape as TCP:
// SRTT/RTTVar updated with alpha=1/8, RTO = SRTT + 4*RTTVar, clamped
// to a sane range so one fast or slow sample can't swing it to an
// extreme.
type rtoEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	started bool
}

func newRTOEstimator(initial time.Duration) *rtoEstimator {
	return &rtoEstimator{srtt: initial, rttvar: initial / 2}
}

func (e *rtoEstimator) observe(sample time.Duration) {
	if !e.started {
		e.srtt = sample
		e.rttvar = sample / 2
		e.started = true
		return
	}
	delta := e.srtt - sample
	if delta < 0 {
		delta = -delta
	}
	e.rttvar = (3*e.rttvar + delta) / 4
	e.srtt = (7*e.srtt + sample) / 8
}

func (e *rtoEstimator) rto() time.Duration {
	rto := e.srtt + 4*e.rttvar
	const min = 50 * time.Millisecond
	const max = 3000 * time.Millisecond
	if rto < min {
		return min
	}
	if rto > max {
		return max
	}
	return rto
}

// pendingReliable is a reliable frame awaiting acknowledgement,
// tracked by reliable_index so it can be matched against an ACK/NAK
// regardless of which sequence_number it was last sent under.
type pendingReliable struct {
	frame      *frame
	lastSentAt time.Time
	sendCount  int
}

// resendQueue tracks pending reliable frames and a sequence_number ->
// []reliable_index mapping, so a NAK on a FrameSet sequence number can
// be translated back to the reliable frames it carried even after
// later retransmission moved those frames under a new sequence
// number.
type resendQueue struct {
	byReliableIndex map[uint32]*pendingReliable
	bySequence      map[uint32][]uint32 // sequence_number -> reliable indices
}

func newResendQueue() *resendQueue {
	return &resendQueue{
		byReliableIndex: make(map[uint32]*pendingReliable),
		bySequence:      make(map[uint32][]uint32),
	}
}

// track records that seq carries the given reliable frames, sent at
// now. A frame already pending keeps its send count, so retransmissions
// accumulate toward maxResendCount.
func (q *resendQueue) track(seq uint32, frames []*frame, now time.Time) {
	indices := make([]uint32, 0, len(frames))
	for _, f := range frames {
		if !f.reliability.isReliable() {
			continue
		}
		if p, ok := q.byReliableIndex[f.reliableIndex]; ok {
			p.lastSentAt = now
		} else {
			q.byReliableIndex[f.reliableIndex] = &pendingReliable{frame: f, lastSentAt: now, sendCount: 1}
		}
		indices = append(indices, f.reliableIndex)
	}
	if len(indices) > 0 {
		q.bySequence[seq] = indices
	}
}

// ack clears every reliable frame carried by seq; it is a no-op if seq
// is unknown (already acked, or carried no reliable frames).
func (q *resendQueue) ack(seq uint32) {
	for _, idx := range q.bySequence[seq] {
		delete(q.byReliableIndex, idx)
	}
	delete(q.bySequence, seq)
}

// framesForResend returns the frames sent under seq, for the caller to
// re-batch under a fresh sequence number. It is a no-op (nil) for an
// unknown sequence number.
func (q *resendQueue) framesForResend(seq uint32) []*frame {
	indices := q.bySequence[seq]
	if len(indices) == 0 {
		return nil
	}
	out := make([]*frame, 0, len(indices))
	for _, idx := range indices {
		if p, ok := q.byReliableIndex[idx]; ok {
			out = append(out, p.frame)
		}
	}
	delete(q.bySequence, seq)
	return out
}

// dueForRTOResend returns every pending frame whose RTO has elapsed,
// bumping their send counts and resetting lastSentAt to now. If a due
// frame has already been sent more than maxResendCount times, it stops
// and reports exhausted=true so the caller can fail the connection.
func (q *resendQueue) dueForRTOResend(now time.Time, rto time.Duration, maxResendCount int) (resend []*frame, exhausted bool) {
	for _, p := range q.byReliableIndex {
		if now.Sub(p.lastSentAt) < rto {
			continue
		}
		if p.sendCount > maxResendCount {
			return resend, true
		}
		p.sendCount++
		p.lastSentAt = now
		resend = append(resend, p.frame)
	}
	return resend, false
}
