package raknet

import "time"

// recvQueue tracks FrameSet sequence numbers (to emit ACK/NAK),
// deduplicates and reassembles frames, and delivers payloads in the
// order their reliability class promises.
type recvQueue struct {
	highestSeqSeen uint32
	seenAnySeq     bool
	receivedSeqs   map[uint32]struct{}

	ackPending map[uint32]struct{}
	nakPending map[uint32]time.Time
	nakExpiry  time.Duration

	reliableSeen *reliableWindow
	fragments    *fragmentAssemblies
	order        [maxChannels]*orderChannel
	sequence     [maxChannels]*sequenceChannel

	messages [][]byte
}

// reliableWindowSize bounds how many in-flight reliable frames a
// connection tracks for dedup purposes at once.
const reliableWindowSize = 4096

func newRecvQueue(nakExpiry time.Duration) *recvQueue {
	q := &recvQueue{
		receivedSeqs: make(map[uint32]struct{}),
		ackPending:   make(map[uint32]struct{}),
		nakPending:   make(map[uint32]time.Time),
		nakExpiry:    nakExpiry,
		reliableSeen: newReliableWindow(reliableWindowSize),
		fragments:    newFragmentAssemblies(),
	}
	for i := range q.order {
		q.order[i] = newOrderChannel()
		q.sequence[i] = newSequenceChannel()
	}
	return q
}

// ingestResult reports what the caller should do after handing a
// FrameSet to the recv queue.
type ingestResult struct {
	protocolViolation bool     // orderedBufferLimit exceeded; caller should disconnect
	immediateNak      []byte   // non-nil if a gap was just detected and should be NAKed now
	newlyMissing      []uint32 // sequence numbers newly flagged as missing, for logging
}

// ingest processes one inbound FrameSet: sequence-number tracking
// (producing NAKs for any gap), per-frame dedup/reassembly/ordering,
// and ACK accumulation. Deliverable payloads are appended to the
// internal queue for drainMessages to collect.
func (q *recvQueue) ingest(fs *frameSet, now time.Time) ingestResult {
	// Duplicate FrameSet: still ACKed, but its frames are not
	// reprocessed or surfaced twice.
	if _, dup := q.receivedSeqs[fs.sequenceNumber]; dup {
		q.ackPending[fs.sequenceNumber] = struct{}{}
		return ingestResult{}
	}
	q.receivedSeqs[fs.sequenceNumber] = struct{}{}
	q.ackPending[fs.sequenceNumber] = struct{}{}

	var newlyMissing []uint32
	if !q.seenAnySeq {
		q.highestSeqSeen = fs.sequenceNumber
		q.seenAnySeq = true
	} else if seq24Less(q.highestSeqSeen, fs.sequenceNumber) {
		for s := q.highestSeqSeen + 1; s != fs.sequenceNumber; s++ {
			if _, already := q.receivedSeqs[s]; already {
				continue
			}
			if _, pending := q.nakPending[s]; !pending {
				q.nakPending[s] = now
				newlyMissing = append(newlyMissing, s)
			}
		}
		q.highestSeqSeen = fs.sequenceNumber
	}
	delete(q.nakPending, fs.sequenceNumber)

	var violated bool
	for _, f := range fs.frames {
		if q.ingestFrame(f) {
			violated = true
		}
	}

	var immediateNak []byte
	if len(newlyMissing) > 0 {
		immediateNak = encodeAckDatagram(idNACK, encodeAckSet(newlyMissing))
	}
	return ingestResult{protocolViolation: violated, immediateNak: immediateNak, newlyMissing: newlyMissing}
}

// ingestFrame applies per-frame dedup, reassembly, and ordering, and
// returns true if delivering it would overflow an ordered channel's
// reorder buffer.
func (q *recvQueue) ingestFrame(f *frame) (overflow bool) {
	if f.reliability.isReliable() {
		if q.reliableSeen.seen(f.reliableIndex) {
			return false
		}
	}

	if f.fragmented {
		payload, done := q.fragments.ingest(f)
		if !done {
			return false
		}
		return q.deliverPayload(f, payload)
	}
	return q.deliverPayload(f, f.payload)
}

// deliverPayload routes a (possibly reassembled) payload through
// sequencing/ordering according to the frame's reliability, appending
// to the message queue if it becomes immediately deliverable.
func (q *recvQueue) deliverPayload(f *frame, payload []byte) (overflow bool) {
	switch {
	case f.reliability.isOrdered():
		deliverable, of := q.order[f.orderChannel].ingest(f.orderIndex, payload)
		q.messages = append(q.messages, deliverable...)
		return of
	case f.reliability.isSequenced():
		if q.sequence[f.orderChannel].ingest(f.sequenceIndex) {
			q.messages = append(q.messages, payload)
		}
		return false
	default:
		q.messages = append(q.messages, payload)
		return false
	}
}

// drainMessages returns and clears every payload that has become
// deliverable since the last call.
func (q *recvQueue) drainMessages() [][]byte {
	if len(q.messages) == 0 {
		return nil
	}
	out := q.messages
	q.messages = nil
	return out
}

// drainAck encodes the accumulated set of received sequence numbers as
// an ACK datagram and clears it. Returns nil if nothing is pending.
func (q *recvQueue) drainAck() []byte {
	if len(q.ackPending) == 0 {
		return nil
	}
	seqs := make([]uint32, 0, len(q.ackPending))
	for s := range q.ackPending {
		seqs = append(seqs, s)
	}
	q.ackPending = make(map[uint32]struct{})
	return encodeAckDatagram(idACK, encodeAckSet(seqs))
}

// drainNak encodes any gap sequence numbers that are still
// outstanding and haven't been NAKed within the expiry window, so a
// lost NAK datagram doesn't silently stall recovery forever.
func (q *recvQueue) drainNak(now time.Time) []byte {
	var due []uint32
	for seq, at := range q.nakPending {
		if now.Sub(at) >= q.nakExpiry {
			due = append(due, seq)
			q.nakPending[seq] = now
		}
	}
	if len(due) == 0 {
		return nil
	}
	return encodeAckDatagram(idNACK, encodeAckSet(due))
}
