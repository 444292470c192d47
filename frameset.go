package raknet

// frameSetHeader is the single byte that opens every FrameSet
// datagram. 0x80..0x8d is the valid range; bit positions below 0x80
// are RakNet "flags" that this implementation doesn't use beyond the
// conventional 0x84 value for a plain user frame set.
const (
	frameSetHeaderMin byte = 0x80
	frameSetHeaderMax byte = 0x8d
	frameSetHeader    byte = 0x84

	idACK  byte = 0xc0
	idNACK byte = 0xa0
)

// frameSetHeaderOverhead is the 4-byte id+sequence-number prefix of a
// FrameSet datagram.
const frameSetHeaderOverhead = 4

// udpIPOverhead is the assumed UDP/IP overhead the send queue budgets
// for when deciding how much payload fits under the configured MTU.
const udpIPOverhead = 28

// frameSet is the datagram-level envelope: a monotonic per-connection
// sequence number plus an ordered list of frames. It never spans more
// than one UDP datagram.
type frameSet struct {
	sequenceNumber uint32
	frames         []*frame
}

func (fs *frameSet) size() int {
	n := frameSetHeaderOverhead
	for _, f := range fs.frames {
		n += f.size()
	}
	return n
}

func (fs *frameSet) encode() []byte {
	w := newWriter()
	w.writeByte(frameSetHeader)
	w.writeUint24(fs.sequenceNumber)
	for _, f := range fs.frames {
		f.encode(w)
	}
	return w.bytes()
}

// isFrameSetHeader reports whether b opens a FrameSet datagram.
func isFrameSetHeader(b byte) bool {
	return b >= frameSetHeaderMin && b <= frameSetHeaderMax
}

// decodeFrameSet reads a full FrameSet datagram: the header byte (already
// known to the caller to be in range), the sequence number, then frames
// until the buffer is exhausted.
func decodeFrameSet(data []byte) (*frameSet, error) {
	r := newReader(data)
	if _, err := r.byte(); err != nil { // header byte, already validated
		return nil, err
	}
	seq, err := r.uint24()
	if err != nil {
		return nil, err
	}
	fs := &frameSet{sequenceNumber: seq}
	for r.remaining() > 0 {
		f, err := decodeFrame(r)
		if err != nil {
			return nil, err
		}
		fs.frames = append(fs.frames, f)
	}
	return fs, nil
}
