package raknet

import (
	"encoding/binary"
	"net"
)

// magic is the 16-byte constant RakNet stamps on every offline packet,
// used by peers to reject anything that isn't speaking the protocol.
var magic = [16]byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// reader is a cursor over a byte slice used to decode wire values.
// Every multi-byte read advances the shared cursor; reads past the end
// of the buffer report ErrMalformed rather than panicking.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, ErrMalformed
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.byte()
	return b != 0, err
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// uint24 reads a 24-bit little-endian integer. RakNet departs from its
// otherwise big-endian wire format for sequence/reliable/order indices.
func (r *reader) uint24() (uint32, error) {
	b, err := r.bytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) bytesPrefixed() ([]byte, error) {
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n))
}

func (r *reader) magic() error {
	b, err := r.bytes(16)
	if err != nil {
		return err
	}
	for i := range magic {
		if b[i] != magic[i] {
			return ErrMalformed
		}
	}
	return nil
}

// address decodes a RakNet SocketAddress: a version byte, then
// network-order address bytes and port. IPv4 octets are bitwise
// inverted on the wire, a long-standing RakNet convention.
func (r *reader) address() (*net.UDPAddr, error) {
	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch version {
	case 4:
		b, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		ip := make(net.IP, 4)
		for i := range b {
			ip[i] = ^b[i]
		}
		port, err := r.uint16()
		if err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	case 6:
		b, err := r.bytes(16)
		if err != nil {
			return nil, err
		}
		ip := make(net.IP, 16)
		copy(ip, b)
		port, err := r.uint16()
		if err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	default:
		return nil, ErrMalformed
	}
}

// writer accumulates an encoded packet. Unlike reader it never fails:
// encoding a well-formed in-memory struct cannot run out of bounds.
type writer struct {
	buf []byte
}

func newWriter() *writer {
	return &writer{buf: make([]byte, 0, 256)}
}

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) writeByte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) writeBool(b bool) {
	if b {
		w.writeByte(1)
	} else {
		w.writeByte(0)
	}
}

func (w *writer) writeBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeUint24(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

func (w *writer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeBytesPrefixed(b []byte) {
	w.writeUint16(uint16(len(b)))
	w.writeBytes(b)
}

func (w *writer) writeMagic() { w.writeBytes(magic[:]) }

// writeAddress encodes a RakNet SocketAddress. Only IPv4 and IPv6 are
// supported, matching net.UDPAddr.
func (w *writer) writeAddress(addr *net.UDPAddr) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		w.writeByte(4)
		for _, b := range ip4 {
			w.writeByte(^b)
		}
		w.writeUint16(uint16(addr.Port))
		return
	}
	w.writeByte(6)
	ip16 := addr.IP.To16()
	if ip16 == nil {
		ip16 = make(net.IP, 16)
	}
	w.writeBytes(ip16)
	w.writeUint16(uint16(addr.Port))
}

// zeroUDPAddr is used to pad ConnectionRequestAccepted's ten internal
// addresses when the server does not track any.
var zeroUDPAddr = &net.UDPAddr{IP: net.IPv4zero, Port: 0}
