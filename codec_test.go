package raknet

import (
	"net"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := newWriter()
	w.writeByte(0x42)
	w.writeBool(true)
	w.writeUint16(1234)
	w.writeUint24(0xabcdef)
	w.writeUint32(567890)
	w.writeUint64(123456789012)
	w.writeBytesPrefixed([]byte("hello"))
	w.writeMagic()

	r := newReader(w.bytes())

	if b, _ := r.byte(); b != 0x42 {
		t.Errorf("byte: expected 0x42, got 0x%02x", b)
	}
	if b, _ := r.bool(); !b {
		t.Error("bool: expected true")
	}
	if v, _ := r.uint16(); v != 1234 {
		t.Errorf("uint16: expected 1234, got %d", v)
	}
	if v, _ := r.uint24(); v != 0xabcdef {
		t.Errorf("uint24: expected 0xabcdef, got 0x%x", v)
	}
	if v, _ := r.uint32(); v != 567890 {
		t.Errorf("uint32: expected 567890, got %d", v)
	}
	if v, _ := r.uint64(); v != 123456789012 {
		t.Errorf("uint64: expected 123456789012, got %d", v)
	}
	if b, err := r.bytesPrefixed(); err != nil || string(b) != "hello" {
		t.Errorf("bytesPrefixed: expected 'hello', got %q (err %v)", b, err)
	}
	if err := r.magic(); err != nil {
		t.Errorf("magic: %v", err)
	}
}

func TestReaderPastEndIsMalformed(t *testing.T) {
	r := newReader([]byte{0x01})
	if _, err := r.uint32(); err != ErrMalformed {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestUint24IsLittleEndian(t *testing.T) {
	w := newWriter()
	w.writeUint24(0x010203)
	b := w.bytes()
	if b[0] != 0x03 || b[1] != 0x02 || b[2] != 0x01 {
		t.Errorf("expected little-endian bytes [03 02 01], got %v", b)
	}
}

func TestAddressRoundTripIPv4(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19132}
	w := newWriter()
	w.writeAddress(addr)

	r := newReader(w.bytes())
	got, err := r.address()
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Errorf("expected %v, got %v", addr, got)
	}
}

func TestMagicRejectsBadCookie(t *testing.T) {
	bad := make([]byte, 16)
	r := newReader(bad)
	if err := r.magic(); err != ErrMalformed {
		t.Errorf("expected ErrMalformed for bad magic, got %v", err)
	}
}
