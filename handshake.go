package raknet

import (
	"net"
	"time"
)

// Offline packet IDs, matching the values used by Bedrock clients.
const (
	idUnconnectedPing             byte = 0x01
	idOpenConnectRequest          byte = 0x05
	idOpenConnectReply            byte = 0x06
	idSessionInfoRequest          byte = 0x07
	idSessionInfoReply            byte = 0x08
	idIncompatibleProtocolVersion byte = 0x19
	idUnconnectedPong             byte = 0x1c
)

// Online packet IDs, travelling inside reliable frames.
const (
	idConnectedPing             byte = 0x00
	idConnectedPong             byte = 0x03
	idConnectionRequest         byte = 0x09
	idConnectionRequestAccepted byte = 0x10
	idNewIncomingConnection     byte = 0x13
	idDisconnectNotification    byte = 0x15
)

// connState enumerates the connection lifecycle.
type connState int

const (
	StateUnidentified connState = iota
	StateInitializing
	StateConnecting
	StateConnected
	StateDisconnecting
	StateOffline
)

// handshakeIn is the immutable input to one handshake step: the
// connection's relevant state plus the single inbound packet being
// processed. Kept deliberately small (rather than passing the whole
// Connection) so the stepping function stays a pure
// (state, packet) -> (state, packets) transform.
type handshakeIn struct {
	state      connState
	packetID   byte
	body       []byte // packet bytes after the ID byte
	from       *net.UDPAddr
	cfg        Config
	serverGUID uint64
	clientGUID uint64
	now        time.Time
	motd       func() string
}

// handshakeOut carries the result of a handshake step: the next
// state, zero or more raw packets to send back (unframed for offline
// packets, pre-encoded payloads the caller will wrap in a reliable
// frame for online ones), and any connection fields the step learned.
type handshakeOut struct {
	nextState  connState
	outbound   [][]byte
	clientGUID uint64
	mtu        uint16
	connected  bool // became Connected this step; caller surfaces Connect
}

// stepHandshake implements the transition table for the offline and
// connected handshake packets. Any packet not named here, or named but
// invalid for the current state, is left to the caller to treat as a
// protocol violation or is silently ignored (e.g. a ConnectionRequest
// arriving while still Unidentified).
func stepHandshake(in handshakeIn, requestedMTU uint16) (handshakeOut, error) {
	switch in.packetID {
	case idUnconnectedPing:
		return stepUnconnectedPing(in)
	case idOpenConnectRequest:
		if in.state != StateUnidentified {
			return handshakeOut{nextState: in.state}, nil
		}
		return stepOpenConnectRequest(in, requestedMTU)
	case idSessionInfoRequest:
		if in.state != StateInitializing {
			return handshakeOut{nextState: in.state}, nil
		}
		return stepSessionInfoRequest(in)
	case idConnectionRequest:
		if in.state != StateConnecting {
			return handshakeOut{nextState: in.state}, nil // ignored outside Connecting
		}
		return stepConnectionRequest(in)
	case idNewIncomingConnection:
		if in.state != StateConnecting {
			return handshakeOut{nextState: in.state}, nil
		}
		return handshakeOut{nextState: StateConnected, connected: true}, nil
	case idConnectedPing:
		return stepConnectedPing(in)
	case idDisconnectNotification:
		return handshakeOut{nextState: StateOffline}, nil
	default:
		return handshakeOut{nextState: in.state}, ErrUnknownPacket
	}
}

func stepUnconnectedPing(in handshakeIn) (handshakeOut, error) {
	r := newReader(in.body)
	timestamp, err := r.uint64()
	if err != nil {
		return handshakeOut{nextState: in.state}, err
	}
	if err := r.magic(); err != nil {
		return handshakeOut{nextState: in.state}, err
	}

	w := newWriter()
	w.writeByte(idUnconnectedPong)
	w.writeUint64(timestamp)
	w.writeUint64(in.serverGUID)
	w.writeMagic()
	if in.motd != nil {
		w.writeBytesPrefixed([]byte(in.motd()))
	}
	return handshakeOut{nextState: in.state, outbound: [][]byte{w.bytes()}}, nil
}

func stepOpenConnectRequest(in handshakeIn, requestedMTU uint16) (handshakeOut, error) {
	r := newReader(in.body)
	if err := r.magic(); err != nil {
		return handshakeOut{nextState: in.state}, err
	}
	protocol, err := r.byte()
	if err != nil {
		return handshakeOut{nextState: in.state}, err
	}

	if protocol != in.cfg.RakNetProtocolVersion {
		w := newWriter()
		w.writeByte(idIncompatibleProtocolVersion)
		w.writeByte(in.cfg.RakNetProtocolVersion)
		w.writeMagic()
		w.writeUint64(in.serverGUID)
		return handshakeOut{nextState: StateUnidentified, outbound: [][]byte{w.bytes()}}, nil
	}

	mtu := requestedMTU
	if mtu > in.cfg.MaxMTU {
		mtu = in.cfg.MaxMTU
	}

	w := newWriter()
	w.writeByte(idOpenConnectReply)
	w.writeMagic()
	w.writeUint64(in.serverGUID)
	w.writeBool(false) // security always false
	w.writeUint16(mtu)
	return handshakeOut{nextState: StateInitializing, outbound: [][]byte{w.bytes()}, mtu: mtu}, nil
}

func stepSessionInfoRequest(in handshakeIn) (handshakeOut, error) {
	r := newReader(in.body)
	if err := r.magic(); err != nil {
		return handshakeOut{nextState: in.state}, err
	}
	clientAddr, err := r.address()
	if err != nil {
		return handshakeOut{nextState: in.state}, err
	}
	mtu, err := r.uint16()
	if err != nil {
		return handshakeOut{nextState: in.state}, err
	}
	if mtu > in.cfg.MaxMTU {
		mtu = in.cfg.MaxMTU
	}
	clientID, err := r.uint64()
	if err != nil {
		return handshakeOut{nextState: in.state}, err
	}

	w := newWriter()
	w.writeByte(idSessionInfoReply)
	w.writeMagic()
	w.writeUint64(in.serverGUID)
	w.writeAddress(clientAddr)
	w.writeUint16(mtu)
	w.writeBool(false)
	return handshakeOut{
		nextState:  StateConnecting,
		outbound:   [][]byte{w.bytes()},
		clientGUID: clientID,
		mtu:        mtu,
	}, nil
}

func stepConnectionRequest(in handshakeIn) (handshakeOut, error) {
	r := newReader(in.body)
	clientGUID, err := r.uint64()
	if err != nil {
		return handshakeOut{nextState: in.state}, err
	}
	requestTime, err := r.uint64()
	if err != nil {
		return handshakeOut{nextState: in.state}, err
	}

	w := newWriter()
	w.writeByte(idConnectionRequestAccepted)
	w.writeAddress(in.from)
	w.writeUint16(0) // system_index
	for i := 0; i < 10; i++ {
		w.writeAddress(zeroUDPAddr)
	}
	w.writeUint64(requestTime)
	w.writeUint64(uint64(in.now.UnixMilli()))
	return handshakeOut{nextState: StateConnecting, outbound: [][]byte{w.bytes()}, clientGUID: clientGUID}, nil
}

func stepConnectedPing(in handshakeIn) (handshakeOut, error) {
	r := newReader(in.body)
	timestamp, err := r.uint64()
	if err != nil {
		return handshakeOut{nextState: in.state}, err
	}
	w := newWriter()
	w.writeByte(idConnectedPong)
	w.writeUint64(timestamp)
	w.writeUint64(uint64(in.now.UnixMilli()))
	return handshakeOut{nextState: in.state, outbound: [][]byte{w.bytes()}}, nil
}

// buildUnconnectedPing is a test helper that encodes the client's
// UnconnectedPing.
func buildUnconnectedPing(timestamp uint64, clientGUID uint64) []byte {
	w := newWriter()
	w.writeByte(idUnconnectedPing)
	w.writeUint64(timestamp)
	w.writeMagic()
	w.writeUint64(clientGUID)
	return w.bytes()
}

func buildOpenConnectRequest(protocol byte, paddingTo int) []byte {
	w := newWriter()
	w.writeByte(idOpenConnectRequest)
	w.writeMagic()
	w.writeByte(protocol)
	for len(w.bytes()) < paddingTo {
		w.writeByte(0)
	}
	return w.bytes()
}

func buildSessionInfoRequest(clientAddr *net.UDPAddr, mtu uint16, clientID uint64) []byte {
	w := newWriter()
	w.writeByte(idSessionInfoRequest)
	w.writeMagic()
	w.writeAddress(clientAddr)
	w.writeUint16(mtu)
	w.writeUint64(clientID)
	return w.bytes()
}

func buildConnectionRequest(clientGUID uint64, requestTime uint64) []byte {
	w := newWriter()
	w.writeByte(idConnectionRequest)
	w.writeUint64(clientGUID)
	w.writeUint64(requestTime)
	return w.bytes()
}

func buildNewIncomingConnection() []byte {
	w := newWriter()
	w.writeByte(idNewIncomingConnection)
	return w.bytes()
}
