package raknet

import "errors"

// Sentinel errors returned by the public API. Use errors.Is to test for
// them; internal failures are wrapped with %w so the chain survives.
var (
	// ErrClosed is returned by Connection.Recv/Send once the connection
	// has reached the Offline state, and by Listener.Accept once the
	// listener has been closed.
	ErrClosed = errors.New("raknet: closed")

	// ErrMalformed is returned by decode routines when a buffer is too
	// short or contains an invalid value for the field being read.
	ErrMalformed = errors.New("raknet: malformed packet")

	// ErrBadMTU is returned when a negotiated or configured MTU falls
	// outside a usable range.
	ErrBadMTU = errors.New("raknet: invalid mtu")

	// ErrPayloadTooLarge is returned by Send when a payload cannot be
	// fragmented to fit within the connection's MTU budget (e.g. it
	// would require more than 65535 fragments).
	ErrPayloadTooLarge = errors.New("raknet: payload too large")

	// ErrAlreadyOnline is returned by Listener.Start if called twice.
	ErrAlreadyOnline = errors.New("raknet: listener already online")

	// ErrUnknownPacket is returned internally when a packet ID is not
	// recognized for the connection's current state. It is never
	// returned to callers; the connection counts it as a malformed
	// packet.
	ErrUnknownPacket = errors.New("raknet: unknown packet id")
)

// disconnectReason values surfaced through Connection.Recv's error once a
// connection has moved to Offline.
const (
	reasonTimeout           = "timeout"
	reasonStale             = "stale"
	reasonProtocolViolation = "protocol_violation"
	reasonRemoteDisconnect  = "disconnect"
	reasonLocalClose        = "closed_by_application"
	reasonListenerShutdown  = "listener_closed"
)
