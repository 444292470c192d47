package raknet

import "time"

// GameMode mirrors the small set of Minecraft Bedrock game modes
// advertised in the MOTD (see motd.go).
type GameMode int

const (
	GameModeSurvival GameMode = iota
	GameModeCreative
	GameModeAdventure
	GameModeSpectator
)

func (g GameMode) String() string {
	switch g {
	case GameModeSurvival:
		return "Survival"
	case GameModeCreative:
		return "Creative"
	case GameModeAdventure:
		return "Adventure"
	case GameModeSpectator:
		return "Spectator"
	default:
		return "Survival"
	}
}

// Config holds the tunables a Listener and its Connections need. It
// is a plain struct with documented defaults rather than a file/env
// loader: a handful of fields doesn't warrant one.
type Config struct {
	// MaxMTU caps the MTU a peer can negotiate during the offline
	// handshake. Default 1400.
	MaxMTU uint16

	// TickInterval is the cadence at which Connection.onTick runs.
	// Default 10ms.
	TickInterval time.Duration

	// ConnectionTimeout is how long a connection may go without an
	// inbound datagram before it is moved to Offline. Default 15s.
	ConnectionTimeout time.Duration

	// MaxResendCount is the number of times a single reliable frame
	// may be retransmitted before the connection is dropped as stale.
	// Default 10.
	MaxResendCount int

	// InitialRTO seeds the per-connection SRTT before any ACK has
	// been observed. Default 500ms.
	InitialRTO time.Duration

	// RakNetProtocolVersion is compared against a peer's
	// OpenConnectRequest during the handshake. Default 10.
	RakNetProtocolVersion uint8

	// MCPE toggles the Minecraft-flavored UnconnectedPong payload
	// (the MOTD string). Default false.
	MCPE bool

	// ServerGUID seeds the 64-bit identifier this listener presents
	// during the handshake. If zero, one is generated at bind time.
	ServerGUID uint64
}

// DefaultConfig returns a Config populated with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxMTU:                1400,
		TickInterval:          10 * time.Millisecond,
		ConnectionTimeout:     15 * time.Second,
		MaxResendCount:        10,
		InitialRTO:            500 * time.Millisecond,
		RakNetProtocolVersion: 10,
		MCPE:                  false,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMTU == 0 {
		c.MaxMTU = d.MaxMTU
	}
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.MaxResendCount == 0 {
		c.MaxResendCount = d.MaxResendCount
	}
	if c.InitialRTO == 0 {
		c.InitialRTO = d.InitialRTO
	}
	if c.RakNetProtocolVersion == 0 {
		c.RakNetProtocolVersion = d.RakNetProtocolVersion
	}
	return c
}
