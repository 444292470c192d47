package raknet

import (
	"fmt"
	"strconv"
	"strings"
)

// MOTD is the server-advertised status line returned in response to an
// UnconnectedPing, following the Bedrock/MCPE semicolon-delimited wire
// format.
type MOTD struct {
	ServerName      string
	ProtocolVersion int
	MCVersion       string
	PlayerCount     int
	MaxPlayers      int
	GameMode        GameMode
	ServerGUID      uint64
	Port            uint16
}

// Encode joins the MOTD fields with ';' in Bedrock's wire order. A nil
// receiver encodes as the empty string, matching bare RakNet's
// UnconnectedPong with the MOTD payload disabled.
func (m *MOTD) Encode() string {
	if m == nil {
		return ""
	}
	fields := []string{
		"MCPE",
		m.ServerName,
		strconv.Itoa(m.ProtocolVersion),
		m.MCVersion,
		strconv.Itoa(m.PlayerCount),
		strconv.Itoa(m.MaxPlayers),
		fmt.Sprintf("%d", m.ServerGUID),
		m.ServerName,
		m.GameMode.String(),
		"1",
		strconv.Itoa(int(m.Port)),
		strconv.Itoa(int(m.Port)),
	}
	return strings.Join(fields, ";") + ";"
}
