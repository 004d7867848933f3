// Package telnet implements the client side of the Telnet wire protocol as
// spoken by MUD servers: option negotiation, subnegotiation framing, and the
// GMCP out-of-band JSON channel carried inside it.
//
// The Decoder is a byte-at-a-time state machine with no knowledge of sockets
// or goroutines. The connection layer feeds it every inbound byte and hands
// it a writer for negotiation replies.
package telnet

// Telnet protocol constants.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	SE   byte = 240 // Subnegotiation End
	NOP  byte = 241

	// Options the client supports.
	TeloptTType byte = 24  // Terminal type
	TeloptMXP   byte = 91  // MUD eXtension Protocol (negotiated, payload discarded)
	TeloptGMCP  byte = 201 // Generic MUD Communication Protocol
)

// Terminal-type subnegotiation codes.
const (
	TTypeIs   byte = 0
	TTypeSend byte = 1
)

// supported reports whether the client answers WILL to a DO for opt.
func supported(opt byte) bool {
	switch opt {
	case TeloptTType, TeloptMXP, TeloptGMCP:
		return true
	}
	return false
}

// accepted reports whether the client answers DO to a server's WILL for opt.
// Terminal type is something the client offers, never something it asks the
// server to perform, so it is refused here.
func accepted(opt byte) bool {
	return opt == TeloptMXP || opt == TeloptGMCP
}

// CommandName returns a short mnemonic for a telnet command byte.
func CommandName(cmd byte) string {
	switch cmd {
	case IAC:
		return "IAC"
	case DONT:
		return "DONT"
	case DO:
		return "DO"
	case WONT:
		return "WONT"
	case WILL:
		return "WILL"
	case SB:
		return "SB"
	case SE:
		return "SE"
	case NOP:
		return "NOP"
	default:
		return "CMD?"
	}
}
