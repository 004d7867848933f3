package telnet

import "io"

// State is the decoder's position within the telnet byte grammar.
type State int

const (
	StateData          State = iota // plain data
	StateCommand                    // saw IAC
	StateOption                     // saw IAC DO/DONT/WILL/WONT, awaiting option
	StateSubnegStart                // saw IAC SB, awaiting option
	StateSubnegData                 // accumulating subnegotiation payload
	StateSubnegEscape               // saw IAC inside a subnegotiation payload
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateData:
		return "data"
	case StateCommand:
		return "command"
	case StateOption:
		return "option"
	case StateSubnegStart:
		return "subneg-start"
	case StateSubnegData:
		return "subneg-data"
	case StateSubnegEscape:
		return "subneg-escape"
	default:
		return "unknown"
	}
}

// MessageHandler receives the raw payload of every completed GMCP
// subnegotiation. The slice is only valid for the duration of the call.
type MessageHandler func(payload []byte)

// Config controls what the decoder announces during negotiation.
type Config struct {
	// TerminalType is the name sent in reply to a terminal-type query.
	// Defaults to "ANSI".
	TerminalType string
	// Identity is sent as the GMCP handshake after the server offers GMCP.
	Identity Identity
	// OnMessage is invoked for each GMCP message. May be nil.
	OnMessage MessageHandler
}

// Decoder turns a raw telnet byte stream into plain data. Negotiation replies
// are written to the reply writer as a side effect. A Decoder is not safe for
// concurrent use; the connection's single read path owns it.
type Decoder struct {
	reply io.Writer
	cfg   Config

	state  State
	cmd    byte // pending DO/DONT/WILL/WONT
	sbOpt  byte
	sbBuf  []byte
	out    [1]byte
	ttype  []byte
	frames [][]byte
}

// NewDecoder creates a decoder that writes negotiation replies to reply.
func NewDecoder(reply io.Writer, cfg Config) *Decoder {
	if cfg.TerminalType == "" {
		cfg.TerminalType = "ANSI"
	}
	if cfg.Identity.ClientName == "" {
		cfg.Identity = DefaultIdentity()
	}
	ttype := append([]byte{IAC, SB, TeloptTType, TTypeIs}, cfg.TerminalType...)
	ttype = append(ttype, IAC, SE)
	return &Decoder{
		reply:  reply,
		cfg:    cfg,
		ttype:  ttype,
		frames: cfg.Identity.Handshake(),
	}
}

// State returns the current decoder state.
func (d *Decoder) State() State {
	return d.state
}

// Accept consumes one raw byte and returns the plain data it decodes to,
// usually zero or one byte. The returned slice aliases internal storage and
// is only valid until the next call.
//
// Errors writing negotiation replies are not reported here: a broken
// connection surfaces on the write path, which owns the socket.
func (d *Decoder) Accept(b byte) []byte {
	switch d.state {
	case StateData:
		if b == IAC {
			d.state = StateCommand
			return nil
		}
		return d.emit(b)

	case StateCommand:
		switch b {
		case IAC:
			d.state = StateData
			return d.emit(IAC)
		case DO, DONT, WILL, WONT:
			d.cmd = b
			d.state = StateOption
		case SB:
			d.state = StateSubnegStart
		default:
			// GA, NOP, EOR and friends carry nothing for us.
			d.state = StateData
		}
		return nil

	case StateOption:
		d.state = StateData
		d.negotiate(d.cmd, b)
		return nil

	case StateSubnegStart:
		d.sbOpt = b
		d.sbBuf = d.sbBuf[:0]
		d.state = StateSubnegData
		return nil

	case StateSubnegData:
		if b == IAC {
			d.state = StateSubnegEscape
			return nil
		}
		d.sbBuf = append(d.sbBuf, b)
		return nil

	case StateSubnegEscape:
		switch b {
		case IAC:
			d.sbBuf = append(d.sbBuf, IAC)
			d.state = StateSubnegData
		case SE:
			d.state = StateData
			d.subnegotiation(d.sbOpt, d.sbBuf)
		default:
			// Malformed framing: keep what we have and keep accumulating.
			d.state = StateSubnegData
		}
		return nil
	}
	d.state = StateData
	return nil
}

func (d *Decoder) emit(b byte) []byte {
	d.out[0] = b
	return d.out[:]
}

// negotiate answers a DO/DONT/WILL/WONT for opt. DONT and WONT are
// acknowledgements of refusal and get no reply.
func (d *Decoder) negotiate(cmd, opt byte) {
	switch cmd {
	case DO:
		if supported(opt) {
			d.write(IAC, WILL, opt)
		} else {
			d.write(IAC, WONT, opt)
		}
	case WILL:
		if !accepted(opt) {
			d.write(IAC, DONT, opt)
			return
		}
		d.write(IAC, DO, opt)
		if opt == TeloptGMCP {
			for _, frame := range d.frames {
				d.write(frame...)
			}
		}
	}
}

func (d *Decoder) subnegotiation(opt byte, payload []byte) {
	switch opt {
	case TeloptTType:
		if len(payload) > 0 && payload[0] == TTypeSend {
			d.write(d.ttype...)
		}
	case TeloptGMCP:
		if d.cfg.OnMessage != nil {
			d.cfg.OnMessage(payload)
		}
	}
}

func (d *Decoder) write(b ...byte) {
	if d.reply == nil {
		return
	}
	_, _ = d.reply.Write(b)
}

// Decode runs every byte of p through the decoder and appends the plain
// data to dst.
func (d *Decoder) Decode(dst, p []byte) []byte {
	for _, b := range p {
		dst = append(dst, d.Accept(b)...)
	}
	return dst
}
