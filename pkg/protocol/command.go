// Package protocol implements the MSNP8 wire codec: CRLF-terminated,
// space-delimited command lines exchanged with dispatch, notification
// and switchboard servers.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyCommand     = errors.New("empty command line")
	ErrUnknownVerb      = errors.New("unknown command verb")
	ErrBadTransactionID = errors.New("invalid transaction ID")
)

// Protocol constants
const (
	// Version negotiated during login
	ProtocolVersion = "MSNP8"

	// Fallback dialect sent alongside the version
	ProtocolFallback = "CVR0"

	// Default server port when a referral omits or mangles the port
	DefaultPort = 1863

	// Client identification sent in the CVR exchange; the account name
	// is appended to this prefix
	ClientInfo = "0x0409 winnt 5.1 i386 MSNMSGR 5.0.0540 MSMSGS "

	// NoTransactionID marks commands that carry no transaction id
	NoTransactionID = -1
)

// CommandType identifies an MSNP command verb.
type CommandType int

// Command verbs
const (
	CmdUnknown CommandType = iota
	CmdACK
	CmdADD
	CmdADG
	CmdANS
	CmdBLP
	CmdBPR
	CmdBYE
	CmdCAL
	CmdCHG
	CmdCHL
	CmdCVR
	CmdFLN
	CmdGTC
	CmdILN
	CmdIRO
	CmdJOI
	CmdLSG
	CmdLST
	CmdMSG
	CmdNAK
	CmdNLN
	CmdOUT
	CmdPRP
	CmdQRY
	CmdREA
	CmdREG
	CmdREM
	CmdRMG
	CmdRNG
	CmdSDC
	CmdSYN
	CmdTWN
	CmdUSR
	CmdVER
	CmdXFR
	CmdError // numeric server error line, e.g. "911"
)

var commandNames = map[CommandType]string{
	CmdACK: "ACK",
	CmdADD: "ADD",
	CmdADG: "ADG",
	CmdANS: "ANS",
	CmdBLP: "BLP",
	CmdBPR: "BPR",
	CmdBYE: "BYE",
	CmdCAL: "CAL",
	CmdCHG: "CHG",
	CmdCHL: "CHL",
	CmdCVR: "CVR",
	CmdFLN: "FLN",
	CmdGTC: "GTC",
	CmdILN: "ILN",
	CmdIRO: "IRO",
	CmdJOI: "JOI",
	CmdLSG: "LSG",
	CmdLST: "LST",
	CmdMSG: "MSG",
	CmdNAK: "NAK",
	CmdNLN: "NLN",
	CmdOUT: "OUT",
	CmdPRP: "PRP",
	CmdQRY: "QRY",
	CmdREA: "REA",
	CmdREG: "REG",
	CmdREM: "REM",
	CmdRMG: "RMG",
	CmdRNG: "RNG",
	CmdSDC: "SDC",
	CmdSYN: "SYN",
	CmdTWN: "TWN",
	CmdUSR: "USR",
	CmdVER: "VER",
	CmdXFR: "XFR",
}

var commandTypes = make(map[string]CommandType, len(commandNames))

func init() {
	for t, name := range commandNames {
		commandTypes[name] = t
	}
}

// String returns the wire verb for the command type.
func (t CommandType) String() string {
	if name, ok := commandNames[t]; ok {
		return name
	}
	if t == CmdError {
		return "ERROR"
	}
	return "UNKNOWN"
}

// transactedVerbs lists the verbs that carry a transaction id token
// immediately after the verb.
var transactedVerbs = map[CommandType]bool{
	CmdADD: true,
	CmdBLP: true,
	CmdBPR: true,
	CmdCHG: true,
	CmdCHL: true,
	CmdGTC: true,
	CmdILN: true,
	CmdLSG: true,
	CmdLST: true,
	CmdREM: true,
	CmdSDC: true,
	CmdSYN: true,
	CmdUSR: true,
	CmdVER: true,
	CmdXFR: true,
}

// Command is a single MSNP command. Parsed commands keep the raw token
// list so field accessors can address arguments positionally; outgoing
// commands are assembled from the verb, the transaction id and the
// argument list.
type Command struct {
	Type          CommandType
	TransactionID int
	Body          string

	tokens []string // raw wire tokens including the verb, set by Parse
	args   []string // outgoing arguments, set by AddArgument
}

// NewCommand creates an outgoing command. Pass NoTransactionID for
// verbs that carry none (OUT, ANS acknowledgements).
func NewCommand(t CommandType, transactionID int) *Command {
	return &Command{Type: t, TransactionID: transactionID}
}

// AddArgument appends an argument to an outgoing command. Arguments are
// accepted blindly; no per-verb validation is performed.
func (c *Command) AddArgument(arg string) *Command {
	c.args = append(c.args, arg)
	return c
}

// AddArguments appends several arguments in order.
func (c *Command) AddArguments(args ...string) *Command {
	c.args = append(c.args, args...)
	return c
}

// HasBody reports whether the verb is followed by a counted byte body.
// Only the instant-message verb carries one.
func (c *Command) HasBody() bool {
	return c.Type == CmdMSG
}

// Parse decodes a single command line (without its CRLF terminator).
//
// Verbs that carry a transaction id must have one; LST and BPR tolerate
// a non-numeric token in that position because synchronization replies
// reuse the slot for other data. A line whose verb is an unrecognized
// integer is a server error report and decodes as CmdError.
func Parse(line string) (*Command, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := &Command{TransactionID: NoTransactionID, tokens: tokens}

	verb := tokens[0]
	t, ok := commandTypes[verb]
	switch {
	case ok:
		cmd.Type = t
	default:
		if _, err := strconv.Atoi(verb); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
		}
		cmd.Type = CmdError
	}

	switch {
	case transactedVerbs[cmd.Type]:
		if len(tokens) < 2 {
			return nil, fmt.Errorf("%w: %s without transaction ID", ErrBadTransactionID, verb)
		}
		tid, err := strconv.Atoi(tokens[1])
		if err != nil {
			// SYN replies emit LST and BPR lines without a
			// transaction id; everything else must have one.
			if cmd.Type != CmdLST && cmd.Type != CmdBPR {
				return nil, fmt.Errorf("%w: %q", ErrBadTransactionID, tokens[1])
			}
		} else {
			cmd.TransactionID = tid
		}

	case cmd.Type == CmdError:
		// Only some error lines carry a transaction id; a
		// non-numeric token stays in place as an argument.
		if len(tokens) >= 2 {
			if tid, err := strconv.Atoi(tokens[1]); err == nil {
				cmd.TransactionID = tid
			}
		}
	}

	return cmd, nil
}

// Encode renders the command in wire form. Parsed commands reproduce
// their original token sequence. Two verbs serialize specially: MSG
// appends the raw body after the header line, and QRY folds its payload
// arguments together with no separator so the digest arrives on its own
// unterminated line.
func (c *Command) Encode() string {
	if len(c.tokens) > 0 {
		line := strings.Join(c.tokens, " ") + "\r\n"
		if c.HasBody() {
			line += c.Body
		}
		return line
	}

	var b strings.Builder
	b.WriteString(c.Type.String())
	if c.TransactionID != NoTransactionID {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(c.TransactionID))
	}

	if c.Type == CmdQRY && len(c.args) >= 4 {
		b.WriteByte(' ')
		b.WriteString(c.args[0])
		b.WriteByte(' ')
		b.WriteString(c.args[1])
		b.WriteString(c.args[2])
		b.WriteString(c.args[3])
		return b.String()
	}

	for _, arg := range c.args {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	b.WriteString("\r\n")

	if c.HasBody() {
		b.WriteString(c.Body)
	}
	return b.String()
}

// String returns the trimmed wire form, suitable for logging.
func (c *Command) String() string {
	return strings.TrimRight(c.Encode(), "\r\n")
}

// token returns the raw token at the given position, counting the verb
// as position zero.
func (c *Command) token(pos int) (string, bool) {
	if pos < 0 || pos >= len(c.tokens) {
		return "", false
	}
	return c.tokens[pos], true
}

// argCount returns the number of raw tokens in a parsed command.
func (c *Command) argCount() int {
	return len(c.tokens)
}
