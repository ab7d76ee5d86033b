package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrFieldNotDefined is returned when a field accessor is used on a
// verb that does not carry that field.
var ErrFieldNotDefined = errors.New("field not defined for command")

// Field names an argument a verb may carry. The layout table below maps
// (verb, field) pairs to token positions; accessors fail closed for
// pairs the table does not define.
type Field int

const (
	FieldFriendlyName Field = iota
	FieldUserName
	FieldProperty
	FieldValue
	FieldReferralType
	FieldServerAddress
	FieldStatus
	FieldListCode
	FieldSerialNumber
	FieldItemNumber
	FieldTotalItems
	FieldGroupName
	FieldGTCSetting
	FieldBLPSetting
	FieldChallengeHash
	FieldSessionID
	FieldExitStatus
	FieldBodyLength
	FieldSecurityPackage
)

var fieldNames = map[Field]string{
	FieldFriendlyName:    "friendly name",
	FieldUserName:        "user name",
	FieldProperty:        "property",
	FieldValue:           "property value",
	FieldReferralType:    "referral type",
	FieldServerAddress:   "server address",
	FieldStatus:          "status",
	FieldListCode:        "list code",
	FieldSerialNumber:    "serial number",
	FieldItemNumber:      "item number",
	FieldTotalItems:      "total items",
	FieldGroupName:       "group name",
	FieldGTCSetting:      "GTC setting",
	FieldBLPSetting:      "BLP setting",
	FieldChallengeHash:   "challenge hash",
	FieldSessionID:       "session ID",
	FieldExitStatus:      "exit status",
	FieldBodyLength:      "body length",
	FieldSecurityPackage: "security package",
}

// fieldSpec locates one field within a verb's token layout. Positions
// count the verb itself as zero, so the transaction id (when present)
// sits at position one.
type fieldSpec struct {
	pos      int  // primary token position
	alt      int  // fallback position when pos is absent, -1 for none
	optional bool // absent token yields "" instead of an error
	escaped  bool // token is percent-encoded on the wire
}

// fieldLayout is the per-verb field table. Layouts follow the MSNP8
// server responses, including the two LST shapes: synchronization
// replies and direct list replies place the subscriber at different
// positions, which the alt fallbacks absorb.
var fieldLayout = map[CommandType]map[Field]fieldSpec{
	CmdADD: {
		FieldListCode:     {pos: 2, alt: -1},
		FieldSerialNumber: {pos: 3, alt: -1},
		FieldUserName:     {pos: 4, alt: -1},
		FieldFriendlyName: {pos: 5, alt: -1, escaped: true},
	},
	CmdBLP: {
		FieldSerialNumber: {pos: 2, alt: -1},
		FieldBLPSetting:   {pos: 3, alt: -1},
	},
	CmdBPR: {
		FieldSerialNumber: {pos: 1, alt: -1},
		FieldUserName:     {pos: 2, alt: -1},
		FieldProperty:     {pos: 3, alt: -1},
		FieldValue:        {pos: 4, alt: -1, optional: true, escaped: true},
	},
	CmdCAL: {
		FieldSessionID: {pos: 3, alt: -1},
	},
	CmdCHG: {
		FieldStatus: {pos: 2, alt: -1},
	},
	CmdCHL: {
		FieldChallengeHash: {pos: 2, alt: -1},
	},
	CmdGTC: {
		FieldSerialNumber: {pos: 2, alt: -1},
		FieldGTCSetting:   {pos: 3, alt: -1},
	},
	CmdFLN: {
		FieldUserName: {pos: 1, alt: -1},
	},
	CmdILN: {
		FieldStatus:       {pos: 2, alt: -1},
		FieldUserName:     {pos: 3, alt: -1},
		FieldFriendlyName: {pos: 4, alt: -1, escaped: true},
	},
	CmdLSG: {
		FieldSerialNumber: {pos: 2, alt: -1},
		FieldItemNumber:   {pos: 3, alt: -1},
		FieldTotalItems:   {pos: 4, alt: -1},
		FieldGroupName:    {pos: 6, alt: 2, optional: true, escaped: true},
	},
	CmdLST: {
		FieldListCode:     {pos: 2, alt: -1},
		FieldSerialNumber: {pos: 3, alt: -1},
		FieldItemNumber:   {pos: 4, alt: -1},
		FieldTotalItems:   {pos: 5, alt: -1},
		FieldUserName:     {pos: 6, alt: 1},
		FieldFriendlyName: {pos: 7, alt: 2, escaped: true},
	},
	CmdMSG: {
		FieldUserName:     {pos: 1, alt: -1},
		FieldFriendlyName: {pos: 2, alt: -1, escaped: true},
		FieldBodyLength:   {pos: 3, alt: -1},
	},
	CmdNLN: {
		FieldStatus:       {pos: 1, alt: -1},
		FieldUserName:     {pos: 2, alt: -1},
		FieldFriendlyName: {pos: 3, alt: -1, escaped: true},
	},
	CmdOUT: {
		FieldExitStatus: {pos: 1, alt: -1, optional: true},
	},
	CmdPRP: {
		FieldSerialNumber: {pos: 2, alt: -1},
		FieldProperty:     {pos: 3, alt: -1},
		FieldValue:        {pos: 4, alt: -1, optional: true, escaped: true},
	},
	CmdREA: {
		FieldSerialNumber: {pos: 2, alt: -1},
		FieldUserName:     {pos: 3, alt: -1},
		FieldFriendlyName: {pos: 4, alt: -1, escaped: true},
	},
	CmdREG: {
		FieldSerialNumber: {pos: 2, alt: -1},
	},
	CmdREM: {
		FieldListCode:     {pos: 2, alt: -1},
		FieldSerialNumber: {pos: 3, alt: -1},
		FieldUserName:     {pos: 4, alt: -1},
	},
	CmdRMG: {
		FieldSerialNumber: {pos: 2, alt: -1},
	},
	CmdRNG: {
		FieldSessionID:     {pos: 1, alt: -1},
		FieldServerAddress: {pos: 2, alt: -1},
		FieldChallengeHash: {pos: 4, alt: -1},
		FieldUserName:      {pos: 5, alt: -1},
		FieldFriendlyName:  {pos: 6, alt: -1, escaped: true},
	},
	CmdSYN: {
		FieldSerialNumber: {pos: 2, alt: -1},
	},
	CmdUSR: {
		FieldSecurityPackage: {pos: 2, alt: -1},
		FieldUserName:        {pos: 3, alt: -1},
		FieldChallengeHash:   {pos: 4, alt: -1},
		FieldFriendlyName:    {pos: 4, alt: -1, escaped: true},
	},
	CmdXFR: {
		FieldReferralType:  {pos: 2, alt: -1},
		FieldServerAddress: {pos: 3, alt: -1},
		FieldChallengeHash: {pos: 5, alt: -1, optional: true},
	},
}

// field resolves a named field against the layout table.
func (c *Command) field(f Field) (string, error) {
	layout, ok := fieldLayout[c.Type]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s", ErrFieldNotDefined, c.Type, fieldNames[f])
	}
	spec, ok := layout[f]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s", ErrFieldNotDefined, c.Type, fieldNames[f])
	}

	tok, present := c.token(spec.pos)
	if !present && spec.alt >= 0 {
		tok, present = c.token(spec.alt)
	}
	if !present {
		if spec.optional {
			return "", nil
		}
		return "", fmt.Errorf("%w: %s is missing its %s", ErrFieldNotDefined, c.Type, fieldNames[f])
	}
	if spec.escaped {
		tok = Unescape(tok)
	}
	return tok, nil
}

// FriendlyName returns the percent-decoded display name.
func (c *Command) FriendlyName() (string, error) {
	return c.field(FieldFriendlyName)
}

// UserName returns the account handle carried by the command.
func (c *Command) UserName() (string, error) {
	return c.field(FieldUserName)
}

// Property returns the property code of a BPR or PRP update.
func (c *Command) Property() (string, error) {
	return c.field(FieldProperty)
}

// Value returns the new property value. Updates that clear a property
// omit the token; those return an empty string.
func (c *Command) Value() (string, error) {
	return c.field(FieldValue)
}

// ReferralType returns the XFR referral kind, NS or SB.
func (c *Command) ReferralType() (string, error) {
	return c.field(FieldReferralType)
}

// ServerAddress returns the referred server host. The wire token may be
// a bare host or a host:port pair.
func (c *Command) ServerAddress() (string, error) {
	tok, err := c.field(FieldServerAddress)
	if err != nil {
		return "", err
	}
	host, _, found := strings.Cut(tok, ":")
	if found {
		return host, nil
	}
	return tok, nil
}

// ServerPort returns the referred server port, falling back to the
// protocol default when the token omits or mangles it.
func (c *Command) ServerPort() (int, error) {
	tok, err := c.field(FieldServerAddress)
	if err != nil {
		return 0, err
	}
	_, portStr, found := strings.Cut(tok, ":")
	if !found {
		return DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return DefaultPort, nil
	}
	return port, nil
}

// SerialNumber returns the list serial number, or -1 when the token
// does not parse.
func (c *Command) SerialNumber() (int, error) {
	return c.intField(FieldSerialNumber, -1)
}

// ItemNumber returns the position of this entry in a list reply, or -1
// when the token does not parse.
func (c *Command) ItemNumber() (int, error) {
	return c.intField(FieldItemNumber, -1)
}

// TotalItems returns the announced length of a list reply, or -1 when
// the token does not parse.
func (c *Command) TotalItems() (int, error) {
	return c.intField(FieldTotalItems, -1)
}

// BodyLength returns the declared byte count of an instant-message
// body. A mangled count reads as zero so the transport never blocks
// waiting for bytes that will not arrive.
func (c *Command) BodyLength() (int, error) {
	return c.intField(FieldBodyLength, 0)
}

func (c *Command) intField(f Field, fallback int) (int, error) {
	tok, err := c.field(f)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

// Status returns the presence state carried by the command. The
// offline verb carries no status token; its presence is implied.
func (c *Command) Status() (Status, error) {
	if c.Type == CmdFLN {
		return StatusOffline, nil
	}
	tok, err := c.field(FieldStatus)
	if err != nil {
		return StatusUnknown, err
	}
	return ParseStatus(tok), nil
}

// Lists returns the list membership set named by the command, decoding
// either the symbolic two-letter code or the bitmask form.
func (c *Command) Lists() (ListSet, error) {
	tok, err := c.field(FieldListCode)
	if err != nil {
		return 0, err
	}
	return ParseListSet(tok)
}

// Groups returns the group ids carried by a list or group reply. List
// entries append a comma-separated id list after the display name;
// group replies carry a single id.
func (c *Command) Groups() []int {
	switch c.Type {
	case CmdLST:
		tok, ok := c.token(8)
		if !ok {
			return nil
		}
		var groups []int
		for _, part := range strings.Split(tok, ",") {
			id, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			groups = append(groups, id)
		}
		return groups

	case CmdLSG:
		if tok, ok := c.token(5); ok {
			if id, err := strconv.Atoi(tok); err == nil {
				return []int{id}
			}
		}
		if tok, ok := c.token(1); ok {
			if id, err := strconv.Atoi(tok); err == nil {
				return []int{id}
			}
		}
		return nil

	default:
		return nil
	}
}

// GroupName returns the percent-decoded group display name.
func (c *Command) GroupName() (string, error) {
	return c.field(FieldGroupName)
}

// GTCSetting returns the reverse-list prompt setting, A or N.
func (c *Command) GTCSetting() (string, error) {
	return c.field(FieldGTCSetting)
}

// BLPSetting returns the default list policy, AL or BL.
func (c *Command) BLPSetting() (string, error) {
	return c.field(FieldBLPSetting)
}

// ChallengeHash returns the challenge token of the command. Referrals
// without one return an empty string.
func (c *Command) ChallengeHash() (string, error) {
	return c.field(FieldChallengeHash)
}

// SessionID returns the switchboard session identifier.
func (c *Command) SessionID() (string, error) {
	return c.field(FieldSessionID)
}

// ExitStatus returns the reason code of a server-initiated sign-out,
// or an empty string when the server sent none.
func (c *Command) ExitStatus() (string, error) {
	return c.field(FieldExitStatus)
}

// SecurityPackage returns the authentication token of a USR exchange:
// the package name while negotiating, or "OK" on the final ack.
func (c *Command) SecurityPackage() (string, error) {
	return c.field(FieldSecurityPackage)
}

// ErrorCode returns the numeric code of a server error line, or -1
// when the verb is not numeric.
func (c *Command) ErrorCode() (int, error) {
	if c.Type != CmdError {
		return 0, fmt.Errorf("%w: %s is not an error report", ErrFieldNotDefined, c.Type)
	}
	tok, _ := c.token(0)
	code, err := strconv.Atoi(tok)
	if err != nil {
		return -1, nil
	}
	return code, nil
}

// Protocols returns the dialect list from a VER reply.
func (c *Command) Protocols() ([]string, error) {
	if c.Type != CmdVER {
		return nil, fmt.Errorf("%w: %s has no protocol list", ErrFieldNotDefined, c.Type)
	}
	if c.argCount() <= 2 {
		return nil, nil
	}
	return append([]string(nil), c.tokens[2:]...), nil
}
