package protocol

// Status is a presence state as carried on the wire.
type Status string

// Presence states
const (
	StatusOnline      Status = "NLN"
	StatusOffline     Status = "FLN"
	StatusHidden      Status = "HDN"
	StatusIdle        Status = "IDL"
	StatusAway        Status = "AWY"
	StatusBusy        Status = "BSY"
	StatusBeRightBack Status = "BRB"
	StatusOnPhone     Status = "PHN"
	StatusOutToLunch  Status = "LUN"
	StatusUnknown     Status = ""
)

var knownStatuses = map[Status]bool{
	StatusOnline:      true,
	StatusOffline:     true,
	StatusHidden:      true,
	StatusIdle:        true,
	StatusAway:        true,
	StatusBusy:        true,
	StatusBeRightBack: true,
	StatusOnPhone:     true,
	StatusOutToLunch:  true,
}

// ParseStatus maps a wire code to a presence state. Codes outside the
// known set decode as StatusUnknown; newer servers emit states older
// clients never saw, and an unrecognized presence is not an error.
func ParseStatus(code string) Status {
	s := Status(code)
	if knownStatuses[s] {
		return s
	}
	return StatusUnknown
}

// String returns the wire code, or a readable marker for the unknown
// state.
func (s Status) String() string {
	if s == StatusUnknown {
		return "UNKNOWN"
	}
	return string(s)
}
