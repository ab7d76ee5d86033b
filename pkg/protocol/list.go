package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadListCode is returned when a list token is neither a symbolic
// code nor a bitmask.
var ErrBadListCode = errors.New("invalid list code")

// ListSet is the set of contact lists a contact belongs to. A contact
// can sit on several lists at once, so membership is a bitmask rather
// than a single value.
type ListSet uint8

// Contact lists, with their wire bitmask values
const (
	ListForward ListSet = 1 << iota // FL, the user's own contact list
	ListAllow                       // AL
	ListBlock                       // BL
	ListReverse                     // RL, contacts who list the user
)

var listCodes = map[ListSet]string{
	ListForward: "FL",
	ListAllow:   "AL",
	ListBlock:   "BL",
	ListReverse: "RL",
}

const listMask = ListForward | ListAllow | ListBlock | ListReverse

// ParseListSet decodes a wire list token. Most commands name a single
// list with a two-letter code; synchronization replies pack membership
// into a decimal bitmask instead.
func ParseListSet(token string) (ListSet, error) {
	token = strings.TrimSpace(token)
	for set, code := range listCodes {
		if token == code {
			return set, nil
		}
	}
	mask, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadListCode, token)
	}
	return ListSet(mask) & listMask, nil
}

// Has reports whether the set contains every list in l.
func (s ListSet) Has(l ListSet) bool {
	return s&l == l
}

// Add returns the set with l included.
func (s ListSet) Add(l ListSet) ListSet {
	return s | l
}

// Remove returns the set with l excluded.
func (s ListSet) Remove(l ListSet) ListSet {
	return s &^ l
}

// Code returns the symbolic wire code for a single-list set, or an
// error when the set is empty or names several lists.
func (s ListSet) Code() (string, error) {
	code, ok := listCodes[s]
	if !ok {
		return "", fmt.Errorf("%w: %d is not a single list", ErrBadListCode, s)
	}
	return code, nil
}

// String renders the member codes, e.g. "FL+RL".
func (s ListSet) String() string {
	var codes []string
	for _, l := range []ListSet{ListForward, ListAllow, ListBlock, ListReverse} {
		if s.Has(l) {
			codes = append(codes, listCodes[l])
		}
	}
	if len(codes) == 0 {
		return "NONE"
	}
	return strings.Join(codes, "+")
}
