package protocol

import (
	"net/url"
	"strings"
)

// Escape percent-encodes a display name, group name or property value
// for the wire. Spaces encode as %20, never as '+'.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Unescape decodes a percent-encoded wire token. A malformed escape
// sequence returns the token unchanged; servers occasionally emit raw
// values in slots that are normally encoded, and a readable raw token
// beats a decode error.
func Unescape(s string) string {
	decoded, err := url.QueryUnescape(strings.ReplaceAll(s, "+", "%2B"))
	if err != nil {
		return s
	}
	return decoded
}
