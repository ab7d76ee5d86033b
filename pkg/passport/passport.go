// Package passport implements the Passport 1.4 ticket exchange used to
// authenticate a notification server login. The exchange is two HTTPS
// round trips: a nexus lookup that names the login server, then a login
// request whose response carries the ticket.
package passport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultNexusURL is the well-known nexus endpoint that names the login
// server.
const DefaultNexusURL = "https://nexus.passport.com/rdr/pprdr.asp"

var (
	ErrAuthFailed    = errors.New("passport authentication failed")
	ErrNoLoginServer = errors.New("nexus response names no login server")
)

// Client performs Passport ticket exchanges.
type Client struct {
	NexusURL   string
	HTTPClient *http.Client
}

// NewClient creates a client against the default nexus. Redirects are
// not followed automatically; the login redirect must be replayed with
// the Authorization header, which Go's client would strip.
func NewClient() *Client {
	return &Client{
		NexusURL: DefaultNexusURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Ticket obtains an authentication ticket for the account. The
// challenge is the server token from the USR TWN S reply and is passed
// through verbatim.
func (c *Client) Ticket(ctx context.Context, account, password, challenge string) (string, error) {
	loginURL, err := c.loginServer(ctx)
	if err != nil {
		return "", err
	}

	auth := "Passport1.4 OrgVerb=GET,OrgURL=http%3A%2F%2Fmessenger%2Emsn%2Ecom,sign-in=" +
		account + ",pwd=" + password + "," + challenge

	resp, err := c.get(ctx, loginURL, auth)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	// The login server may hand off to a sibling once; replay the
	// request there with the same credentials.
	if location := resp.Header.Get("Location"); location != "" {
		resp, err = c.get(ctx, location, auth)
		if err != nil {
			return "", err
		}
		resp.Body.Close()
	}

	info := resp.Header.Get("Authentication-Info")
	if !strings.Contains(info, "da-status=success") {
		return "", fmt.Errorf("%w: %s", ErrAuthFailed, resp.Status)
	}
	ticket := headerField(info, "from-PP=")
	if ticket == "" {
		return "", fmt.Errorf("%w: response carries no ticket", ErrAuthFailed)
	}
	return strings.Trim(ticket, "'"), nil
}

// loginServer resolves the login endpoint through the nexus.
func (c *Client) loginServer(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.NexusURL, "")
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	host := headerField(resp.Header.Get("PassportURLs"), "DALogin=")
	if host == "" {
		return "", ErrNoLoginServer
	}
	if !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host, nil
}

func (c *Client) get(ctx context.Context, url, auth string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return c.HTTPClient.Do(req)
}

// headerField extracts the value following key from a comma-delimited
// header, up to the next comma.
func headerField(header, key string) string {
	start := strings.Index(header, key)
	if start < 0 {
		return ""
	}
	value := header[start+len(key):]
	if end := strings.IndexByte(value, ','); end >= 0 {
		value = value[:end]
	}
	return value
}
