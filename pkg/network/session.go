package network

import (
	"context"
	"log"
	"sync"

	"github.com/openmsn/gomsn/pkg/protocol"
	"github.com/openmsn/gomsn/pkg/storage"
)

// Config holds everything a session needs to sign in.
type Config struct {
	Account       string
	Password      string
	InitialStatus protocol.Status

	// DispatchAddr is the dispatch server that refers the client to a
	// notification server. Defaults to DefaultDispatchAddr.
	DispatchAddr string

	// NexusURL overrides the passport nexus endpoint. Defaults to the
	// public nexus.
	NexusURL string
}

// DefaultConfig returns a config that signs in as online through the
// public servers.
func DefaultConfig(account, password string) Config {
	return Config{
		Account:       account,
		Password:      password,
		InitialStatus: protocol.StatusOnline,
		DispatchAddr:  DefaultDispatchAddr,
	}
}

// Session is a messenger client session. A zero session is not usable;
// create one with NewSession. Sessions are safe for concurrent use.
type Session struct {
	cfg    Config
	events *broadcaster
	ns     *notificationSession

	mu      sync.Mutex
	archive *storage.Archive
}

// NewSession creates a session from the config, filling in defaults for
// fields left empty.
func NewSession(cfg Config) *Session {
	if cfg.DispatchAddr == "" {
		cfg.DispatchAddr = DefaultDispatchAddr
	}
	if cfg.InitialStatus == protocol.StatusUnknown {
		cfg.InitialStatus = protocol.StatusOnline
	}

	events := &broadcaster{}
	return &Session{
		cfg:    cfg,
		events: events,
		ns:     newNotificationSession(cfg, events),
	}
}

// SignIn connects and authenticates, blocking until the login handshake
// completes, fails, or the context expires.
func (s *Session) SignIn(ctx context.Context) error {
	return s.ns.signIn(ctx)
}

// SignInAsync starts a sign-in and reports its outcome on the returned
// channel.
func (s *Session) SignInAsync(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() { result <- s.ns.signIn(ctx) }()
	return result
}

// SignOut announces the sign-out and drops the connection.
func (s *Session) SignOut() {
	s.ns.signOut()
}

// AttachArchive attaches a message archive. Received messages are
// recorded as they arrive; sent messages as they are accepted.
func (s *Session) AttachArchive(archive *storage.Archive) {
	s.mu.Lock()
	s.archive = archive
	s.mu.Unlock()
	s.events.add(&archiveRecorder{archive: archive})
}

// SendMessage delivers an instant message to the peer, opening a chat
// session first when none is active.
func (s *Session) SendMessage(peer, text string) error {
	if err := s.ns.sendMessage(peer, text); err != nil {
		return err
	}
	s.mu.Lock()
	archive := s.archive
	s.mu.Unlock()
	if archive != nil {
		if err := archive.SaveOutgoing(peer, text); err != nil {
			log.Printf("archiving message to %s failed: %v", peer, err)
		}
	}
	return nil
}

// SetStatus announces a new presence state. An unknown status is
// silently ignored.
func (s *Session) SetStatus(status protocol.Status) error {
	return s.ns.setStatus(status)
}

// SetFriendlyName asks the server to change the user's display name.
// The change takes effect when the server acknowledges it.
func (s *Session) SetFriendlyName(name string) error {
	return s.ns.setFriendlyName(name)
}

// AddContact puts an account on one of the user's lists. The reverse
// list cannot be edited.
func (s *Session) AddContact(account string, lists protocol.ListSet) error {
	return s.ns.addContact(account, lists)
}

// RemoveContact takes an account off one of the user's lists.
func (s *Session) RemoveContact(account string, lists protocol.ListSet) error {
	return s.ns.removeContact(account, lists)
}

// RequestList asks the server to replay one list's entries.
func (s *Session) RequestList(lists protocol.ListSet) error {
	return s.ns.requestList(lists)
}

// Synchronize discards local list state and requests a full list
// synchronization.
func (s *Session) Synchronize() error {
	return s.ns.synchronize()
}

// SendEmailInvitation asks the service to mail a messenger invitation
// to an address that is not signed up.
func (s *Session) SendEmailInvitation(email string) error {
	return s.ns.sendEmailInvitation(email)
}

// Contacts returns a snapshot of the contact list.
func (s *Session) Contacts() []Contact {
	return s.ns.contacts.All()
}

// Contact returns a snapshot of one contact.
func (s *Session) Contact(account string) (Contact, bool) {
	return s.ns.contacts.Get(account)
}

// Groups returns a snapshot of the contact groups, keyed by id.
func (s *Session) Groups() map[int]string {
	return s.ns.groupsSnapshot()
}

// Status returns the server-acknowledged presence state.
func (s *Session) Status() protocol.Status {
	return s.ns.currentStatus()
}

// FriendlyName returns the user's current display name.
func (s *Session) FriendlyName() string {
	return s.ns.displayName()
}

// Account returns the signed-in account name.
func (s *Session) Account() string {
	return s.cfg.Account
}

// IsConnected reports whether the session is authenticated.
func (s *Session) IsConnected() bool {
	return s.ns.isSignedIn()
}

// SendCommand writes a raw command to the notification server. The
// caller is responsible for the transaction id; the session's own
// counter is not consumed.
func (s *Session) SendCommand(cmd *protocol.Command) error {
	return s.ns.sendCommand(cmd)
}

// AddListener registers a listener for session events.
func (s *Session) AddListener(l Listener) {
	s.events.add(l)
}

// RemoveListener unregisters a previously added listener.
func (s *Session) RemoveListener(l Listener) {
	s.events.remove(l)
}
