package network

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/openmsn/gomsn/pkg/passport"
	"github.com/openmsn/gomsn/pkg/protocol"
)

// Challenge response parameters. The server periodically issues a CHL
// probe; the reply digests the challenge with the product key.
const (
	challengeProductID = "PROD0038W!61ZTF9"
	challengeKey       = "VT6PX?UQTM4WM%YR"
)

var (
	ErrSignInFailed = errors.New("sign-in failed")

	// ErrReverseList rejects client edits to the reverse list, which
	// only the server maintains.
	ErrReverseList = errors.New("reverse list is maintained by the server")
)

// notificationSession is the authenticated connection to a notification
// server. It drives the login handshake, maintains the contact list and
// opens switchboard sessions for chats.
type notificationSession struct {
	cfg      Config
	events   *broadcaster
	passport *passport.Client
	contacts *ContactList

	mu            sync.Mutex
	conn          *Conn
	tid           int
	loginCtx      context.Context
	signin        chan error
	authenticated bool
	status        protocol.Status
	wantStatus    protocol.Status
	friendlyName  string
	serial        int
	groups        map[int]string
	properties    map[string]string
	gtcSetting    string
	blpSetting    string
	switchboards  map[string]*switchboardSession
	referrals     *referralTable
}

func newNotificationSession(cfg Config, events *broadcaster) *notificationSession {
	pp := passport.NewClient()
	if cfg.NexusURL != "" {
		pp.NexusURL = cfg.NexusURL
	}
	return &notificationSession{
		cfg:          cfg,
		events:       events,
		passport:     pp,
		contacts:     NewContactList(),
		wantStatus:   cfg.InitialStatus,
		groups:       make(map[int]string),
		properties:   make(map[string]string),
		switchboards: make(map[string]*switchboardSession),
		referrals:    newReferralTable(),
	}
}

// signIn resolves a notification server through dispatch, connects and
// runs the login handshake to completion.
func (ns *notificationSession) signIn(ctx context.Context) error {
	addr, err := ResolveNotificationServer(ctx, ns.cfg.DispatchAddr, ns.cfg.Account)
	if err != nil {
		return err
	}
	return ns.signInDirect(ctx, addr)
}

// signInDirect connects straight to a known notification server.
func (ns *notificationSession) signInDirect(ctx context.Context, addr string) error {
	ns.mu.Lock()
	ns.loginCtx = ctx
	ns.signin = make(chan error, 1)
	ns.mu.Unlock()

	conn, err := Dial(addr, ns)
	if err != nil {
		return err
	}
	ns.mu.Lock()
	ns.conn = conn
	signin := ns.signin
	ns.mu.Unlock()

	if err := ns.send(protocol.CmdVER, protocol.ProtocolVersion, protocol.ProtocolFallback); err != nil {
		return err
	}

	select {
	case err := <-signin:
		if err != nil {
			conn.Close()
		}
		return err
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// send issues a transacted command with the next transaction id.
func (ns *notificationSession) send(t protocol.CommandType, args ...string) error {
	ns.mu.Lock()
	ns.tid++
	tid := ns.tid
	conn := ns.conn
	ns.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(protocol.NewCommand(t, tid).AddArguments(args...))
}

func (ns *notificationSession) HandleCommand(cmd *protocol.Command) error {
	switch cmd.Type {
	case protocol.CmdVER:
		return ns.send(protocol.CmdCVR, protocol.ClientInfo+ns.cfg.Account)

	case protocol.CmdCVR:
		return ns.send(protocol.CmdUSR, "TWN", "I", ns.cfg.Account)

	case protocol.CmdUSR:
		return ns.handleAuth(cmd)

	case protocol.CmdCHL:
		return ns.handleChallenge(cmd)

	case protocol.CmdCHG:
		if st, err := cmd.Status(); err == nil {
			ns.mu.Lock()
			ns.status = st
			ns.mu.Unlock()
		}
		return nil

	case protocol.CmdILN, protocol.CmdNLN, protocol.CmdFLN:
		return ns.handlePresence(cmd)

	case protocol.CmdLST:
		return ns.handleListEntry(cmd)

	case protocol.CmdLSG:
		return ns.handleGroupEntry(cmd)

	case protocol.CmdBPR:
		return ns.handleContactProperty(cmd)

	case protocol.CmdPRP:
		return ns.handleOwnProperty(cmd)

	case protocol.CmdADD:
		return ns.handleListChange(cmd, true)

	case protocol.CmdREM:
		return ns.handleListChange(cmd, false)

	case protocol.CmdREA:
		return ns.handleRename(cmd)

	case protocol.CmdSYN:
		if serial, err := cmd.SerialNumber(); err == nil {
			ns.mu.Lock()
			ns.serial = serial
			ns.mu.Unlock()
		}
		return nil

	case protocol.CmdGTC:
		if v, err := cmd.GTCSetting(); err == nil {
			ns.mu.Lock()
			ns.gtcSetting = v
			ns.mu.Unlock()
		}
		return nil

	case protocol.CmdBLP:
		if v, err := cmd.BLPSetting(); err == nil {
			ns.mu.Lock()
			ns.blpSetting = v
			ns.mu.Unlock()
		}
		return nil

	case protocol.CmdXFR:
		return ns.handleReferral(cmd)

	case protocol.CmdRNG:
		return ns.handleRing(cmd)

	case protocol.CmdMSG:
		// Server notices (new mail, initial profile). Not chat traffic.
		return nil

	case protocol.CmdOUT:
		reason, _ := cmd.ExitStatus()
		if reason != "" {
			log.Printf("server ended the session: %s", reason)
		}
		ns.mu.Lock()
		conn := ns.conn
		ns.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil

	case protocol.CmdError:
		code, _ := cmd.ErrorCode()
		ns.mu.Lock()
		pending := !ns.authenticated
		ns.mu.Unlock()
		if pending {
			ns.failLogin(fmt.Errorf("%w: server error %d", ErrSignInFailed, code))
			return nil
		}
		log.Printf("notification server error %d", code)
		return nil

	default:
		return nil
	}
}

// handleAuth advances the USR handshake: the TWN challenge leads to a
// passport ticket exchange, and OK completes the login.
func (ns *notificationSession) handleAuth(cmd *protocol.Command) error {
	pkg, err := cmd.SecurityPackage()
	if err != nil {
		return err
	}

	switch pkg {
	case "TWN":
		challenge, err := cmd.ChallengeHash()
		if err != nil {
			return err
		}
		ns.mu.Lock()
		ctx := ns.loginCtx
		ns.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}

		ticket, err := ns.passport.Ticket(ctx, ns.cfg.Account, ns.cfg.Password, challenge)
		if err != nil || ticket == "" {
			if err == nil {
				err = fmt.Errorf("%w: empty ticket", ErrSignInFailed)
			}
			ns.failLogin(err)
			return nil
		}
		return ns.send(protocol.CmdUSR, "TWN", "S", ticket)

	case "OK":
		friendly, _ := cmd.FriendlyName()
		ns.mu.Lock()
		ns.authenticated = true
		ns.friendlyName = friendly
		status := ns.wantStatus
		signin := ns.signin
		ns.mu.Unlock()

		if err := ns.send(protocol.CmdCHG, string(status)); err != nil {
			return err
		}
		select {
		case signin <- nil:
		default:
		}
		ns.events.each(func(l Listener) { l.Authenticated() })
		return nil

	default:
		return nil
	}
}

func (ns *notificationSession) handleChallenge(cmd *protocol.Command) error {
	challenge, err := cmd.ChallengeHash()
	if err != nil {
		return err
	}
	sum := md5.Sum([]byte(challenge + challengeKey))
	return ns.send(protocol.CmdQRY,
		challengeProductID, "32", "\r\n", hex.EncodeToString(sum[:]))
}

func (ns *notificationSession) handlePresence(cmd *protocol.Command) error {
	account, err := cmd.UserName()
	if err != nil {
		return err
	}
	status, err := cmd.Status()
	if err != nil {
		return err
	}
	friendly, _ := cmd.FriendlyName()

	ns.contacts.Update(account, func(c *Contact) {
		c.Status = status
		if friendly != "" {
			c.FriendlyName = friendly
		}
	})
	ns.events.each(func(l Listener) {
		l.ContactPropertyChanged(PropertyChange{
			Account:  account,
			Property: PropertyStatus,
			Value:    string(status),
			Command:  cmd,
		})
	})
	return nil
}

// handleListEntry folds one LST line of a synchronization or list reply
// into the contact list.
func (ns *notificationSession) handleListEntry(cmd *protocol.Command) error {
	account, err := cmd.UserName()
	if err != nil {
		return err
	}
	friendly, _ := cmd.FriendlyName()
	groups := cmd.Groups()

	// Short-form entries carry no membership token; those belong to
	// the forward list.
	lists, err := cmd.Lists()
	if err != nil {
		lists = protocol.ListForward
	}

	if serial, err := cmd.SerialNumber(); err == nil && serial > 0 {
		ns.mu.Lock()
		ns.serial = serial
		ns.mu.Unlock()
	}

	var snapshot Contact
	ns.contacts.Update(account, func(c *Contact) {
		c.Lists = c.Lists.Add(lists)
		if friendly != "" {
			c.FriendlyName = friendly
		}
		if groups != nil {
			c.Groups = groups
		}
		snapshot = *c
	})
	ns.events.each(func(l Listener) { l.ContactReceived(snapshot) })
	return nil
}

func (ns *notificationSession) handleGroupEntry(cmd *protocol.Command) error {
	ids := cmd.Groups()
	if len(ids) == 0 {
		return nil
	}
	name, err := cmd.GroupName()
	if err != nil {
		return err
	}
	if name == "None" {
		name = ""
	}

	ns.mu.Lock()
	ns.groups[ids[0]] = name
	ns.mu.Unlock()
	ns.events.each(func(l Listener) { l.GroupReceived(ids[0], name) })
	return nil
}

func (ns *notificationSession) handleContactProperty(cmd *protocol.Command) error {
	account, err := cmd.UserName()
	if err != nil {
		return err
	}
	prop, err := cmd.Property()
	if err != nil {
		return err
	}
	value, _ := cmd.Value()

	var changed ContactProperty
	switch prop {
	case "PHH":
		changed = PropertyHomePhone
	case "PHW":
		changed = PropertyWorkPhone
	case "PHM":
		changed = PropertyMobilePhone
	case "MOB":
		changed = PropertyMobileEnabled
	default:
		// Unknown property codes carry nothing we track.
		return nil
	}

	ns.contacts.Update(account, func(c *Contact) {
		switch changed {
		case PropertyHomePhone:
			c.HomePhone = value
		case PropertyWorkPhone:
			c.WorkPhone = value
		case PropertyMobilePhone:
			c.MobilePhone = value
		case PropertyMobileEnabled:
			c.MobileEnabled = value == "Y"
		}
	})
	ns.events.each(func(l Listener) {
		l.ContactPropertyChanged(PropertyChange{
			Account:  account,
			Property: changed,
			Value:    value,
			Command:  cmd,
		})
	})
	return nil
}

func (ns *notificationSession) handleOwnProperty(cmd *protocol.Command) error {
	prop, err := cmd.Property()
	if err != nil {
		return err
	}
	value, _ := cmd.Value()

	ns.mu.Lock()
	ns.properties[prop] = value
	if serial, err := cmd.SerialNumber(); err == nil {
		ns.serial = serial
	}
	ns.mu.Unlock()
	return nil
}

func (ns *notificationSession) handleListChange(cmd *protocol.Command, added bool) error {
	account, err := cmd.UserName()
	if err != nil {
		return err
	}
	lists, err := cmd.Lists()
	if err != nil {
		return err
	}
	if serial, err := cmd.SerialNumber(); err == nil {
		ns.mu.Lock()
		ns.serial = serial
		ns.mu.Unlock()
	}

	if added {
		friendly, _ := cmd.FriendlyName()
		ns.contacts.Update(account, func(c *Contact) {
			c.Lists = c.Lists.Add(lists)
			if friendly != "" {
				c.FriendlyName = friendly
			}
		})
		ns.events.each(func(l Listener) { l.ContactAdded(account, lists) })
		return nil
	}

	ns.contacts.Update(account, func(c *Contact) {
		c.Lists = c.Lists.Remove(lists)
	})
	ns.events.each(func(l Listener) { l.ContactRemoved(account, lists) })
	return nil
}

func (ns *notificationSession) handleRename(cmd *protocol.Command) error {
	account, err := cmd.UserName()
	if err != nil {
		return err
	}
	friendly, _ := cmd.FriendlyName()
	if serial, err := cmd.SerialNumber(); err == nil {
		ns.mu.Lock()
		ns.serial = serial
		ns.mu.Unlock()
	}

	if account == ns.cfg.Account {
		ns.mu.Lock()
		ns.friendlyName = friendly
		ns.mu.Unlock()
		return nil
	}

	ns.contacts.Update(account, func(c *Contact) { c.FriendlyName = friendly })
	ns.events.each(func(l Listener) {
		l.ContactPropertyChanged(PropertyChange{
			Account:  account,
			Property: PropertyFriendlyName,
			Value:    friendly,
			Command:  cmd,
		})
	})
	return nil
}

// handleReferral matches a switchboard referral to the session that
// requested it, by transaction id.
func (ns *notificationSession) handleReferral(cmd *protocol.Command) error {
	kind, err := cmd.ReferralType()
	if err != nil {
		return err
	}
	if kind != "SB" {
		return nil
	}

	sb, ok := ns.referrals.take(cmd.TransactionID)
	if !ok {
		log.Printf("unsolicited switchboard referral, transaction %d", cmd.TransactionID)
		return nil
	}

	host, err := cmd.ServerAddress()
	if err != nil {
		return err
	}
	port, err := cmd.ServerPort()
	if err != nil {
		return err
	}
	challenge, err := cmd.ChallengeHash()
	if err != nil {
		return err
	}
	return ns.connectSwitchboard(sb, host+":"+strconv.Itoa(port), challenge)
}

// connectSwitchboard dials a switchboard for the session. A failed
// dial drops the session so later sends request a fresh referral
// instead of queueing against a dead one.
func (ns *notificationSession) connectSwitchboard(sb *switchboardSession, addr, challenge string) error {
	if err := sb.connect(addr, challenge); err != nil {
		ns.releaseSwitchboard(sb.peer)
		log.Printf("switchboard for %s unreachable, dropping queued messages: %v", sb.peer, err)
		return err
	}
	return nil
}

// handleRing answers an incoming chat invitation.
func (ns *notificationSession) handleRing(cmd *protocol.Command) error {
	peer, err := cmd.UserName()
	if err != nil {
		return err
	}
	sid, err := cmd.SessionID()
	if err != nil {
		return err
	}
	host, err := cmd.ServerAddress()
	if err != nil {
		return err
	}
	port, err := cmd.ServerPort()
	if err != nil {
		return err
	}
	challenge, err := cmd.ChallengeHash()
	if err != nil {
		return err
	}

	sb := newSwitchboardSession(ns, peer)
	sb.answering = true
	sb.sessionID = sid

	ns.mu.Lock()
	ns.switchboards[peer] = sb
	ns.mu.Unlock()

	return ns.connectSwitchboard(sb, host+":"+strconv.Itoa(port), challenge)
}

func (ns *notificationSession) Disconnected() {
	ns.mu.Lock()
	wasAuthenticated := ns.authenticated
	ns.authenticated = false
	ns.conn = nil
	signin := ns.signin
	ns.mu.Unlock()

	if !wasAuthenticated && signin != nil {
		select {
		case signin <- ErrSignInFailed:
		default:
		}
	}
	ns.events.each(func(l Listener) { l.Disconnected() })
}

// failLogin resolves a pending sign-in with an error and drops the
// connection.
func (ns *notificationSession) failLogin(err error) {
	ns.mu.Lock()
	signin := ns.signin
	conn := ns.conn
	ns.mu.Unlock()

	if signin != nil {
		select {
		case signin <- err:
		default:
		}
	}
	ns.events.each(func(l Listener) { l.AuthenticationFailed(err) })
	if conn != nil {
		conn.Close()
	}
}

// Session operations, called from the public facade.

func (ns *notificationSession) setStatus(status protocol.Status) error {
	if status == protocol.StatusUnknown {
		return nil
	}
	if !ns.isSignedIn() {
		return ErrNotSignedIn
	}
	// Remember the request so a later sign-in re-announces it.
	ns.mu.Lock()
	ns.wantStatus = status
	ns.mu.Unlock()
	return ns.send(protocol.CmdCHG, string(status))
}

func (ns *notificationSession) setFriendlyName(name string) error {
	if !ns.isSignedIn() {
		return ErrNotSignedIn
	}
	return ns.send(protocol.CmdREA, ns.cfg.Account, protocol.Escape(name))
}

func (ns *notificationSession) addContact(account string, lists protocol.ListSet) error {
	if lists.Has(protocol.ListReverse) {
		return ErrReverseList
	}
	code, err := lists.Code()
	if err != nil {
		return err
	}
	if !ns.isSignedIn() {
		return ErrNotSignedIn
	}
	return ns.send(protocol.CmdADD, code, account, account)
}

func (ns *notificationSession) removeContact(account string, lists protocol.ListSet) error {
	if lists.Has(protocol.ListReverse) {
		return ErrReverseList
	}
	code, err := lists.Code()
	if err != nil {
		return err
	}
	if !ns.isSignedIn() {
		return ErrNotSignedIn
	}
	return ns.send(protocol.CmdREM, code, account)
}

func (ns *notificationSession) requestList(lists protocol.ListSet) error {
	code, err := lists.Code()
	if err != nil {
		return err
	}
	if !ns.isSignedIn() {
		return ErrNotSignedIn
	}
	return ns.send(protocol.CmdLST, code)
}

// synchronize discards local list state and requests a full
// synchronization from the server.
func (ns *notificationSession) synchronize() error {
	if !ns.isSignedIn() {
		return ErrNotSignedIn
	}
	ns.contacts.Clear()
	ns.mu.Lock()
	ns.groups = make(map[int]string)
	ns.mu.Unlock()
	return ns.send(protocol.CmdSYN, "0")
}

func (ns *notificationSession) sendEmailInvitation(email string) error {
	if !ns.isSignedIn() {
		return ErrNotSignedIn
	}
	return ns.send(protocol.CmdSDC,
		email, "0x0409", "MSMSGS", "X", "X", protocol.Escape(ns.cfg.Account), "8")
}

// sendMessage delivers a chat message, opening a switchboard session
// for the peer when none exists yet.
func (ns *notificationSession) sendMessage(peer, text string) error {
	ns.mu.Lock()
	if !ns.authenticated {
		ns.mu.Unlock()
		return ErrNotSignedIn
	}
	sb, exists := ns.switchboards[peer]
	if !exists {
		sb = newSwitchboardSession(ns, peer)
		ns.switchboards[peer] = sb
	}
	ns.mu.Unlock()

	if err := sb.send(text); err != nil {
		return err
	}
	if exists {
		return nil
	}
	return ns.requestSwitchboard(sb)
}

func (ns *notificationSession) requestSwitchboard(sb *switchboardSession) error {
	ns.mu.Lock()
	ns.tid++
	tid := ns.tid
	conn := ns.conn
	ns.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	ns.referrals.put(tid, sb)
	return conn.Send(protocol.NewCommand(protocol.CmdXFR, tid).AddArgument("SB"))
}

func (ns *notificationSession) releaseSwitchboard(peer string) {
	ns.mu.Lock()
	delete(ns.switchboards, peer)
	ns.mu.Unlock()
}

func (ns *notificationSession) signOut() {
	ns.mu.Lock()
	conn := ns.conn
	ns.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Send(protocol.NewCommand(protocol.CmdOUT, protocol.NoTransactionID))
	conn.Close()
}

// sendCommand writes a caller-built command verbatim.
func (ns *notificationSession) sendCommand(cmd *protocol.Command) error {
	ns.mu.Lock()
	conn := ns.conn
	ns.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(cmd)
}

func (ns *notificationSession) isSignedIn() bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.authenticated
}

func (ns *notificationSession) currentStatus() protocol.Status {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.status
}

func (ns *notificationSession) displayName() string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.friendlyName
}

func (ns *notificationSession) groupsSnapshot() map[int]string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	snapshot := make(map[int]string, len(ns.groups))
	for id, name := range ns.groups {
		snapshot[id] = name
	}
	return snapshot
}
