package network

import (
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/openmsn/gomsn/pkg/protocol"
)

// mimeHeader is the envelope prepended to every outgoing chat message.
const mimeHeader = "MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n"

// switchboardSession is one chat conversation. The session is created
// in one of two roles: calling, where the client asked the notification
// server for a switchboard referral, or answering, where a ring named
// the switchboard to join. Messages sent before the peer joins are
// queued and flushed on join.
type switchboardSession struct {
	ns        *notificationSession
	peer      string
	answering bool

	mu           sync.Mutex
	conn         *Conn
	sessionID    string
	joined       bool
	participants int
	queue        []string
	tid          int
}

func newSwitchboardSession(ns *notificationSession, peer string) *switchboardSession {
	return &switchboardSession{ns: ns, peer: peer}
}

// connect dials the switchboard and opens the session in its role.
func (sb *switchboardSession) connect(addr, challenge string) error {
	conn, err := Dial(addr, sb)
	if err != nil {
		return err
	}

	sb.mu.Lock()
	sb.conn = conn
	account := sb.ns.cfg.Account
	var open *protocol.Command
	if sb.answering {
		open = protocol.NewCommand(protocol.CmdANS, sb.nextTIDLocked()).
			AddArguments(account, challenge, sb.sessionID)
	} else {
		open = protocol.NewCommand(protocol.CmdUSR, sb.nextTIDLocked()).
			AddArguments(account, challenge)
	}
	sb.mu.Unlock()

	return conn.Send(open)
}

// send delivers a message if the peer has joined, or queues it until
// the join completes.
func (sb *switchboardSession) send(text string) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !sb.joined || sb.conn == nil {
		sb.queue = append(sb.queue, text)
		return nil
	}
	return sb.sendLocked(text)
}

func (sb *switchboardSession) sendLocked(text string) error {
	body := mimeHeader + text
	msg := protocol.NewCommand(protocol.CmdMSG, sb.nextTIDLocked()).
		AddArguments("U", strconv.Itoa(len(body)))
	msg.Body = body
	return sb.conn.Send(msg)
}

// flushLocked drains the pre-join queue in order.
func (sb *switchboardSession) flushLocked() {
	for _, text := range sb.queue {
		if err := sb.sendLocked(text); err != nil {
			log.Printf("flushing queued message to %s failed: %v", sb.peer, err)
			break
		}
	}
	sb.queue = nil
}

func (sb *switchboardSession) nextTIDLocked() int {
	sb.tid++
	return sb.tid
}

func (sb *switchboardSession) HandleCommand(cmd *protocol.Command) error {
	switch cmd.Type {
	case protocol.CmdUSR:
		// Session accepted; invite the peer.
		sb.mu.Lock()
		call := protocol.NewCommand(protocol.CmdCAL, sb.nextTIDLocked()).AddArgument(sb.peer)
		conn := sb.conn
		sb.mu.Unlock()
		return conn.Send(call)

	case protocol.CmdCAL:
		sid, err := cmd.SessionID()
		if err != nil {
			return err
		}
		sb.mu.Lock()
		sb.sessionID = sid
		sb.mu.Unlock()
		return nil

	case protocol.CmdJOI:
		sb.mu.Lock()
		sb.participants++
		sb.joined = true
		sb.flushLocked()
		sb.mu.Unlock()
		return nil

	case protocol.CmdIRO:
		sb.mu.Lock()
		sb.participants++
		sb.mu.Unlock()
		return nil

	case protocol.CmdANS:
		// Join acknowledged on an answered session.
		sb.mu.Lock()
		sb.joined = true
		sb.flushLocked()
		sb.mu.Unlock()
		return nil

	case protocol.CmdBYE:
		sb.mu.Lock()
		sb.participants--
		empty := sb.participants <= 0
		conn := sb.conn
		sb.mu.Unlock()
		if empty {
			conn.Send(protocol.NewCommand(protocol.CmdOUT, protocol.NoTransactionID))
			conn.Close()
		}
		return nil

	case protocol.CmdMSG:
		return sb.handleMessage(cmd)

	case protocol.CmdNAK:
		log.Printf("message to %s was not delivered", sb.peer)
		return nil

	case protocol.CmdError:
		code, _ := cmd.ErrorCode()
		log.Printf("switchboard error %d in chat with %s", code, sb.peer)
		return nil

	default:
		return nil
	}
}

// handleMessage strips the MIME envelope and surfaces plain-text chat
// messages. Control payloads such as typing notifications are dropped.
func (sb *switchboardSession) handleMessage(cmd *protocol.Command) error {
	account, err := cmd.UserName()
	if err != nil {
		return err
	}
	friendly, _ := cmd.FriendlyName()

	headers, text, found := strings.Cut(cmd.Body, "\r\n\r\n")
	if !found {
		headers, text = cmd.Body, ""
	}
	if !strings.Contains(headers, "text/plain") {
		return nil
	}

	sb.ns.events.each(func(l Listener) {
		l.MessageReceived(Message{Account: account, FriendlyName: friendly, Body: text})
	})
	return nil
}

func (sb *switchboardSession) Disconnected() {
	sb.ns.releaseSwitchboard(sb.peer)
}
