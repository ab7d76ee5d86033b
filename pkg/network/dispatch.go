package network

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/openmsn/gomsn/pkg/protocol"
)

// DefaultDispatchAddr is the public dispatch server. Every login starts
// here; the dispatch server refers the client to a notification server.
const DefaultDispatchAddr = "messenger.hotmail.com:1863"

var ErrDispatchFailed = errors.New("dispatch referral failed")

// ResolveNotificationServer runs the dispatch exchange and returns the
// notification server address the client should sign in to.
func ResolveNotificationServer(ctx context.Context, dispatchAddr, account string) (string, error) {
	h := &dispatchHandler{
		account: account,
		result:  make(chan string, 1),
		fail:    make(chan error, 1),
	}
	conn, err := Dial(dispatchAddr, h)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	if err := h.send(protocol.CmdVER, protocol.ProtocolVersion, protocol.ProtocolFallback); err != nil {
		return "", err
	}

	select {
	case addr := <-h.result:
		return addr, nil
	case err := <-h.fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// dispatchHandler walks the dispatch server through version and client
// negotiation until it hands back a notification referral.
type dispatchHandler struct {
	account string
	result  chan string
	fail    chan error

	mu   sync.Mutex
	conn *Conn
	tid  int
}

func (h *dispatchHandler) send(t protocol.CommandType, args ...string) error {
	h.mu.Lock()
	h.tid++
	tid := h.tid
	conn := h.conn
	h.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(protocol.NewCommand(t, tid).AddArguments(args...))
}

func (h *dispatchHandler) HandleCommand(cmd *protocol.Command) error {
	switch cmd.Type {
	case protocol.CmdVER:
		return h.send(protocol.CmdCVR, protocol.ClientInfo+h.account)

	case protocol.CmdCVR:
		return h.send(protocol.CmdUSR, "TWN", "I", h.account)

	case protocol.CmdXFR:
		kind, err := cmd.ReferralType()
		if err != nil {
			return err
		}
		if kind != "NS" {
			return fmt.Errorf("%w: unexpected %s referral", ErrDispatchFailed, kind)
		}
		host, err := cmd.ServerAddress()
		if err != nil {
			return err
		}
		port, err := cmd.ServerPort()
		if err != nil {
			return err
		}
		h.deliver(host+":"+strconv.Itoa(port), nil)
		return nil

	case protocol.CmdError:
		code, _ := cmd.ErrorCode()
		h.deliver("", fmt.Errorf("%w: server error %d", ErrDispatchFailed, code))
		return nil

	default:
		return nil
	}
}

func (h *dispatchHandler) Disconnected() {
	h.deliver("", fmt.Errorf("%w: connection closed", ErrDispatchFailed))
}

// deliver resolves the exchange once; later outcomes are dropped.
func (h *dispatchHandler) deliver(addr string, err error) {
	if err != nil {
		select {
		case h.fail <- err:
		default:
		}
		return
	}
	select {
	case h.result <- addr:
	default:
	}
}
