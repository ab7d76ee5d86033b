// Package network implements the client side of the messenger service:
// dispatch referral, notification server session, switchboard chats and
// the contact list those sessions maintain.
package network

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/openmsn/gomsn/pkg/protocol"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNotSignedIn  = errors.New("not signed in")
)

const (
	dialTimeout = 30 * time.Second

	// commandQueueSize bounds the inbound command queue. The read loop
	// blocks when the handler falls behind, which pushes back on the
	// server instead of growing memory.
	commandQueueSize = 64
)

// Handler receives parsed commands from a connection. Commands are
// delivered one at a time, in arrival order, from a single goroutine.
type Handler interface {
	HandleCommand(cmd *protocol.Command) error
	Disconnected()
}

// Conn is a single command-line connection to a messenger server.
type Conn struct {
	conn    net.Conn
	handler Handler
	addr    string

	queue chan *protocol.Command
	done  chan struct{}
	once  sync.Once

	writeMu sync.Mutex
}

// Dial connects to a server and starts the read and dispatch loops.
// The handler's Disconnected is called exactly once, whether the
// connection drops or Close is called.
func Dial(addr string, handler Handler) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		conn:    nc,
		handler: handler,
		addr:    addr,
		queue:   make(chan *protocol.Command, commandQueueSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

// Send writes a command to the server.
func (c *Conn) Send(cmd *protocol.Command) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	log.Printf("<<< %s", cmd)
	if _, err := c.conn.Write([]byte(cmd.Encode())); err != nil {
		c.shutdown()
		return err
	}
	return nil
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.shutdown()
}

// Addr returns the remote address the connection was dialed with.
func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
		c.handler.Disconnected()
	})
}

// readLoop parses command lines off the wire and queues them for
// dispatch. A line that does not parse is logged and skipped; the
// connection stays up.
func (c *Conn) readLoop() {
	defer c.shutdown()

	r := bufio.NewReader(c.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.Printf("read from %s failed: %v", c.addr, err)
			}
			return
		}

		cmd, err := protocol.Parse(strings.TrimRight(line, "\r\n"))
		if err != nil {
			log.Printf("dropping line from %s: %v", c.addr, err)
			continue
		}

		if cmd.HasBody() {
			n, _ := cmd.BodyLength()
			if n > 0 {
				body := make([]byte, n)
				if _, err := io.ReadFull(r, body); err != nil {
					log.Printf("read message body from %s failed: %v", c.addr, err)
					return
				}
				cmd.Body = string(body)
			}
		}
		log.Printf(">>> %s", cmd)

		select {
		case c.queue <- cmd:
		case <-c.done:
			return
		}
	}
}

// dispatchLoop feeds queued commands to the handler.
func (c *Conn) dispatchLoop() {
	for {
		select {
		case cmd := <-c.queue:
			if err := c.handler.HandleCommand(cmd); err != nil {
				log.Printf("handling %s from %s failed: %v", cmd.Type, c.addr, err)
			}
		case <-c.done:
			return
		}
	}
}
