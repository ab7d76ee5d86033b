package network

import (
	"bufio"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmsn/gomsn/pkg/protocol"
)

// chanHandler funnels handler callbacks into channels for assertions.
type chanHandler struct {
	commands    chan *protocol.Command
	disconnects int32
	closed      chan struct{}
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		commands: make(chan *protocol.Command, 16),
		closed:   make(chan struct{}, 4),
	}
}

func (h *chanHandler) HandleCommand(cmd *protocol.Command) error {
	h.commands <- cmd
	return nil
}

func (h *chanHandler) Disconnected() {
	atomic.AddInt32(&h.disconnects, 1)
	h.closed <- struct{}{}
}

func (h *chanHandler) next(t *testing.T) *protocol.Command {
	t.Helper()
	select {
	case cmd := <-h.commands:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a command")
		return nil
	}
}

func (h *chanHandler) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestConnDeliversCommandsInOrder(t *testing.T) {
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("VER 1 MSNP8 CVR0\r\n"))
		conn.Write([]byte("MSG alice@example.com Alice 5\r\nhello"))
		conn.Write([]byte("OUT\r\n"))
		conn.Close()
	}()

	h := newChanHandler()
	c, err := Dial(ln.Addr().String(), h)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if cmd := h.next(t); cmd.Type != protocol.CmdVER {
		t.Errorf("first command = %v, want VER", cmd.Type)
	}
	msg := h.next(t)
	if msg.Type != protocol.CmdMSG {
		t.Fatalf("second command = %v, want MSG", msg.Type)
	}
	if msg.Body != "hello" {
		t.Errorf("MSG body = %q, want %q", msg.Body, "hello")
	}
	if cmd := h.next(t); cmd.Type != protocol.CmdOUT {
		t.Errorf("third command = %v, want OUT", cmd.Type)
	}

	h.waitClosed(t)
}

func TestConnSend(t *testing.T) {
	ln := listen(t)
	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
		conn.Close()
	}()

	h := newChanHandler()
	c, err := Dial(ln.Addr().String(), h)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := c.Send(protocol.NewCommand(protocol.CmdCHG, 1).AddArgument("NLN")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case line := <-received:
		if line != "CHG 1 NLN\r\n" {
			t.Errorf("server received %q, want %q", line, "CHG 1 NLN\r\n")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to receive")
	}
}

func TestConnDisconnectIsIdempotent(t *testing.T) {
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1)
		conn.Read(buf)
	}()

	h := newChanHandler()
	c, err := Dial(ln.Addr().String(), h)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	c.Close()
	c.Close()
	h.waitClosed(t)

	if err := c.Send(protocol.NewCommand(protocol.CmdCHG, 1).AddArgument("NLN")); err != ErrNotConnected {
		t.Errorf("Send() after close error = %v, want ErrNotConnected", err)
	}

	// Allow any late callbacks to land before counting.
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&h.disconnects); n != 1 {
		t.Errorf("Disconnected called %d times, want 1", n)
	}
}

func TestConnDropsUnparseableLines(t *testing.T) {
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("GARBAGE LINE HERE\r\n"))
		conn.Write([]byte("CHG 7 NLN\r\n"))
		conn.Close()
	}()

	h := newChanHandler()
	c, err := Dial(ln.Addr().String(), h)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if cmd := h.next(t); cmd.Type != protocol.CmdCHG {
		t.Errorf("command after garbage = %v, want CHG", cmd.Type)
	}
}
