package network

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openmsn/gomsn/pkg/protocol"
)

// readChat reads one MSG command and its body off a scripted
// switchboard connection.
func readChat(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	header, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading MSG header: %v", err)
	}
	fields := strings.Fields(header)
	if len(fields) != 4 || fields[0] != "MSG" {
		t.Fatalf("expected a MSG header, got %q", header)
	}
	n, err := strconv.Atoi(fields[3])
	if err != nil {
		t.Fatalf("bad MSG length in %q", header)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("reading MSG body: %v", err)
	}
	return string(body)
}

func TestSwitchboardQueuesUntilJoin(t *testing.T) {
	ns, _ := testSession(t, nil)
	sb := newSwitchboardSession(ns, "alice@example.com")

	bodies := make(chan string, 4)
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)

		line, _ := r.ReadString('\n') // USR <tid> user@example.com <challenge>
		if !strings.HasPrefix(line, "USR ") || !strings.Contains(line, "cki123") {
			t.Errorf("switchboard open = %q, want USR with the challenge", line)
		}
		conn.Write([]byte("USR 1 OK user@example.com My%20Name\r\n"))

		line, _ = r.ReadString('\n') // CAL <tid> alice@example.com
		if !strings.HasPrefix(line, "CAL ") || !strings.Contains(line, "alice@example.com") {
			t.Errorf("invite = %q, want CAL for the peer", line)
		}
		conn.Write([]byte("CAL 2 RINGING 11752099\r\n"))
		conn.Write([]byte("JOI alice@example.com Alice\r\n"))

		bodies <- readChat(t, r)
		bodies <- readChat(t, r)
		io.Copy(io.Discard, r)
	}()

	// Queued before the session is even connected.
	if err := sb.send("first"); err != nil {
		t.Fatalf("send() error = %v", err)
	}
	if err := sb.send("second"); err != nil {
		t.Fatalf("send() error = %v", err)
	}
	if err := sb.connect(ln.Addr().String(), "cki123"); err != nil {
		t.Fatalf("connect() error = %v", err)
	}

	for _, want := range []string{"first", "second"} {
		select {
		case body := <-bodies:
			if !strings.HasPrefix(body, "MIME-Version: 1.0") {
				t.Errorf("message body %q is missing the MIME envelope", body)
			}
			if !strings.HasSuffix(body, want) {
				t.Errorf("message body %q, want text %q", body, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q to flush", want)
		}
	}

	sb.mu.Lock()
	sid := sb.sessionID
	sb.mu.Unlock()
	if sid != "11752099" {
		t.Errorf("sessionID = %q, want %q", sid, "11752099")
	}
}

func TestSwitchboardAnswersRing(t *testing.T) {
	ns, _ := testSession(t, nil)

	opened := make(chan string, 1)
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		line, _ := r.ReadString('\n')
		opened <- line
		conn.Write([]byte("ANS 1 OK\r\n"))
		io.Copy(io.Discard, r)
	}()

	addr := ln.Addr().String()
	host, portStr, _ := strings.Cut(addr, ":")
	handle(t, ns, "RNG 11752099 "+host+":"+portStr+" CKI 849102291.520491932 alice@example.com Alice")

	select {
	case line := <-opened:
		if !strings.HasPrefix(line, "ANS ") {
			t.Errorf("answered session opened with %q, want ANS", line)
		}
		for _, part := range []string{"user@example.com", "849102291.520491932", "11752099"} {
			if !strings.Contains(line, part) {
				t.Errorf("ANS line %q is missing %q", line, part)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ring was not answered")
	}

	ns.mu.Lock()
	_, registered := ns.switchboards["alice@example.com"]
	ns.mu.Unlock()
	if !registered {
		t.Error("answered session was not registered for the peer")
	}
}

func TestSwitchboardIncomingMessage(t *testing.T) {
	ns, events := testSession(t, nil)
	sb := newSwitchboardSession(ns, "alice@example.com")

	chat, err := protocol.Parse("MSG alice@example.com Alice 0")
	if err != nil {
		t.Fatal(err)
	}
	chat.Body = mimeHeader + "hello there"
	if err := sb.HandleCommand(chat); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}

	select {
	case msg := <-events.messages:
		if msg.Account != "alice@example.com" || msg.Body != "hello there" {
			t.Errorf("MessageReceived = %+v", msg)
		}
		if msg.FriendlyName != "Alice" {
			t.Errorf("FriendlyName = %q, want %q", msg.FriendlyName, "Alice")
		}
	case <-time.After(time.Second):
		t.Fatal("no MessageReceived event")
	}

	// Control payloads are not chat messages.
	typing, err := protocol.Parse("MSG alice@example.com Alice 0")
	if err != nil {
		t.Fatal(err)
	}
	typing.Body = "MIME-Version: 1.0\r\nContent-Type: text/x-msmsgscontrol\r\nTypingUser: alice@example.com\r\n\r\n"
	if err := sb.HandleCommand(typing); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	select {
	case msg := <-events.messages:
		t.Errorf("typing notification surfaced as a message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSwitchboardLeavesWhenEmpty(t *testing.T) {
	ns, _ := testSession(t, nil)
	sb := newSwitchboardSession(ns, "alice@example.com")
	ns.mu.Lock()
	ns.switchboards["alice@example.com"] = sb
	ns.mu.Unlock()

	left := make(chan string, 1)
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		r.ReadString('\n') // USR
		conn.Write([]byte("USR 1 OK user@example.com My%20Name\r\n"))
		r.ReadString('\n') // CAL
		conn.Write([]byte("CAL 2 RINGING 11752099\r\n"))
		conn.Write([]byte("JOI alice@example.com Alice\r\n"))
		conn.Write([]byte("BYE alice@example.com\r\n"))
		line, _ := r.ReadString('\n')
		left <- line
	}()

	if err := sb.connect(ln.Addr().String(), "cki123"); err != nil {
		t.Fatalf("connect() error = %v", err)
	}

	select {
	case line := <-left:
		if strings.TrimRight(line, "\r\n") != "OUT" {
			t.Errorf("session left with %q, want OUT", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not leave after the last participant")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		ns.mu.Lock()
		_, registered := ns.switchboards["alice@example.com"]
		ns.mu.Unlock()
		if !registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not released after closing")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSwitchboardReleasedOnConnectFailure(t *testing.T) {
	ns, _ := testSession(t, nil)

	// A listener that is already closed gives an address nothing
	// accepts on.
	ln := listen(t)
	addr := ln.Addr().String()
	ln.Close()

	sb := newSwitchboardSession(ns, "alice@example.com")
	ns.mu.Lock()
	ns.switchboards["alice@example.com"] = sb
	ns.mu.Unlock()
	ns.referrals.put(7, sb)
	if err := sb.send("stranded"); err != nil {
		t.Fatalf("send() error = %v", err)
	}

	cmd, err := protocol.Parse("XFR 7 SB " + addr + " CKI 17262740.1050826919.32308")
	if err != nil {
		t.Fatal(err)
	}
	if err := ns.HandleCommand(cmd); err == nil {
		t.Fatal("HandleCommand() error = nil, want a dial failure")
	}

	ns.mu.Lock()
	_, registered := ns.switchboards["alice@example.com"]
	ns.mu.Unlock()
	if registered {
		t.Error("unreachable session left registered; later sends would stall")
	}
}

func TestSendMessageRequestsOneReferral(t *testing.T) {
	ns, _ := testSession(t, nil)

	referrals := make(chan string, 4)
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "XFR ") {
				referrals <- strings.TrimRight(line, "\r\n")
			}
		}
	}()

	conn, err := Dial(ln.Addr().String(), ns)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	ns.mu.Lock()
	ns.conn = conn
	ns.authenticated = true
	ns.mu.Unlock()
	defer conn.Close()

	if err := ns.sendMessage("alice@example.com", "one"); err != nil {
		t.Fatalf("sendMessage() error = %v", err)
	}
	if err := ns.sendMessage("alice@example.com", "two"); err != nil {
		t.Fatalf("sendMessage() error = %v", err)
	}

	select {
	case <-referrals:
	case <-time.After(2 * time.Second):
		t.Fatal("no switchboard referral was requested")
	}
	select {
	case extra := <-referrals:
		t.Errorf("second referral %q for the same peer", extra)
	case <-time.After(200 * time.Millisecond):
	}

	ns.mu.Lock()
	sb := ns.switchboards["alice@example.com"]
	ns.mu.Unlock()
	if sb == nil {
		t.Fatal("no switchboard session for the peer")
	}
	sb.mu.Lock()
	queued := len(sb.queue)
	sb.mu.Unlock()
	if queued != 2 {
		t.Errorf("queued = %d messages, want 2", queued)
	}
}
