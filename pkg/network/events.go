package network

import (
	"log"
	"sync"

	"github.com/openmsn/gomsn/pkg/protocol"
)

// ContactProperty names the contact attribute a change event refers to.
type ContactProperty int

const (
	PropertyStatus ContactProperty = iota
	PropertyFriendlyName
	PropertyHomePhone
	PropertyWorkPhone
	PropertyMobilePhone
	PropertyMobileEnabled
)

// Message is an instant message received through a switchboard chat.
type Message struct {
	Account      string
	FriendlyName string
	Body         string
}

// PropertyChange describes one contact attribute update. Command is
// the server line that carried it, for listeners that log or audit
// raw traffic.
type PropertyChange struct {
	Account  string
	Property ContactProperty
	Value    string
	Command  *protocol.Command
}

// Listener receives session events. Callbacks run on the session's
// dispatch goroutine; blocking in one stalls command processing.
type Listener interface {
	Authenticated()
	AuthenticationFailed(err error)
	Disconnected()
	MessageReceived(msg Message)
	ContactPropertyChanged(change PropertyChange)
	ContactAdded(account string, list protocol.ListSet)
	ContactRemoved(account string, list protocol.ListSet)
	ContactReceived(contact Contact)
	GroupReceived(id int, name string)
}

// ListenerAdapter is a no-op Listener. Embed it to implement only the
// callbacks a listener cares about.
type ListenerAdapter struct{}

func (ListenerAdapter) Authenticated()                          {}
func (ListenerAdapter) AuthenticationFailed(error)              {}
func (ListenerAdapter) Disconnected()                           {}
func (ListenerAdapter) MessageReceived(Message)                 {}
func (ListenerAdapter) ContactPropertyChanged(PropertyChange)   {}
func (ListenerAdapter) ContactAdded(string, protocol.ListSet)   {}
func (ListenerAdapter) ContactRemoved(string, protocol.ListSet) {}
func (ListenerAdapter) ContactReceived(Contact)                 {}
func (ListenerAdapter) GroupReceived(int, string)               {}

// broadcaster fans session events out to registered listeners. A panic
// in one listener is logged and does not reach the others.
type broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (b *broadcaster) add(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *broadcaster) remove(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, registered := range b.listeners {
		if registered == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *broadcaster) each(fn func(Listener)) {
	b.mu.RLock()
	snapshot := append([]Listener(nil), b.listeners...)
	b.mu.RUnlock()

	for _, l := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("listener panic: %v", r)
				}
			}()
			fn(l)
		}()
	}
}
