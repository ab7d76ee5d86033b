package network

import (
	"sort"
	"sync"

	"github.com/openmsn/gomsn/pkg/protocol"
)

// Contact is one entry in the contact list.
type Contact struct {
	Account      string
	FriendlyName string
	RealName     string
	Status       protocol.Status
	Lists        protocol.ListSet
	Groups       []int

	HomePhone     string
	WorkPhone     string
	MobilePhone   string
	MobileEnabled bool
}

// newContact seeds a contact the way the server reports them before any
// presence arrives: on the forward list and offline.
func newContact(account string) *Contact {
	return &Contact{
		Account: account,
		Status:  protocol.StatusOffline,
		Lists:   protocol.ListForward,
	}
}

// ContactList is the set of known contacts, keyed by account. All
// methods are safe for concurrent use; Get and All return copies.
type ContactList struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
}

// NewContactList creates an empty contact list.
func NewContactList() *ContactList {
	return &ContactList{contacts: make(map[string]*Contact)}
}

// Get returns a copy of the named contact.
func (cl *ContactList) Get(account string) (Contact, bool) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	c, ok := cl.contacts[account]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// Update applies fn to the named contact under the list lock, creating
// the contact first if it is unknown.
func (cl *ContactList) Update(account string, fn func(*Contact)) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	c, ok := cl.contacts[account]
	if !ok {
		c = newContact(account)
		cl.contacts[account] = c
	}
	fn(c)
}

// Remove drops the named contact.
func (cl *ContactList) Remove(account string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.contacts, account)
}

// All returns copies of every contact, ordered by account.
func (cl *ContactList) All() []Contact {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	all := make([]Contact, 0, len(cl.contacts))
	for _, c := range cl.contacts {
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Account < all[j].Account })
	return all
}

// Len returns the number of known contacts.
func (cl *ContactList) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.contacts)
}

// Clear empties the list, ahead of a fresh synchronization.
func (cl *ContactList) Clear() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.contacts = make(map[string]*Contact)
}
