package network

import (
	"testing"

	"github.com/openmsn/gomsn/pkg/protocol"
)

func TestContactListUpdateCreates(t *testing.T) {
	cl := NewContactList()

	cl.Update("alice@example.com", func(c *Contact) {
		c.FriendlyName = "Alice"
	})

	alice, ok := cl.Get("alice@example.com")
	if !ok {
		t.Fatal("contact missing after Update")
	}
	if alice.FriendlyName != "Alice" {
		t.Errorf("FriendlyName = %q, want %q", alice.FriendlyName, "Alice")
	}
	if alice.Status != protocol.StatusOffline {
		t.Errorf("new contact status = %v, want offline", alice.Status)
	}
	if !alice.Lists.Has(protocol.ListForward) {
		t.Errorf("new contact lists = %v, want forward membership", alice.Lists)
	}
}

func TestContactListGetReturnsCopy(t *testing.T) {
	cl := NewContactList()
	cl.Update("alice@example.com", func(c *Contact) { c.FriendlyName = "Alice" })

	copy1, _ := cl.Get("alice@example.com")
	copy1.FriendlyName = "changed"

	copy2, _ := cl.Get("alice@example.com")
	if copy2.FriendlyName != "Alice" {
		t.Errorf("mutating a Get copy leaked into the list: %q", copy2.FriendlyName)
	}
}

func TestContactListAllSorted(t *testing.T) {
	cl := NewContactList()
	for _, account := range []string{"carol@example.com", "alice@example.com", "bob@example.com"} {
		cl.Update(account, func(c *Contact) {})
	}

	all := cl.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d contacts, want 3", len(all))
	}
	want := []string{"alice@example.com", "bob@example.com", "carol@example.com"}
	for i, account := range want {
		if all[i].Account != account {
			t.Errorf("All()[%d] = %q, want %q", i, all[i].Account, account)
		}
	}
}

func TestContactListClear(t *testing.T) {
	cl := NewContactList()
	cl.Update("alice@example.com", func(c *Contact) {})
	cl.Clear()

	if cl.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", cl.Len())
	}
	if _, ok := cl.Get("alice@example.com"); ok {
		t.Error("contact survived Clear")
	}
}

func TestContactListRemove(t *testing.T) {
	cl := NewContactList()
	cl.Update("alice@example.com", func(c *Contact) {})
	cl.Remove("alice@example.com")

	if _, ok := cl.Get("alice@example.com"); ok {
		t.Error("contact survived Remove")
	}
}
