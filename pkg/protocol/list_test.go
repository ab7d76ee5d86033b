package protocol

import (
	"errors"
	"testing"
)

func TestParseListSet(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  ListSet
	}{
		{"forward code", "FL", ListForward},
		{"allow code", "AL", ListAllow},
		{"block code", "BL", ListBlock},
		{"reverse code", "RL", ListReverse},
		{"bitmask", "3", ListForward | ListAllow},
		{"bitmask with stray bits", "19", ListForward | ListAllow},
		{"empty bitmask", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseListSet(tt.token)
			if err != nil {
				t.Fatalf("ParseListSet(%q) error = %v", tt.token, err)
			}
			if got != tt.want {
				t.Errorf("ParseListSet(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}

	if _, err := ParseListSet("XX"); !errors.Is(err, ErrBadListCode) {
		t.Errorf("ParseListSet(\"XX\") error = %v, want ErrBadListCode", err)
	}
}

func TestListSetOperations(t *testing.T) {
	s := ListForward.Add(ListReverse)

	if !s.Has(ListForward) || !s.Has(ListReverse) {
		t.Errorf("Has() missing members in %v", s)
	}
	if s.Has(ListBlock) {
		t.Errorf("Has(ListBlock) = true in %v", s)
	}

	s = s.Remove(ListReverse)
	if s != ListForward {
		t.Errorf("Remove() = %v, want %v", s, ListForward)
	}
}

func TestListSetCode(t *testing.T) {
	code, err := ListAllow.Code()
	if err != nil {
		t.Fatalf("Code() error = %v", err)
	}
	if code != "AL" {
		t.Errorf("Code() = %q, want %q", code, "AL")
	}

	if _, err := (ListForward | ListBlock).Code(); !errors.Is(err, ErrBadListCode) {
		t.Errorf("Code() on multi-list set error = %v, want ErrBadListCode", err)
	}
	if _, err := ListSet(0).Code(); !errors.Is(err, ErrBadListCode) {
		t.Errorf("Code() on empty set error = %v, want ErrBadListCode", err)
	}
}

func TestListSetString(t *testing.T) {
	if got := (ListForward | ListReverse).String(); got != "FL+RL" {
		t.Errorf("String() = %q, want %q", got, "FL+RL")
	}
	if got := ListSet(0).String(); got != "NONE" {
		t.Errorf("String() = %q, want %q", got, "NONE")
	}
}
