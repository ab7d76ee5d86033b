package network

import "sync"

// referralTable correlates switchboard referral requests with their
// replies. Each XFR request is keyed by its transaction id, so replies
// match their requester even when several are in flight.
type referralTable struct {
	mu      sync.Mutex
	pending map[int]*switchboardSession
}

func newReferralTable() *referralTable {
	return &referralTable{pending: make(map[int]*switchboardSession)}
}

func (t *referralTable) put(tid int, sb *switchboardSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[tid] = sb
}

func (t *referralTable) take(tid int) (*switchboardSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sb, ok := t.pending[tid]
	if ok {
		delete(t.pending, tid)
	}
	return sb, ok
}
