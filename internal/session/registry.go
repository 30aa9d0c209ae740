package session

import (
	"sync"
	"time"

	"github.com/Confio-Network/wallet-engine/internal/submitter"
)

// Prepared is a group waiting for the client's signatures, plus the metadata
// the submit path needs to finish bookkeeping.
type Prepared struct {
	Req submitter.Request
	// InvitationID is set for invite operations so the claim path can update
	// the phone-invite mirror after confirmation.
	InvitationID string
}

type pending struct {
	prepared  Prepared
	owner     string // user id; submissions from other principals are rejected
	expiresAt time.Time
}

// registry holds prepared groups between prepare and submit. Entries are
// in-memory only: a dropped connection or restart orphans the source row,
// which the sweep task fails after its TTL.
type registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]pending
}

func newRegistry(ttl time.Duration) *registry {
	return &registry{ttl: ttl, entries: make(map[string]pending)}
}

func (r *registry) put(id, owner string, p Prepared) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = pending{prepared: p, owner: owner, expiresAt: time.Now().Add(r.ttl)}
}

func (r *registry) take(id, owner string) (Prepared, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[id]
	if !ok || p.owner != owner || time.Now().After(p.expiresAt) {
		return Prepared{}, false
	}
	delete(r.entries, id)
	return p.prepared, true
}

// sweep drops expired entries. Called opportunistically from put paths and by
// the worker host.
func (r *registry) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int
	for id, p := range r.entries {
		if now.After(p.expiresAt) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}
