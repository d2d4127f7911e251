package contract

import "sync"

// ErrNotFound is returned when a contract id has no matching record.
type errNotFound struct{}

func (errNotFound) Error() string { return "contract: not found" }

// ErrNotFound is returned by Store.Get/Store.Mutate for an unknown id.
var ErrNotFound error = errNotFound{}

// Store indexes contracts by id, mirroring the mutex-guarded map pattern
// package agent uses for pools and delegations.
type Store struct {
	mu     sync.Mutex
	byID   map[[32]byte]*Contract
	byPub  map[string][][32]byte // hex pubkey -> contract ids it is party to
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[[32]byte]*Contract),
		byPub: make(map[string][][32]byte),
	}
}

// Create registers a new contract built from req and indexes it by both
// parties' pubkeys.
func (s *Store) Create(req Request) *Contract {
	c := New(req)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = c
	s.byPub[hexKey(req.RequesterPubKey)] = append(s.byPub[hexKey(req.RequesterPubKey)], c.ID)
	s.byPub[hexKey(req.ProviderPubKey)] = append(s.byPub[hexKey(req.ProviderPubKey)], c.ID)
	return c
}

// Get returns the contract for id, if any.
func (s *Store) Get(id [32]byte) (*Contract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	return c, ok
}

// Mutate runs fn against the contract for id under the store's lock, so a
// caller's state-machine transition and the store's bookkeeping can never
// race with a concurrent read of the same contract.
func (s *Store) Mutate(id [32]byte, fn func(*Contract) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	return fn(c)
}

// ListByParty returns every contract pubkey is the requester or provider of.
func (s *Store) ListByParty(pubkey []byte) []*Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byPub[hexKey(pubkey)]
	out := make([]*Contract, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func hexKey(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
