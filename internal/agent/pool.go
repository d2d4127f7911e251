// Package agent implements the agent delegation and pool routing
// subsystem: setup tokens, delegated signing keys with a scoped permission
// set, heartbeat-driven liveness tracking, and pool-based assignment.
package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Region is a closed enumeration of the location codes a pool may declare.
type Region string

const (
	RegionUSEast    Region = "us-east"
	RegionUSWest    Region = "us-west"
	RegionEUWest    Region = "eu-west"
	RegionEUCentral Region = "eu-central"
	RegionAPACEast  Region = "apac-east"
	RegionAPACSouth Region = "apac-south"
)

var validRegions = map[Region]bool{
	RegionUSEast:    true,
	RegionUSWest:    true,
	RegionEUWest:    true,
	RegionEUCentral: true,
	RegionAPACEast:  true,
	RegionAPACSouth: true,
}

// ErrUnknownRegion is returned when a location code is not in the closed
// region enumeration.
var ErrUnknownRegion = errors.New("agent: unknown region code")

// ErrPoolHasActiveAgents is returned when deleting a pool that still has
// active delegations.
type ErrPoolHasActiveAgents struct {
	Count int
}

func (e *ErrPoolHasActiveAgents) Error() string {
	return fmt.Sprintf("agent: pool has %d active delegation(s)", e.Count)
}

// ValidateRegion fails unless region is a known code.
func ValidateRegion(region Region) error {
	if !validRegions[region] {
		return fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}
	return nil
}

// Pool is a named group of agents serving a provider in a given location
// with a specific provisioner type.
type Pool struct {
	PoolID          string
	ProviderPubKey  []byte
	Name            string
	Location        Region
	ProvisionerType string
	CreatedAt       time.Time
}

// PoolStore manages pools and enforces the "no active delegations" deletion
// rule.
type PoolStore struct {
	mu    sync.Mutex
	pools map[string]*Pool
	// activeDelegationCount is supplied by the caller (the delegation
	// store) so PoolStore does not need to depend on it directly.
	activeDelegationCount func(poolID string) int
}

// NewPoolStore returns an empty PoolStore. countActive is consulted by
// Delete to enforce spec §4.8's "no active delegations" rule.
func NewPoolStore(countActive func(poolID string) int) *PoolStore {
	return &PoolStore{
		pools:                 make(map[string]*Pool),
		activeDelegationCount: countActive,
	}
}

// Create registers a new pool after validating its region code.
func (s *PoolStore) Create(p *Pool) error {
	if err := ValidateRegion(p.Location); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.PoolID] = p
	return nil
}

// Get returns the pool for id, if any.
func (s *PoolStore) Get(id string) (*Pool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	return p, ok
}

// Delete removes a pool, refusing with ErrPoolHasActiveAgents if it still
// has active delegations.
func (s *PoolStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeDelegationCount != nil {
		if n := s.activeDelegationCount(id); n > 0 {
			return &ErrPoolHasActiveAgents{Count: n}
		}
	}
	delete(s.pools, id)
	return nil
}

// ListByProvider returns every pool owned by providerPubKey.
func (s *PoolStore) ListByProvider(providerPubKey []byte) []*Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Pool
	for _, p := range s.pools {
		if bytesEqual(p.ProviderPubKey, providerPubKey) {
			out = append(out, p)
		}
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
