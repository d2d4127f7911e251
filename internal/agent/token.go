package agent

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSetupTokenInvalid is returned for a token that does not exist or does
// not parse.
var ErrSetupTokenInvalid = errors.New("agent: setup token invalid")

// ErrSetupTokenUsed is returned when a token has already been consumed.
var ErrSetupTokenUsed = errors.New("agent: setup token already used")

// ErrSetupTokenExpired is returned when a token's expiry has passed.
var ErrSetupTokenExpired = errors.New("agent: setup token expired")

// SetupToken is a one-time credential binding a prospective agent pubkey to
// a pool. Format: apt_{location}_{16 lowercase hex}.
type SetupToken struct {
	Token     string
	PoolID    string
	Label     string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	UsedBy    []byte
}

// GenerateSetupToken mints a new token string in the apt_{location}_{16hex}
// format. It does not validate the region; callers validate the pool's
// location at pool-creation time.
func GenerateSetupToken(location Region) (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("agent: generate setup token: %w", err)
	}
	return fmt.Sprintf("apt_%s_%s", location, hex.EncodeToString(raw)), nil
}

// TokenStore manages setup tokens with an atomic validate-and-use operation.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]*SetupToken
}

// NewTokenStore returns an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]*SetupToken)}
}

// Create registers a new, unused setup token valid for ttl from now.
func (s *TokenStore) Create(poolID, label string, location Region, ttl time.Duration, now time.Time) (*SetupToken, error) {
	token, err := GenerateSetupToken(location)
	if err != nil {
		return nil, err
	}
	st := &SetupToken{
		Token:     token,
		PoolID:    poolID,
		Label:     label,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = st
	return st, nil
}

// ValidateAndUse is atomic: it refuses if the token is unknown, already
// used, or expired, and otherwise marks it used in the same critical
// section so concurrent callers cannot both succeed. Returns the bound
// pool id and optional label.
func (s *TokenStore) ValidateAndUse(token string, agentPubKey []byte, now time.Time) (poolID, label string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tokens[token]
	if !ok {
		return "", "", ErrSetupTokenInvalid
	}
	if st.UsedAt != nil {
		return "", "", ErrSetupTokenUsed
	}
	if !st.ExpiresAt.After(now) {
		return "", "", ErrSetupTokenExpired
	}

	usedAt := now
	st.UsedAt = &usedAt
	st.UsedBy = append([]byte(nil), agentPubKey...)
	return st.PoolID, st.Label, nil
}
