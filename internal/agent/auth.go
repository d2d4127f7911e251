package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/decent-stuff/decent-cloud/internal/identity"
)

// Header names an agent-authenticated request must carry.
const (
	HeaderAgentPubKey = "X-Agent-Pubkey"
	HeaderTimestamp   = "X-Timestamp"
	HeaderNonce       = "X-Nonce"
	HeaderSignature   = "X-Signature"
)

var (
	// ErrNonceReplay is returned when a (agent_pubkey, nonce) pair has
	// already been observed within the replay window.
	ErrNonceReplay = errors.New("agent: nonce replay detected")
	// ErrDelegationInactive is returned when the agent pubkey has no active
	// delegation.
	ErrDelegationInactive = errors.New("agent: no active delegation for pubkey")
	// ErrMissingPermission is returned by RequirePermission.
	ErrMissingPermission = errors.New("agent: delegation lacks required permission")
	// ErrClockSkew is returned when the request timestamp falls outside the
	// authenticator's permitted drift window.
	ErrClockSkew = errors.New("agent: request timestamp outside permitted drift")
)

// AuthenticatedUser is the identity and authority an authenticated agent
// request carries, derived entirely from its active delegation.
type AuthenticatedUser struct {
	AgentPubKey    []byte
	ProviderPubKey []byte
	Permissions    Permission
	PoolID         string
}

// RequirePermission fails unless the user's delegation grants perm.
func (u AuthenticatedUser) RequirePermission(perm Permission) error {
	if !u.Permissions.Has(perm) {
		return ErrMissingPermission
	}
	return nil
}

// NonceWindow rejects a (agentPubKey, nonce) pair it has already seen within
// ttl of its first observation, backed by Redis so the window is shared
// across API replicas.
type NonceWindow struct {
	client *redis.Client
	ttl    time.Duration
}

// NewNonceWindow returns a NonceWindow keying entries on client with the
// given replay-protection ttl.
func NewNonceWindow(client *redis.Client, ttl time.Duration) *NonceWindow {
	return &NonceWindow{client: client, ttl: ttl}
}

// Observe records (agentPubKeyHex, nonce) and reports whether it was fresh,
// i.e. not already present, using SETNX so the check-and-set is atomic.
func (w *NonceWindow) Observe(ctx context.Context, agentPubKeyHex, nonce string) (fresh bool, err error) {
	key := fmt.Sprintf("agent:nonce:%s:%s", agentPubKeyHex, nonce)
	ok, err := w.client.SetNX(ctx, key, "1", w.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("agent: nonce window: %w", err)
	}
	return ok, nil
}

// nonceChecker is the subset of NonceWindow's behavior Authenticator
// depends on, so tests can substitute an in-memory fake instead of a live
// Redis connection.
type nonceChecker interface {
	Observe(ctx context.Context, agentPubKeyHex, nonce string) (fresh bool, err error)
}

// Authenticator verifies the agent-signed header set against the active
// delegation set and a nonce replay window.
type Authenticator struct {
	Delegations    *DelegationStore
	Nonces         nonceChecker
	PermittedDrift time.Duration
	NowFunc        func() time.Time
}

// NewAuthenticator wires a delegation store and nonce window into an
// Authenticator with a default five-minute clock-skew allowance.
func NewAuthenticator(delegations *DelegationStore, nonces nonceChecker) *Authenticator {
	return &Authenticator{
		Delegations:    delegations,
		Nonces:         nonces,
		PermittedDrift: 5 * time.Minute,
		NowFunc:        time.Now,
	}
}

// Request bundles the fields an agent request's signature covers.
type Request struct {
	AgentPubKey []byte
	Timestamp   string
	Nonce       string
	Signature   []byte
	Method      string
	Path        string
	Body        []byte
}

// Authenticate verifies req's Ed25519 signature over
// timestamp||nonce||method||path||body, checks clock skew, rejects replayed
// nonces, and resolves the caller's active delegation. It never reveals
// whether a pubkey has a delegation at all versus an inactive one; both
// paths return ErrDelegationInactive.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (AuthenticatedUser, error) {
	now := a.NowFunc()

	// X-Timestamp is nanoseconds since epoch as a decimal integer, not
	// RFC3339: every spec-compliant client (e.g. the reference agent's
	// timestamp_nanos_opt()) sends it that way.
	tsNanos, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return AuthenticatedUser{}, fmt.Errorf("agent: parse timestamp: %w", err)
	}
	ts := time.Unix(0, tsNanos)
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > a.PermittedDrift {
		return AuthenticatedUser{}, ErrClockSkew
	}

	signer, err := identity.VerifyingFromBytes(req.AgentPubKey)
	if err != nil {
		return AuthenticatedUser{}, fmt.Errorf("agent: %w", err)
	}

	signed := make([]byte, 0, len(req.Timestamp)+len(req.Nonce)+len(req.Method)+len(req.Path)+len(req.Body))
	signed = append(signed, req.Timestamp...)
	signed = append(signed, req.Nonce...)
	signed = append(signed, req.Method...)
	signed = append(signed, req.Path...)
	signed = append(signed, req.Body...)
	if err := signer.Verify(signed, req.Signature); err != nil {
		return AuthenticatedUser{}, fmt.Errorf("agent: %w", err)
	}

	fresh, err := a.Nonces.Observe(ctx, hexKey(req.AgentPubKey), req.Nonce)
	if err != nil {
		return AuthenticatedUser{}, err
	}
	if !fresh {
		return AuthenticatedUser{}, ErrNonceReplay
	}

	delegation, ok := a.Delegations.Get(req.AgentPubKey)
	if !ok || !delegation.Active(now) {
		return AuthenticatedUser{}, ErrDelegationInactive
	}

	return AuthenticatedUser{
		AgentPubKey:    req.AgentPubKey,
		ProviderPubKey: delegation.ProviderPubKey,
		Permissions:    delegation.Permissions,
		PoolID:         delegation.PoolID,
	}, nil
}
