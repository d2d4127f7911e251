package agent

import (
	"context"
	"crypto/ed25519"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/decent-stuff/decent-cloud/internal/identity"
)

// fakeNonces is an in-memory nonceChecker used in place of a live Redis
// connection.
type fakeNonces struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeNonces() *fakeNonces {
	return &fakeNonces{seen: make(map[string]bool)}
}

func (f *fakeNonces) Observe(_ context.Context, agentPubKeyHex, nonce string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := agentPubKeyHex + ":" + nonce
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func signedAgentRequest(t *testing.T, id *identity.Identity, method, path, nonce string, at time.Time) Request {
	t.Helper()
	ts := strconv.FormatInt(at.UnixNano(), 10)
	signed := ts + nonce + method + path
	sig, err := id.Sign([]byte(signed))
	require.NoError(t, err)
	return Request{
		AgentPubKey: id.PublicKeyBytes(),
		Timestamp:   ts,
		Nonce:       nonce,
		Signature:   sig,
		Method:      method,
		Path:        path,
	}
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *identity.Identity, time.Time) {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	id, err := identity.FromSeed(seed)
	require.NoError(t, err)

	delegations := NewDelegationStore()
	now := time.Now()
	delegations.Put(&Delegation{
		AgentPubKey:    id.PublicKeyBytes(),
		ProviderPubKey: []byte("provider-1"),
		Permissions:    PermHeartbeat | PermContractRead,
		PoolID:         "pool-1",
		CreatedAt:      now,
	})

	auth := NewAuthenticator(delegations, newFakeNonces())
	auth.NowFunc = func() time.Time { return now }
	return auth, id, now
}

func TestAuthenticate_HappyPath(t *testing.T) {
	auth, id, now := newTestAuthenticator(t)
	req := signedAgentRequest(t, id, "POST", "/v1/agent/heartbeat", "nonce-1", now)

	user, err := auth.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "pool-1", user.PoolID)
	require.NoError(t, user.RequirePermission(PermHeartbeat))
	require.ErrorIs(t, user.RequirePermission(PermDnsManage), ErrMissingPermission)
}

func TestAuthenticate_RejectsTamperedSignature(t *testing.T) {
	auth, id, now := newTestAuthenticator(t)
	req := signedAgentRequest(t, id, "POST", "/v1/agent/heartbeat", "nonce-1", now)
	req.Path = "/v1/agent/delete-everything"

	_, err := auth.Authenticate(context.Background(), req)
	require.Error(t, err)
}

func TestAuthenticate_RejectsReplayedNonce(t *testing.T) {
	auth, id, now := newTestAuthenticator(t)
	req := signedAgentRequest(t, id, "POST", "/v1/agent/heartbeat", "nonce-1", now)

	_, err := auth.Authenticate(context.Background(), req)
	require.NoError(t, err)

	_, err = auth.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, ErrNonceReplay)
}

func TestAuthenticate_RejectsExcessiveClockSkew(t *testing.T) {
	auth, id, now := newTestAuthenticator(t)
	req := signedAgentRequest(t, id, "POST", "/v1/agent/heartbeat", "nonce-1", now.Add(-time.Hour))

	_, err := auth.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, ErrClockSkew)
}

func TestAuthenticate_RejectsUnknownDelegation(t *testing.T) {
	auth, _, now := newTestAuthenticator(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	stranger, err := identity.FromSeed(priv.Seed())
	require.NoError(t, err)

	req := signedAgentRequest(t, stranger, "POST", "/v1/agent/heartbeat", "nonce-1", now)
	_, err = auth.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, ErrDelegationInactive)
}

func TestAuthenticate_RejectsRevokedDelegation(t *testing.T) {
	auth, id, now := newTestAuthenticator(t)
	d, ok := auth.Delegations.Get(id.PublicKeyBytes())
	require.True(t, ok)
	d.Revoke(now)

	req := signedAgentRequest(t, id, "POST", "/v1/agent/heartbeat", "nonce-1", now)
	_, err := auth.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, ErrDelegationInactive)
}
