package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelegation_ActiveByDefault(t *testing.T) {
	d := &Delegation{AgentPubKey: []byte("a"), CreatedAt: time.Now()}
	require.True(t, d.Active(time.Now()))
}

func TestDelegation_InactiveAfterRevoke(t *testing.T) {
	d := &Delegation{AgentPubKey: []byte("a")}
	now := time.Now()
	d.Revoke(now)
	require.False(t, d.Active(now.Add(time.Second)))
}

func TestDelegation_InactiveAfterExpiry(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	d := &Delegation{AgentPubKey: []byte("a"), ExpiresAt: &expires}
	require.True(t, d.Active(time.Now()))
	require.False(t, d.Active(expires.Add(time.Second)))
}

func TestPermission_HasBits(t *testing.T) {
	set := PermHeartbeat | PermContractRead
	require.True(t, set.Has(PermHeartbeat))
	require.True(t, set.Has(PermContractRead))
	require.False(t, set.Has(PermDnsManage))
}

func TestDelegationStore_PutGet(t *testing.T) {
	s := NewDelegationStore()
	d := &Delegation{AgentPubKey: []byte("agent-1"), PoolID: "pool-1"}
	s.Put(d)

	got, ok := s.Get([]byte("agent-1"))
	require.True(t, ok)
	require.Equal(t, "pool-1", got.PoolID)

	_, ok = s.Get([]byte("agent-2"))
	require.False(t, ok)
}

func TestDelegationStore_ActiveCountForPool(t *testing.T) {
	s := NewDelegationStore()
	revoked := &Delegation{AgentPubKey: []byte("a1"), PoolID: "pool-1"}
	revoked.Revoke(time.Now())
	s.Put(revoked)
	s.Put(&Delegation{AgentPubKey: []byte("a2"), PoolID: "pool-1"})
	s.Put(&Delegation{AgentPubKey: []byte("a3"), PoolID: "pool-2"})

	require.Equal(t, 1, s.ActiveCountForPool("pool-1"))
	require.Equal(t, 1, s.ActiveCountForPool("pool-2"))
	require.Equal(t, 0, s.ActiveCountForPool("pool-3"))
}
