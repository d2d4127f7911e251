package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateRegion_RejectsUnknownCode(t *testing.T) {
	require.NoError(t, ValidateRegion(RegionEUWest))
	require.ErrorIs(t, ValidateRegion(Region("mars")), ErrUnknownRegion)
}

func TestPoolStore_CreateRejectsUnknownRegion(t *testing.T) {
	s := NewPoolStore(nil)
	err := s.Create(&Pool{PoolID: "p1", Location: Region("nowhere")})
	require.ErrorIs(t, err, ErrUnknownRegion)
	_, ok := s.Get("p1")
	require.False(t, ok)
}

func TestPoolStore_DeleteRefusedWithActiveAgents(t *testing.T) {
	s := NewPoolStore(func(poolID string) int { return 2 })
	require.NoError(t, s.Create(&Pool{PoolID: "p1", Location: RegionUSEast}))

	err := s.Delete("p1")
	var activeErr *ErrPoolHasActiveAgents
	require.ErrorAs(t, err, &activeErr)
	require.Equal(t, 2, activeErr.Count)

	_, ok := s.Get("p1")
	require.True(t, ok)
}

func TestPoolStore_DeleteSucceedsWithNoActiveAgents(t *testing.T) {
	s := NewPoolStore(func(poolID string) int { return 0 })
	require.NoError(t, s.Create(&Pool{PoolID: "p1", Location: RegionUSEast}))
	require.NoError(t, s.Delete("p1"))
	_, ok := s.Get("p1")
	require.False(t, ok)
}

func TestPoolStore_ListByProvider(t *testing.T) {
	s := NewPoolStore(nil)
	provA := []byte("provider-a")
	provB := []byte("provider-b")
	require.NoError(t, s.Create(&Pool{PoolID: "p1", ProviderPubKey: provA, Location: RegionUSEast}))
	require.NoError(t, s.Create(&Pool{PoolID: "p2", ProviderPubKey: provA, Location: RegionUSWest}))
	require.NoError(t, s.Create(&Pool{PoolID: "p3", ProviderPubKey: provB, Location: RegionEUWest}))

	got := s.ListByProvider(provA)
	require.Len(t, got, 2)
}

func TestPoolStore_CreatedAtIsPreserved(t *testing.T) {
	s := NewPoolStore(nil)
	created := time.Now().Add(-time.Hour)
	require.NoError(t, s.Create(&Pool{PoolID: "p1", Location: RegionAPACEast, CreatedAt: created}))
	p, ok := s.Get("p1")
	require.True(t, ok)
	require.True(t, p.CreatedAt.Equal(created))
}
