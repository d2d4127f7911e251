package blockproducer

import (
	"context"
	"errors"
	"testing"

	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/internal/ledger"
	"github.com/stretchr/testify/require"
)

func newTestProducer() *Producer {
	p := NewProducer(nil)
	p.Ledger = ledger.NewStore(func() uint64 { return 1 })
	p.Recent = ledger.NewRecentCache()
	p.Balances = account.NewCache()
	p.HalvingBlocks = 2
	p.BaseRewardE9s = 1000
	return p
}

func TestTick_CommitsEmptyBlock(t *testing.T) {
	p := newTestProducer()
	require.NoError(t, p.Tick(context.Background()))
	require.NotEqual(t, p.CertifiedRoot(), [32]byte{})
}

func TestTick_DistributesRewardsToCheckedInIdentities(t *testing.T) {
	p := newTestProducer()
	var credited []string
	p.ApplyReward = func(identity string, amount uint64) error {
		credited = append(credited, identity)
		return nil
	}
	p.CheckIn("alice")
	p.CheckIn("bob")

	require.NoError(t, p.Tick(context.Background()))
	require.ElementsMatch(t, []string{"alice", "bob"}, credited)
}

func TestTick_RewardFailureDoesNotAbortCommit(t *testing.T) {
	p := newTestProducer()
	p.ApplyReward = func(identity string, amount uint64) error {
		return errors.New("boom")
	}
	p.CheckIn("alice")

	rootBefore := p.CertifiedRoot()
	require.NoError(t, p.Tick(context.Background()))
	require.NotEqual(t, rootBefore, p.CertifiedRoot())
}

func TestCurrentRewardPerIdentity_HalvesOverBlocks(t *testing.T) {
	p := newTestProducer()
	require.Equal(t, uint64(1000), p.CurrentRewardPerIdentity(1))

	p.blocksDone = 2
	require.Equal(t, uint64(500), p.CurrentRewardPerIdentity(1))

	p.blocksDone = 4
	require.Equal(t, uint64(250), p.CurrentRewardPerIdentity(1))
}

func TestCurrentRewardPerIdentity_SplitsAcrossEligible(t *testing.T) {
	p := newTestProducer()
	require.Equal(t, uint64(500), p.CurrentRewardPerIdentity(2))
	require.Equal(t, uint64(0), p.CurrentRewardPerIdentity(0))
}

func TestTick_RecentCacheCleanedUp(t *testing.T) {
	p := newTestProducer()
	p.NowNs = func() uint64 { return 1_000_000_000 }
	p.DedupWindowNs = 1
	var h [32]byte
	h[0] = 1
	p.Recent.Add(h, 1, 0)

	require.NoError(t, p.Tick(context.Background()))
	require.Equal(t, uint64(0), p.Recent.Find(h))
}
