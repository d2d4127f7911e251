// Package core wires the marketplace's process-wide mutable state into a
// single threaded value rather than lazily-initialised globals, per spec §9
// ("Global mutable state... Model them as a CoreState value threaded through
// operations"). Every piece it owns — the ledger, balance/reputation cache,
// recent-tx dedup window, transfer engine, sync protocol (which itself holds
// the set-once authorized-pusher principal), agent pools/tokens/delegations,
// and the block producer — is constructed once in New and handed to callers
// (HTTP handlers, the block-producer loop) by reference; nothing here is a
// package-level var.
package core

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/internal/agent"
	"github.com/decent-stuff/decent-cloud/internal/blockproducer"
	"github.com/decent-stuff/decent-cloud/internal/ledger"
	"github.com/decent-stuff/decent-cloud/internal/sync"
	"github.com/decent-stuff/decent-cloud/internal/transfer"
	"github.com/decent-stuff/decent-cloud/infrastructure/logging"
	"github.com/decent-stuff/decent-cloud/pkg/config"
)

// State is the composition root for one replica: every subsystem the
// core specifies, constructed from RuntimeConfig and threaded to callers by
// reference.
type State struct {
	Ledger   *ledger.Store
	Recent   *ledger.RecentCache
	Balances *account.Cache

	Transfer *transfer.Engine
	Sync     *sync.Protocol
	Producer *blockproducer.Producer

	Pools       *agent.PoolStore
	SetupTokens *agent.TokenStore
	Delegations *agent.DelegationStore
	Liveness    *agent.LivenessTracker
	Auth        *agent.Authenticator

	cfg config.RuntimeConfig
}

// New assembles a State from cfg. nowNs supplies the wall-clock source for
// the ledger and transfer engine (pass a fixed clock in tests); logger feeds
// the block producer's error logging. redisClient backs the agent
// nonce-replay window shared across API replicas; pass nil to fall back to
// an in-process window, which is correct for a single-replica deployment or
// a test.
func New(cfg config.RuntimeConfig, nowNs func() uint64, logger *logging.Logger, feeSinks []account.Account, redisClient *redis.Client) *State {
	if nowNs == nil {
		nowNs = func() uint64 { return uint64(time.Now().UnixNano()) }
	}

	ledgerStore := ledger.NewStore(nowNs)
	recent := ledger.NewRecentCache()
	balances := account.NewCache()

	txEngine := &transfer.Engine{
		Ledger:          ledgerStore,
		Balances:        balances,
		Recent:          recent,
		TxWindowNs:      uint64(cfg.TxWindowSeconds),
		PermittedDrift:  uint64(cfg.PermittedDriftSeconds),
		FeeSinkAccounts: feeSinks,
		NowNs:           nowNs,
		ServiceName:     "decent-cloud",
	}

	chunkBytes := uint64(cfg.SyncChunkBytes)
	if chunkBytes == 0 {
		chunkBytes = 1 << 20
	}
	syncProtocol := sync.NewProtocol(ledgerStore, chunkBytes)

	producer := blockproducer.NewProducer(logger)
	producer.Ledger = ledgerStore
	producer.Recent = recent
	producer.Balances = balances
	producer.NowNs = nowNs
	producer.ServiceName = "decent-cloud"
	if cfg.BlockIntervalSeconds > 0 {
		producer.Interval = time.Duration(cfg.BlockIntervalSeconds) * time.Second
	}
	if cfg.RewardHalvingBlocks > 0 {
		producer.HalvingBlocks = uint64(cfg.RewardHalvingBlocks)
	}
	if cfg.DedupWindowHours > 0 {
		producer.DedupWindowNs = uint64(cfg.DedupWindowHours) * uint64(time.Hour)
	}
	producer.ApplyReward = func(identity string, amount uint64) error {
		balances.BalanceAdd(account.Account{Owner: identity}, amount)
		return nil
	}
	delegations := agent.NewDelegationStore()
	pools := agent.NewPoolStore(delegations.ActiveCountForPool)
	tokens := agent.NewTokenStore()
	liveness := agent.NewLivenessTracker(time.Duration(cfg.LivenessWindowSeconds) * time.Second)

	nonceWindow := time.Duration(cfg.NonceWindowSeconds) * time.Second
	if nonceWindow <= 0 {
		nonceWindow = 10 * time.Minute
	}
	var nonces interface {
		Observe(ctx context.Context, agentPubKeyHex, nonce string) (bool, error)
	}
	if redisClient != nil {
		nonces = agent.NewNonceWindow(redisClient, nonceWindow)
	} else {
		nonces = newInProcessNonceWindow(nonceWindow)
	}
	authr := agent.NewAuthenticator(delegations, nonces)

	state := &State{
		Ledger:      ledgerStore,
		Recent:      recent,
		Balances:    balances,
		Transfer:    txEngine,
		Sync:        syncProtocol,
		Producer:    producer,
		Pools:       pools,
		SetupTokens: tokens,
		Delegations: delegations,
		Liveness:    liveness,
		Auth:        authr,
		cfg:         cfg,
	}

	// A pull/push sync batch completed: the live balance cache is kept
	// current incrementally by Transfer.Execute for locally-executed
	// transfers, but entries that arrive via sync never go through Execute,
	// so the cache must be rebuilt by full replay (spec.md:90).
	syncProtocol.RefreshHook = func() {
		if err := state.RebuildCaches(); err != nil && logger != nil {
			logger.WithError(err).Error("rebuild balance cache after sync failed")
		}
	}

	return state
}

// RuntimeConfig returns the configuration State was built from.
func (s *State) RuntimeConfig() config.RuntimeConfig {
	return s.cfg
}
