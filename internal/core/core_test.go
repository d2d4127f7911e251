package core

import (
	"testing"

	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/infrastructure/logging"
	"github.com/decent-stuff/decent-cloud/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WiresSubsystems(t *testing.T) {
	cfg := config.New().Runtime
	var now uint64 = 1_000_000_000
	nowNs := func() uint64 { return now }
	logger := logging.New("decent-cloud-test", "error", "text")

	st := New(cfg, nowNs, logger, nil, nil)

	require.NotNil(t, st.Ledger)
	require.NotNil(t, st.Transfer)
	require.NotNil(t, st.Sync)
	require.NotNil(t, st.Producer)
	require.NotNil(t, st.Pools)
	require.NotNil(t, st.SetupTokens)
	require.NotNil(t, st.Delegations)
	require.NotNil(t, st.Auth)

	assert.Equal(t, cfg, st.RuntimeConfig())

	// Transfer engine and block producer share the same ledger/recent/balances.
	assert.Same(t, st.Ledger, st.Transfer.Ledger)
	assert.Same(t, st.Recent, st.Transfer.Recent)
	assert.Same(t, st.Balances, st.Transfer.Balances)
	assert.Same(t, st.Ledger, st.Producer.Ledger)
}

func TestNew_TransferEngineUsable(t *testing.T) {
	cfg := config.New().Runtime
	now := uint64(2_000_000_000)
	st := New(cfg, func() uint64 { return now }, logging.New("test", "error", "text"), nil, nil)

	a := account.Account{Owner: "alice"}
	st.Balances.BalanceAdd(account.MintingAccount, 0)
	st.Balances.BalanceAdd(a, 1_000_000_000)
	assert.Equal(t, uint64(1_000_000_000), st.Balances.BalanceGet(a))
}
