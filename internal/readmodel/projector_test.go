package readmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/internal/ledger"
	"github.com/decent-stuff/decent-cloud/internal/transfer"
)

func TestDecodeTransferValue_RoundTrip(t *testing.T) {
	store := ledger.NewStore(func() uint64 { return 1_000_000_000 })
	recent := ledger.NewRecentCache()
	balances := account.NewCache()

	from := account.Account{Owner: "alice"}
	to := account.Account{Owner: "bob"}
	balances.BalanceAdd(from, 2_000_000_000)

	engine := &transfer.Engine{
		Ledger:         store,
		Balances:       balances,
		Recent:         recent,
		TxWindowNs:     300,
		PermittedDrift: 30,
		NowNs:          func() uint64 { return 1_000_000_000 },
	}

	txNum, err := engine.Execute(transfer.FundsTransfer{
		From:        from,
		To:          to,
		Amount:      500_000_000,
		Fee:         0,
		CreatedAtNs: 1_000_000_000,
		Memo:        []byte("hello"),
	})
	require.NoError(t, err)

	pending := store.PendingEntries()
	require.Len(t, pending, 1)
	entry := pending[0]
	assert.Equal(t, transfer.LabelDCTokenTransfer, entry.Label)

	dt, err := decodeTransferValue(entry.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", dt.From.Owner)
	assert.Equal(t, "bob", dt.To.Owner)
	assert.Equal(t, uint64(500_000_000), dt.AmountE9s)
	assert.Equal(t, uint64(0), dt.FeeE9s)
	assert.Equal(t, uint64(1_000_000_000), dt.CreatedAtNs)
	assert.Equal(t, []byte("hello"), dt.Memo)
	assert.Equal(t, txNum, dt.TxNum)
}

func TestDecodeTransferValue_Truncated(t *testing.T) {
	_, err := decodeTransferValue([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errTruncatedTransferValue)
}

func TestDecodeTransferValue_MintBurnClassification(t *testing.T) {
	store := ledger.NewStore(func() uint64 { return 1 })
	recent := ledger.NewRecentCache()
	balances := account.NewCache()
	alice := account.Account{Owner: "alice"}

	engine := &transfer.Engine{
		Ledger:         store,
		Balances:       balances,
		Recent:         recent,
		TxWindowNs:     300,
		PermittedDrift: 30,
		NowNs:          func() uint64 { return 1 },
	}

	_, err := engine.Execute(transfer.FundsTransfer{
		From:        account.MintingAccount,
		To:          alice,
		Amount:      1_000_000_000,
		CreatedAtNs: 1,
	})
	require.NoError(t, err)

	entries := store.PendingEntries()
	require.Len(t, entries, 1)
	dt, err := decodeTransferValue(entries[0].Value)
	require.NoError(t, err)
	assert.True(t, dt.From.IsMintingAccount())
}
