package account

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccount_ZeroSubaccountEqualsAbsent(t *testing.T) {
	a1 := New("owner1", nil)
	a2 := New("owner1", make([]byte, SubaccountSize))
	require.True(t, a1.Equal(a2))
	require.Equal(t, a1.Key(), a2.Key())
}

func TestAccount_DistinctSubaccountsDiffer(t *testing.T) {
	sub := make([]byte, SubaccountSize)
	sub[0] = 1
	a1 := New("owner1", nil)
	a2 := New("owner1", sub)
	require.False(t, a1.Equal(a2))
}

func TestCache_BalanceAddSubGet(t *testing.T) {
	c := NewCache()
	acct := New("owner1", nil)

	c.BalanceAdd(acct, 100)
	require.Equal(t, uint64(100), c.BalanceGet(acct))

	require.NoError(t, c.BalanceSub(acct, 40))
	require.Equal(t, uint64(60), c.BalanceGet(acct))

	err := c.BalanceSub(acct, 1000)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, uint64(60), c.BalanceGet(acct))
}

func TestCache_Reputation(t *testing.T) {
	c := NewCache()
	c.ReputationAdd("id1", 10)
	c.ReputationAdd("id1", -3)
	require.Equal(t, uint64(7), c.ReputationGet("id1"))

	c.ReputationAdd("id1", -100)
	require.Equal(t, uint64(0), c.ReputationGet("id1"))
}

func TestCache_RefreshFromLedgerRebuildsDeterministically(t *testing.T) {
	c := NewCache()
	acct := New("owner1", nil)
	c.BalanceAdd(acct, 999)

	entries := []LedgerEntry{
		{Label: "DCTokenTransfer", Apply: func(c *Cache) { c.BalanceAdd(acct, 50) }},
		{Label: "DCTokenTransfer", Apply: func(c *Cache) { c.BalanceAdd(acct, 25) }},
	}
	c.RefreshFromLedger(entries)
	require.Equal(t, uint64(75), c.BalanceGet(acct))
}

func TestMintingAccount_IsRecognised(t *testing.T) {
	require.True(t, MintingAccount.IsMintingAccount())
	require.False(t, New("someone-else", nil).IsMintingAccount())
}

func TestAccount_StringEncodesSubaccount(t *testing.T) {
	sub := make([]byte, SubaccountSize)
	sub[31] = 1
	a := New("owner1", sub)
	s := a.String()
	require.Contains(t, s, "owner1-")
	require.Contains(t, s, ".")
}

func TestAccount_StringWithoutSubaccountIsBareOwner(t *testing.T) {
	a := New("owner1", nil)
	require.Equal(t, "owner1", a.String())
}
