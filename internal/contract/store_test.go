package contract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateGetListByParty(t *testing.T) {
	s := NewStore()
	requester := []byte("requester-key-000000000000000000")
	provider := []byte("provider-key-0000000000000000000000")

	c := s.Create(Request{
		RequesterPubKey: requester,
		ProviderPubKey:  provider,
		OfferingID:      "gpu-a100",
		AmountE9s:       1_000_000_000,
	})
	require.NotNil(t, c)

	got, ok := s.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, StatusRequested, got.Status)

	fromRequester := s.ListByParty(requester)
	require.Len(t, fromRequester, 1)
	assert.Equal(t, c.ID, fromRequester[0].ID)

	fromProvider := s.ListByParty(provider)
	require.Len(t, fromProvider, 1)
}

func TestStore_Mutate_UnknownID(t *testing.T) {
	s := NewStore()
	err := s.Mutate([32]byte{1}, func(c *Contract) error { return nil })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_Mutate_AppliesTransition(t *testing.T) {
	s := NewStore()
	requester := []byte("requester")
	provider := []byte("provider")
	c := s.Create(Request{RequesterPubKey: requester, ProviderPubKey: provider})

	err := s.Mutate(c.ID, func(c *Contract) error {
		return c.Accept(provider, 1)
	})
	require.NoError(t, err)

	got, _ := s.Get(c.ID)
	assert.Equal(t, StatusAccepted, got.Status)
}
