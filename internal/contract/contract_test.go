package contract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		RequesterPubKey: []byte("requester-pubkey-bytes-32-------"),
		ProviderPubKey:  []byte("provider-pubkey-bytes-32--------"),
		OfferingID:      "offering-1",
		SSHPubKey:       "ssh-ed25519 AAAA",
		Contact:         "user@example.com",
		AmountE9s:       1_000_000_000,
		Memo:            []byte("rent please"),
		CreatedAtNs:     12345,
	}
}

func TestID_IsDeterministic(t *testing.T) {
	req := testRequest()
	id1 := req.ID()
	id2 := req.ID()
	require.Equal(t, id1, id2)
}

func TestID_DiffersOnAmountChange(t *testing.T) {
	req := testRequest()
	base := req.ID()

	changed := req
	changed.AmountE9s++
	require.NotEqual(t, base, changed.ID())
}

func TestCancel_ByRequester(t *testing.T) {
	req := testRequest()
	c := New(req)
	require.NoError(t, c.Cancel(req.RequesterPubKey, 1))
	require.Equal(t, StatusCancelled, c.Status)
	require.Len(t, c.History, 1)
	require.Equal(t, StatusRequested, c.History[0].OldStatus)
}

func TestCancel_ByNonPartyUnauthorized(t *testing.T) {
	req := testRequest()
	c := New(req)
	err := c.Cancel([]byte("stranger"), 1)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, StatusRequested, c.Status)
}

func TestFullLifecycle_HappyPath(t *testing.T) {
	req := testRequest()
	c := New(req)

	require.NoError(t, c.Accept(req.ProviderPubKey, 1))
	require.Equal(t, StatusAccepted, c.Status)

	require.NoError(t, c.MarkProvisioning(req.ProviderPubKey, 2))
	require.Equal(t, StatusProvisioning, c.Status)

	require.NoError(t, c.AttachProvisioningDetails(req.ProviderPubKey, "ip=1.2.3.4", 3))
	require.Equal(t, StatusProvisioned, c.Status)
	require.Equal(t, "ip=1.2.3.4", c.ProvisioningDetails)

	require.NoError(t, c.Activate(req.ProviderPubKey, 4))
	require.Equal(t, StatusActive, c.Status)

	require.NoError(t, c.Complete(req.ProviderPubKey, 5))
	require.Equal(t, StatusCompleted, c.Status)
	require.Len(t, c.History, 5)
}

func TestAccept_ByRequesterIsInvalidActor(t *testing.T) {
	req := testRequest()
	c := New(req)
	err := c.Accept(req.RequesterPubKey, 1)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCancel_AfterProvisionedIsRejected(t *testing.T) {
	req := testRequest()
	c := New(req)
	require.NoError(t, c.Accept(req.ProviderPubKey, 1))
	require.NoError(t, c.MarkProvisioning(req.ProviderPubKey, 2))
	require.NoError(t, c.AttachProvisioningDetails(req.ProviderPubKey, "d", 3))

	err := c.Cancel(req.RequesterPubKey, 4)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestExtend_PricingFormula(t *testing.T) {
	req := testRequest()
	c := New(req)
	c.MonthlyPriceE9s = 72_000_000_000 // 72 tokens/month
	require.NoError(t, c.Accept(req.ProviderPubKey, 1))
	require.NoError(t, c.MarkProvisioning(req.ProviderPubKey, 2))
	require.NoError(t, c.AttachProvisioningDetails(req.ProviderPubKey, "d", 3))
	require.NoError(t, c.Activate(req.ProviderPubKey, 4))

	price, err := c.Extend(req.RequesterPubKey, 72, 5)
	require.NoError(t, err)
	// 72e9 * 72h / 720h = 7.2e9
	require.Equal(t, uint64(7_200_000_000), price)
}

func TestExtend_RejectedOutsideExtensibleStates(t *testing.T) {
	req := testRequest()
	c := New(req)
	_, err := c.Extend(req.RequesterPubKey, 1, 1)
	require.ErrorIs(t, err, ErrNotExtensible)
}

func TestReject_OnlyProvider(t *testing.T) {
	req := testRequest()
	c := New(req)
	err := c.Reject(req.RequesterPubKey, "no", 1)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, c.Reject(req.ProviderPubKey, "no capacity", 1))
	require.Equal(t, StatusRejected, c.Status)
}
