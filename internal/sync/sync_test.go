package sync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/decent-stuff/decent-cloud/internal/ledger"
)

func newTestStoreWithOneBlock(t *testing.T) *ledger.Store {
	t.Helper()
	store := ledger.NewStore(func() uint64 { return 1000 })
	store.AppendEntry(ledger.Entry{Label: "Test", Key: []byte("k"), Value: []byte("v")})
	_, err := store.CommitBlock()
	require.NoError(t, err)
	return store
}

func TestCursor_EncodeParseRoundTrip(t *testing.T) {
	c := Cursor{Position: 128, ResponseBytes: 4096, More: true}
	got, err := ParseCursor(c.Encode())
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestProtocol_PullReturnsDataAndAdvancesCursor(t *testing.T) {
	store := newTestStoreWithOneBlock(t)
	p := NewProtocol(store, 4096)

	res, err := p.Pull(Cursor{Position: 0, ResponseBytes: 4096}, nil)
	require.NoError(t, err)
	require.False(t, res.Cursor.More)
	require.Equal(t, store.Len(), res.Cursor.Position)
}

func TestProtocol_PullTriggersRefreshHookWhenCaughtUp(t *testing.T) {
	store := newTestStoreWithOneBlock(t)
	p := NewProtocol(store, 4096)

	fired := false
	p.RefreshHook = func() { fired = true }

	_, err := p.Pull(Cursor{Position: 0, ResponseBytes: 4096}, nil)
	require.NoError(t, err)
	require.True(t, fired)
}

func TestProtocol_PullDetectsTamperedPrecedingWindow(t *testing.T) {
	store := newTestStoreWithOneBlock(t)
	p := NewProtocol(store, 4096)

	bogus := make([]byte, 64)
	for i := range bogus {
		bogus[i] = 0xff
	}
	_, err := p.Pull(Cursor{Position: 64, ResponseBytes: 16}, bogus)
	require.ErrorIs(t, err, ledger.ErrTamperMismatch)
}

func TestProtocol_AuthorizePushIsSetOnce(t *testing.T) {
	store := ledger.NewStore(func() uint64 { return 1000 })
	p := NewProtocol(store, 4096)

	require.NoError(t, p.AuthorizePush([]byte("writer-1")))
	require.NoError(t, p.AuthorizePush([]byte("writer-1"))) // idempotent for the same caller
	require.ErrorIs(t, p.AuthorizePush([]byte("writer-2")), ErrPushAlreadyAuthorized)
}

func TestProtocol_PushRejectsUnauthorizedCaller(t *testing.T) {
	store := ledger.NewStore(func() uint64 { return 1000 })
	p := NewProtocol(store, 4096)
	require.NoError(t, p.AuthorizePush([]byte("writer-1")))

	err := p.Push([]byte("writer-2"), Cursor{Position: 0}, []byte("data"))
	require.ErrorIs(t, err, ErrUnauthorizedPusher)
}

func TestProtocol_PushRejectsBeforeAuthorization(t *testing.T) {
	store := ledger.NewStore(func() uint64 { return 1000 })
	p := NewProtocol(store, 4096)
	err := p.Push([]byte("writer-1"), Cursor{Position: 0}, []byte("data"))
	require.ErrorIs(t, err, ErrPushNotAuthorized)
}

func TestProtocol_PushWritesSegmentAndFiresRefresh(t *testing.T) {
	source := newTestStoreWithOneBlock(t)
	raw, _, err := source.ReadRawWindow(0, source.Len(), nil)
	require.NoError(t, err)

	dest := ledger.NewStore(func() uint64 { return 2000 })
	p := NewProtocol(dest, 4096)
	require.NoError(t, p.AuthorizePush([]byte("writer-1")))

	fired := false
	p.RefreshHook = func() { fired = true }

	require.NoError(t, p.Push([]byte("writer-1"), Cursor{Position: 0}, raw))
	require.True(t, fired)
	require.Equal(t, source.CertifiedRoot(), dest.CertifiedRoot())
}
