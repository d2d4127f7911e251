package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fixedClock(ts uint64) func() uint64 {
	return func() uint64 { return ts }
}

func TestStore_CommitEmptyBlockAllowed(t *testing.T) {
	s := NewStore(fixedClock(100))
	rec, err := s.CommitBlock()
	require.NoError(t, err)
	require.Equal(t, uint32(0), rec.Header.EntryCount)
	require.Greater(t, s.Len(), uint64(0))
}

func TestStore_CommitChainsHashes(t *testing.T) {
	s := NewStore(fixedClock(100))
	s.AppendEntry(Entry{Label: "L", Key: []byte("k"), Value: []byte("v"), Operation: OpUpsert})
	rec1, err := s.CommitBlock()
	require.NoError(t, err)

	s.AppendEntry(Entry{Label: "L", Key: []byte("k2"), Value: []byte("v2"), Operation: OpUpsert})
	rec2, err := s.CommitBlock()
	require.NoError(t, err)

	require.Equal(t, rec1.Header.PrevHash, [32]byte{})
	root := s.CertifiedRoot()
	expected := BlockHash(rec1.Header.PrevHash, mustEncodeEntries(rec1.Entries), rec1.Header.TimestampNs)
	require.NotEqual(t, root, expected) // root reflects block 2, not block 1
	require.Equal(t, rec2.Header.PrevHash, expected)
}

func TestStore_IterRawStopsAtZeroHeader(t *testing.T) {
	s := NewStore(fixedClock(1))
	s.AppendEntry(Entry{Label: "L", Key: []byte("a"), Value: []byte("1"), Operation: OpUpsert})
	_, err := s.CommitBlock()
	require.NoError(t, err)

	s.AppendEntry(Entry{Label: "M", Key: []byte("b"), Value: []byte("2"), Operation: OpUpsert})
	_, err = s.CommitBlock()
	require.NoError(t, err)

	records, err := s.IterRaw(0, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "L", records[0].Entries[0].Label)
	require.Equal(t, "M", records[1].Entries[0].Label)
}

func TestStore_IterRawLabelFilter(t *testing.T) {
	s := NewStore(fixedClock(1))
	s.AppendEntry(Entry{Label: "L", Key: []byte("a"), Value: []byte("1"), Operation: OpUpsert})
	s.AppendEntry(Entry{Label: "M", Key: []byte("b"), Value: []byte("2"), Operation: OpUpsert})
	_, err := s.CommitBlock()
	require.NoError(t, err)

	records, err := s.IterRaw(0, map[string]bool{"L": true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Entries, 1)
	require.Equal(t, "L", records[0].Entries[0].Label)
}

func TestStore_ReadRawWindow_TamperMismatch(t *testing.T) {
	s := NewStore(fixedClock(1))
	s.AppendEntry(Entry{Label: "L", Key: []byte("a"), Value: []byte("1"), Operation: OpUpsert})
	_, err := s.CommitBlock()
	require.NoError(t, err)
	s.AppendEntry(Entry{Label: "L", Key: []byte("b"), Value: []byte("2"), Operation: OpUpsert})
	_, err = s.CommitBlock()
	require.NoError(t, err)

	wrongWindow := make([]byte, 64)
	_, _, err = s.ReadRawWindow(BlockHeaderSize+10, 100, wrongWindow)
	require.ErrorIs(t, err, ErrTamperMismatch)
}

func TestStore_ReadRawWindow_NoWindowReturnsWholeLog(t *testing.T) {
	s := NewStore(fixedClock(1))
	s.AppendEntry(Entry{Label: "L", Key: []byte("a"), Value: []byte("1"), Operation: OpUpsert})
	_, err := s.CommitBlock()
	require.NoError(t, err)

	chunk, more, err := s.ReadRawWindow(0, 1<<20, nil)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, s.Len(), uint64(len(chunk)))
}

func TestStore_WriteRawSegmentBootstrap(t *testing.T) {
	src := NewStore(fixedClock(1))
	src.AppendEntry(Entry{Label: "L", Key: []byte("a"), Value: []byte("1"), Operation: OpUpsert})
	_, err := src.CommitBlock()
	require.NoError(t, err)

	raw, _, err := src.ReadRawWindow(0, src.Len(), nil)
	require.NoError(t, err)

	dst := NewStore(fixedClock(1))
	require.NoError(t, dst.WriteRawSegment(0, raw))
	require.Equal(t, src.CertifiedRoot(), dst.CertifiedRoot())
}

func TestRecentCache_DuplicateDetection(t *testing.T) {
	rc := NewRecentCache()
	var h [32]byte
	h[0] = 1

	require.Equal(t, uint64(0), rc.Find(h))
	num := rc.NextTxNum()
	rc.Add(h, num, 1000)
	require.Equal(t, num, rc.Find(h))
}

func TestRecentCache_CleanupEvictsOldEntries(t *testing.T) {
	rc := NewRecentCache()
	var h [32]byte
	h[0] = 1
	rc.Add(h, 1, 100)

	rc.Cleanup(1000, 500)
	require.Equal(t, uint64(0), rc.Find(h))
}
