package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHeader_RoundTrip(t *testing.T) {
	h := BlockHeader{EntryCount: 3, JumpBytes: 128, TimestampNs: 123456789}
	h.PrevHash[0] = 0xAB

	decoded, err := DecodeHeader(EncodeHeader(h))
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestHeaderIsZero(t *testing.T) {
	var h BlockHeader
	require.True(t, h.IsZero())
	h.EntryCount = 1
	require.False(t, h.IsZero())
}

func TestEncodeDecodeEntries_RoundTrip(t *testing.T) {
	entries := []Entry{
		{Label: "DCTokenTransfer", Key: []byte("k1"), Value: []byte("v1"), Operation: OpUpsert},
		{Label: "Registration", Key: []byte("k2"), Value: []byte{}, Operation: OpDelete},
	}
	encoded, err := EncodeEntries(entries)
	require.NoError(t, err)

	decoded, err := DecodeEntries(encoded, uint32(len(entries)))
	require.NoError(t, err)
	require.Equal(t, entries, decoded)
}

func TestBlockHash_DependsOnAllInputs(t *testing.T) {
	var prev [32]byte
	h1 := BlockHash(prev, []byte("a"), 1)
	h2 := BlockHash(prev, []byte("b"), 1)
	h3 := BlockHash(prev, []byte("a"), 2)
	require.NotEqual(t, h1, h2)
	require.NotEqual(t, h1, h3)
}

func TestEncodeEntry_RejectsOversizedLabel(t *testing.T) {
	big := make([]byte, 1<<17)
	_, err := EncodeEntry(Entry{Label: string(big)})
	require.Error(t, err)
}
