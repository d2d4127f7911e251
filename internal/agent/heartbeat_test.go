package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLivenessTracker_OnlineWithinWindow(t *testing.T) {
	tr := NewLivenessTracker(time.Minute)
	now := time.Now()
	tr.RecordHeartbeat([]byte("agent-1"), now, nil)

	require.True(t, tr.Online([]byte("agent-1"), now.Add(30*time.Second)))
	require.False(t, tr.Online([]byte("agent-1"), now.Add(2*time.Minute)))
}

func TestLivenessTracker_UnknownAgentIsOffline(t *testing.T) {
	tr := NewLivenessTracker(time.Minute)
	require.False(t, tr.Online([]byte("ghost"), time.Now()))
}

func TestLivenessTracker_RecordsBandwidthByContract(t *testing.T) {
	tr := NewLivenessTracker(time.Minute)
	var contractID [32]byte
	contractID[0] = 0x42

	tr.RecordHeartbeat([]byte("agent-1"), time.Now(), []BandwidthSample{
		{ContractID: contractID, BytesIn: 100, BytesOut: 200},
	})
	tr.RecordHeartbeat([]byte("agent-1"), time.Now(), []BandwidthSample{
		{ContractID: contractID, BytesIn: 50, BytesOut: 75},
	})

	samples := tr.BandwidthFor(contractID)
	require.Len(t, samples, 2)
	require.Equal(t, uint64(100), samples[0].BytesIn)
	require.Equal(t, uint64(50), samples[1].BytesIn)
}

func TestLivenessTracker_LastHeartbeat(t *testing.T) {
	tr := NewLivenessTracker(time.Minute)
	_, ok := tr.LastHeartbeat([]byte("agent-1"))
	require.False(t, ok)

	now := time.Now()
	tr.RecordHeartbeat([]byte("agent-1"), now, nil)
	last, ok := tr.LastHeartbeat([]byte("agent-1"))
	require.True(t, ok)
	require.True(t, last.Equal(now))
}
