package agent

import (
	"sync"
	"time"
)

// BandwidthSample is one self-reported bandwidth observation an agent
// attaches to a heartbeat, scoped to the contract it is serving.
type BandwidthSample struct {
	ContractID   [32]byte
	BytesIn      uint64
	BytesOut     uint64
	ObservedAtNs uint64
}

// LivenessTracker records the last heartbeat time per agent and accumulates
// bandwidth samples per contract.
type LivenessTracker struct {
	mu             sync.Mutex
	lastHeartbeat  map[string]time.Time
	bandwidthByTx  map[[32]byte][]BandwidthSample
	LivenessWindow time.Duration
}
// NewLivenessTracker returns a tracker with the given liveness window; an
// agent is considered online iff now - lastHeartbeat <= window.
func NewLivenessTracker(window time.Duration) *LivenessTracker {
	return &LivenessTracker{
		lastHeartbeat:  make(map[string]time.Time),
		bandwidthByTx:  make(map[[32]byte][]BandwidthSample),
		LivenessWindow: window,
	}
}

// RecordHeartbeat stamps agentPubKey's last-seen time and appends any
// bandwidth samples it reported.
func (t *LivenessTracker) RecordHeartbeat(agentPubKey []byte, now time.Time, samples []BandwidthSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHeartbeat[hexKey(agentPubKey)] = now
	for _, s := range samples {
		t.bandwidthByTx[s.ContractID] = append(t.bandwidthByTx[s.ContractID], s)
	}
}

// Online reports whether agentPubKey's last heartbeat falls within the
// liveness window of now.
func (t *LivenessTracker) Online(agentPubKey []byte, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastHeartbeat[hexKey(agentPubKey)]
	if !ok {
		return false
	}
	return now.Sub(last) <= t.LivenessWindow
}

// LastHeartbeat returns the last recorded heartbeat time for agentPubKey.
func (t *LivenessTracker) LastHeartbeat(agentPubKey []byte) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastHeartbeat[hexKey(agentPubKey)]
	return last, ok
}

// BandwidthFor returns the accumulated bandwidth samples reported for a
// contract, in report order.
func (t *LivenessTracker) BandwidthFor(contractID [32]byte) []BandwidthSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]BandwidthSample, len(t.bandwidthByTx[contractID]))
	copy(out, t.bandwidthByTx[contractID])
	return out
}
