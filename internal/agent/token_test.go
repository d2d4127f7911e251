package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateSetupToken_HasExpectedShape(t *testing.T) {
	token, err := GenerateSetupToken(RegionUSEast)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "apt_us-east_"))
	suffix := strings.TrimPrefix(token, "apt_us-east_")
	require.Len(t, suffix, 16)
}

func TestTokenStore_ValidateAndUse_HappyPath(t *testing.T) {
	s := NewTokenStore()
	now := time.Now()
	st, err := s.Create("pool-1", "bootstrap", RegionUSEast, time.Hour, now)
	require.NoError(t, err)

	poolID, label, err := s.ValidateAndUse(st.Token, []byte("agent-pubkey"), now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "pool-1", poolID)
	require.Equal(t, "bootstrap", label)
}

func TestTokenStore_ValidateAndUse_RejectsUnknownToken(t *testing.T) {
	s := NewTokenStore()
	_, _, err := s.ValidateAndUse("apt_us-east_deadbeefdeadbeef", nil, time.Now())
	require.ErrorIs(t, err, ErrSetupTokenInvalid)
}

func TestTokenStore_ValidateAndUse_RejectsSecondUse(t *testing.T) {
	s := NewTokenStore()
	now := time.Now()
	st, err := s.Create("pool-1", "", RegionUSEast, time.Hour, now)
	require.NoError(t, err)

	_, _, err = s.ValidateAndUse(st.Token, []byte("agent-1"), now)
	require.NoError(t, err)

	_, _, err = s.ValidateAndUse(st.Token, []byte("agent-2"), now)
	require.ErrorIs(t, err, ErrSetupTokenUsed)
}

func TestTokenStore_ValidateAndUse_RejectsExpired(t *testing.T) {
	s := NewTokenStore()
	now := time.Now()
	st, err := s.Create("pool-1", "", RegionUSEast, time.Minute, now)
	require.NoError(t, err)

	_, _, err = s.ValidateAndUse(st.Token, []byte("agent-1"), now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrSetupTokenExpired)
}
