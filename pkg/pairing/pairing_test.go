package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub-iot/hubcore/pkg/registry"
)

func newTestService(t *testing.T) (*Service, *registry.Store) {
	t.Helper()
	store, err := registry.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, nil), store
}

func TestIssueCodeShape(t *testing.T) {
	s, _ := newTestService(t)

	code, err := s.IssueCode()
	require.NoError(t, err)
	assert.Len(t, code, codeLen)
	for _, r := range code {
		assert.Contains(t, codeAlphabet, string(r))
	}

	other, err := s.IssueCode()
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestRedeemPersistsBinding(t *testing.T) {
	s, store := newTestService(t)

	code, err := s.IssueCode()
	require.NoError(t, err)

	id, err := s.Redeem(code, "sha256:fp", "viewer")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	binding, err := store.FindBindingByUUID(id)
	require.NoError(t, err)
	assert.Equal(t, "sha256:fp", binding.Fingerprint)
	assert.Equal(t, "viewer", binding.Role)
}

func TestRedeemIsOneShot(t *testing.T) {
	s, _ := newTestService(t)

	code, err := s.IssueCode()
	require.NoError(t, err)

	_, err = s.Redeem(code, "fp", "viewer")
	require.NoError(t, err)

	_, err = s.Redeem(code, "fp", "viewer")
	assert.ErrorIs(t, err, ErrCodeInvalid)
}

func TestRedeemUnknownCode(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Redeem("NOPE1234", "fp", "viewer")
	assert.ErrorIs(t, err, ErrCodeInvalid)
}

func TestRedeemExpiredCode(t *testing.T) {
	s, _ := newTestService(t)

	code, err := s.IssueCode()
	require.NoError(t, err)

	// Move the clock past the TTL.
	s.now = func() time.Time { return time.Now().Add(CodeTTL + time.Second) }

	_, err = s.Redeem(code, "fp", "viewer")
	assert.ErrorIs(t, err, ErrCodeInvalid)
}

func TestTouchAndLookup(t *testing.T) {
	s, _ := newTestService(t)

	code, err := s.IssueCode()
	require.NoError(t, err)
	id, err := s.Redeem(code, "fp", "operator")
	require.NoError(t, err)

	require.NoError(t, s.Touch(id))
	binding, err := s.Lookup(id)
	require.NoError(t, err)
	assert.True(t, binding.LastSeenAt.Valid)
}
