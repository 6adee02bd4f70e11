package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNX(t *testing.T) {
	s := New()

	acquired, err := s.SetNX("lock", "a", 0)
	require.NoError(t, err)
	assert.True(t, acquired)

	again, err := s.SetNX("lock", "b", 0)
	require.NoError(t, err)
	assert.False(t, again)

	value, ok, err := s.Get("lock")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", value, "losing SetNX must not overwrite")
}

func TestSetNXExpiry(t *testing.T) {
	s := New()

	acquired, err := s.SetNX("lock", "a", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(20 * time.Millisecond)

	reacquired, err := s.SetNX("lock", "b", 0)
	require.NoError(t, err)
	assert.True(t, reacquired, "expired keys are up for grabs")
}

func TestGetExpired(t *testing.T) {
	s := New()

	_, err := s.SetNX("k", "v", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s := New()

	_, err := s.SetNX("k", "v", 0)
	require.NoError(t, err)
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"), "deleting an absent key is fine")

	_, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCounters(t *testing.T) {
	s := New()

	v, err := s.Incr("c", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = s.Incr("c", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	current, err := s.Counter("c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestCleanupExpired(t *testing.T) {
	s := New()

	_, err := s.SetNX("short", "v", 10*time.Millisecond)
	require.NoError(t, err)
	_, err = s.SetNX("long", "v", time.Hour)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, s.CleanupExpired())

	_, ok, err := s.Get("long")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	assert.Error(t, s.Ping())
	_, err := s.SetNX("k", "v", 0)
	assert.Error(t, err)
	_, _, err = s.Get("k")
	assert.Error(t, err)
	assert.Error(t, s.Delete("k"))
	_, err = s.Incr("c", 1)
	assert.Error(t, err)
}
