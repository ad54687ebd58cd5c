package sessions

import (
	"testing"
	"time"

	"github.com/san-kum/physio-cv/server/exercise"
	"github.com/san-kum/physio-cv/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T, id string) *exercise.Session {
	t.Helper()
	s, err := exercise.NewSession(id, models.ExerciseSquat, exercise.DefaultConfig(), nil, zap.NewNop())
	require.NoError(t, err)
	return s
}

func newTestRegistry(t *testing.T, maxSize int) *Registry {
	t.Helper()
	r := NewRegistry(maxSize, time.Hour, zap.NewNop())
	t.Cleanup(r.Close)
	return r
}

func TestRegistryWithRunsAgainstStoredSession(t *testing.T) {
	r := newTestRegistry(t, 10)
	r.Put(newTestSession(t, "a"))

	var got string
	err := r.With("a", func(s *exercise.Session) error {
		got = s.ID
		return s.Start()
	})
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	// State set inside With is visible on the next access.
	err = r.With("a", func(s *exercise.Session) error {
		assert.Equal(t, exercise.StatusActive, s.Status())
		return nil
	})
	require.NoError(t, err)
}

func TestRegistryWithUnknownID(t *testing.T) {
	r := newTestRegistry(t, 10)
	err := r.With("missing", func(*exercise.Session) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryRemoveStopsSession(t *testing.T) {
	r := newTestRegistry(t, 10)
	s := newTestSession(t, "a")
	require.NoError(t, s.Start())
	r.Put(s)

	r.Remove("a")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, exercise.StatusStopped, s.Status())

	// Removing twice is harmless.
	r.Remove("a")
}

func TestRegistryEvictsLRUWhenFull(t *testing.T) {
	r := newTestRegistry(t, 2)
	r.Put(newTestSession(t, "oldest"))
	r.Put(newTestSession(t, "middle"))

	// Touch "oldest" so "middle" becomes the eviction candidate.
	require.NoError(t, r.With("oldest", func(*exercise.Session) error { return nil }))

	r.Put(newTestSession(t, "newest"))
	assert.Equal(t, 2, r.Len())

	assert.NoError(t, r.With("oldest", func(*exercise.Session) error { return nil }))
	assert.NoError(t, r.With("newest", func(*exercise.Session) error { return nil }))
	assert.ErrorIs(t, r.With("middle", func(*exercise.Session) error { return nil }), ErrNotFound)
}

func TestRegistryCloseStopsAllSessions(t *testing.T) {
	r := NewRegistry(10, time.Hour, zap.NewNop())
	a := newTestSession(t, "a")
	b := newTestSession(t, "b")
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	r.Put(a)
	r.Put(b)

	r.Close()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, exercise.StatusStopped, a.Status())
	assert.Equal(t, exercise.StatusStopped, b.Status())
}

func TestRegistryStats(t *testing.T) {
	r := newTestRegistry(t, 5)
	r.Put(newTestSession(t, "a"))

	stats := r.Stats()
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 5, stats.MaxSessions)
}
