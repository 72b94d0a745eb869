package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelstorm/stormflow/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{Path: filepath.Join(t.TempDir(), "checkpoints.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func cp(session string, seq int, next string) *store.Checkpoint {
	return &store.Checkpoint{
		SessionID: session,
		Seq:       seq,
		NextStep:  next,
		State:     map[string]any{"counter": float64(seq)},
		Metadata:  map[string]any{store.MetaSource: "step"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestPutAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, cp("s1", 0, "a")))
	require.NoError(t, s.Put(ctx, cp("s1", 1, "b")))

	latest, err := s.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Seq)
	assert.Equal(t, "b", latest.NextStep)
	assert.Equal(t, map[string]any{"counter": float64(1)}, latest.State)
	assert.Equal(t, "step", latest.Metadata[store.MetaSource])
}

func TestPutSequenceContract(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Put(ctx, cp("s1", 1, "a")), store.ErrStaleCheckpoint)
	require.NoError(t, s.Put(ctx, cp("s1", 0, "a")))
	assert.ErrorIs(t, s.Put(ctx, cp("s1", 0, "a")), store.ErrStaleCheckpoint)
	assert.ErrorIs(t, s.Put(ctx, cp("s1", 2, "b")), store.ErrStaleCheckpoint)
	require.NoError(t, s.Put(ctx, cp("s1", 1, "b")))
}

func TestLatestNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Latest(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, cp("s1", i, "a")))
	}
	require.NoError(t, s.Put(ctx, cp("other", 0, "x")))

	cps, err := s.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	for i, c := range cps {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, "s1", c.SessionID)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, cp("s1", 0, "a")))
	require.NoError(t, s.Clear(ctx, "s1"))

	_, err := s.Latest(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, s.Put(ctx, cp("s1", 0, "a")))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	s, err := New(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, cp("s1", 0, "a")))
	require.NoError(t, s.Close())

	reopened, err := New(Options{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Seq)

	// The sequence contract survives the reopen.
	assert.ErrorIs(t, reopened.Put(ctx, cp("s1", 0, "a")), store.ErrStaleCheckpoint)
	assert.NoError(t, reopened.Put(ctx, cp("s1", 1, "b")))
}

func TestCustomTableName(t *testing.T) {
	s, err := New(Options{
		Path:      filepath.Join(t.TempDir(), "checkpoints.db"),
		TableName: "workflow_checkpoints",
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, cp("s1", 0, "a")))

	latest, err := s.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", latest.NextStep)
}
