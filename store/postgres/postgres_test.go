package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelstorm/stormflow/store"
)

const (
	maxSeqQuery = "SELECT MAX(seq) FROM checkpoints WHERE session_id = $1"
	insertQuery = `INSERT INTO checkpoints (session_id, seq, next_step, state, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`
	latestQuery = `SELECT session_id, seq, next_step, state, metadata, created_at
			FROM checkpoints WHERE session_id = $1 ORDER BY seq DESC LIMIT 1`
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock, "checkpoints"), mock
}

func intPtr(i int) *int { return &i }

func TestPutFirstCheckpoint(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(maxSeqQuery)).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(regexp.QuoteMeta(insertQuery)).
		WithArgs("s1", 0, "a", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Put(context.Background(), &store.Checkpoint{
		SessionID: "s1",
		Seq:       0,
		NextStep:  "a",
		State:     map[string]any{"counter": 0},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutNextCheckpoint(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(maxSeqQuery)).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(intPtr(2)))
	mock.ExpectExec(regexp.QuoteMeta(insertQuery)).
		WithArgs("s1", 3, "b", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Put(context.Background(), &store.Checkpoint{
		SessionID: "s1",
		Seq:       3,
		NextStep:  "b",
		State:     map[string]any{},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutStaleSeq(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(maxSeqQuery)).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(intPtr(4)))

	err := s.Put(context.Background(), &store.Checkpoint{
		SessionID: "s1",
		Seq:       2,
		NextStep:  "b",
		State:     map[string]any{},
		CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, store.ErrStaleCheckpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutUniqueViolationMapsToStale(t *testing.T) {
	// Two writers can pass the MAX(seq) check; the primary key catches
	// the loser.
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(maxSeqQuery)).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(intPtr(0)))
	mock.ExpectExec(regexp.QuoteMeta(insertQuery)).
		WithArgs("s1", 1, "b", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.Put(context.Background(), &store.Checkpoint{
		SessionID: "s1",
		Seq:       1,
		NextStep:  "b",
		State:     map[string]any{},
		CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, store.ErrStaleCheckpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatest(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(latestQuery)).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"session_id", "seq", "next_step", "state", "metadata", "created_at"},
		).AddRow("s1", 2, "review", []byte(`{"counter":2}`), []byte(`{"source":"suspend","suspended":true}`), now))

	cp, err := s.Latest(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Seq)
	assert.Equal(t, "review", cp.NextStep)
	assert.Equal(t, map[string]any{"counter": float64(2)}, cp.State)
	assert.True(t, cp.Suspended())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(latestQuery)).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Latest(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	listQuery := `SELECT session_id, seq, next_step, state, metadata, created_at
			FROM checkpoints WHERE session_id = $1 ORDER BY seq ASC`
	mock.ExpectQuery(regexp.QuoteMeta(listQuery)).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"session_id", "seq", "next_step", "state", "metadata", "created_at"},
		).
			AddRow("s1", 0, "a", []byte(`{}`), []byte(`{"source":"start"}`), now).
			AddRow("s1", 1, "b", []byte(`{}`), []byte(`{"source":"step"}`), now))

	cps, err := s.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, 0, cps[0].Seq)
	assert.Equal(t, 1, cps[1].Seq)
	assert.Equal(t, "step", cps[1].Metadata[store.MetaSource])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClear(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE session_id = $1")).
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, s.Clear(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSeqReadError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(maxSeqQuery)).
		WithArgs("s1").
		WillReturnError(errors.New("connection reset"))

	err := s.Put(context.Background(), &store.Checkpoint{SessionID: "s1", State: map[string]any{}})
	assert.ErrorContains(t, err, "failed to read latest seq")
	assert.NoError(t, mock.ExpectationsWereMet())
}
