package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelstorm/stormflow/store"
)

// DBPool is the subset of pgxpool.Pool the store needs; it lets tests
// substitute pgxmock.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool      DBPool
	tableName string
}

var _ store.Store = (*Store)(nil)

// Options configures the Postgres connection.
type Options struct {
	ConnString string
	TableName  string // default "checkpoints"
}

// New creates a store with its own connection pool.
func New(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewWithPool(pool, opts.TableName), nil
}

// NewWithPool creates a store over an existing pool. Useful for testing
// with mocks.
func NewWithPool(pool DBPool, tableName string) *Store {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &Store{pool: pool, tableName: tableName}
}

// InitSchema creates the checkpoints table if it doesn't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			next_step TEXT NOT NULL,
			state JSONB NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, seq)
		);
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Put appends a checkpoint. The primary key on (session_id, seq) is the
// backstop for racing writers; the explicit latest-seq check turns gaps
// and duplicates alike into ErrStaleCheckpoint.
func (s *Store) Put(ctx context.Context, cp *store.Checkpoint) error {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var latest *int
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT MAX(seq) FROM %s WHERE session_id = $1", s.tableName),
		cp.SessionID,
	)
	if err := row.Scan(&latest); err != nil {
		return fmt.Errorf("failed to read latest seq: %w", err)
	}

	want := 0
	if latest != nil {
		want = *latest + 1
	}
	if cp.Seq != want {
		return store.ErrStaleCheckpoint
	}

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (session_id, seq, next_step, state, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, s.tableName),
		cp.SessionID, cp.Seq, cp.NextStep, stateJSON, metadataJSON, cp.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Unique violation: someone else won the seq.
			return store.ErrStaleCheckpoint
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint for a session.
func (s *Store) Latest(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT session_id, seq, next_step, state, metadata, created_at
			FROM %s WHERE session_id = $1 ORDER BY seq DESC LIMIT 1`, s.tableName),
		sessionID,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return cp, err
}

// List returns all checkpoints for a session in sequence order.
func (s *Store) List(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT session_id, seq, next_step, state, metadata, created_at
			FROM %s WHERE session_id = $1 ORDER BY seq ASC`, s.tableName),
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*store.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Clear removes all checkpoints for a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE session_id = $1", s.tableName),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var stateJSON, metadataJSON []byte
	if err := row.Scan(&cp.SessionID, &cp.Seq, &cp.NextStep, &stateJSON, &metadataJSON, &cp.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}
