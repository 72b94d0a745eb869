package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/modelstorm/stormflow/store"
)

// Store implements store.Store on SQLite. The (session_id, seq) primary
// key makes the sequence contract a constraint the database enforces.
type Store struct {
	db        *sql.DB
	tableName string
}

var _ store.Store = (*Store)(nil)

// Options configures the SQLite connection.
type Options struct {
	Path      string
	TableName string // default "checkpoints"
}

// New opens the database and creates the schema if needed.
func New(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &Store{db: db, tableName: tableName}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			next_step TEXT NOT NULL,
			state TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, seq)
		);
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put appends a checkpoint. The sequence check runs inside an immediate
// transaction so concurrent writers of one session serialize.
func (s *Store) Put(ctx context.Context, cp *store.Checkpoint) error {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(seq) FROM %s WHERE session_id = ?", s.tableName),
		cp.SessionID,
	)
	if err := row.Scan(&latest); err != nil {
		return fmt.Errorf("failed to read latest seq: %w", err)
	}

	want := 0
	if latest.Valid {
		want = int(latest.Int64) + 1
	}
	if cp.Seq != want {
		return store.ErrStaleCheckpoint
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (session_id, seq, next_step, state, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`, s.tableName),
		cp.SessionID, cp.Seq, cp.NextStep, string(stateJSON), string(metadataJSON), cp.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return tx.Commit()
}

// Latest returns the newest checkpoint for a session.
func (s *Store) Latest(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT session_id, seq, next_step, state, metadata, created_at
			FROM %s WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, s.tableName),
		sessionID,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return cp, err
}

// List returns all checkpoints for a session in sequence order.
func (s *Store) List(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT session_id, seq, next_step, state, metadata, created_at
			FROM %s WHERE session_id = ? ORDER BY seq ASC`, s.tableName),
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
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", s.tableName),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var stateJSON, metadataJSON string
	if err := row.Scan(&cp.SessionID, &cp.Seq, &cp.NextStep, &stateJSON, &metadataJSON, &cp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}
