package modelstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/modelstorm/stormflow/domain"
)

// SQLiteStore implements Store on a SQLite database. List-valued fields are
// stored as JSON columns; relations are carried by the foreign-key id
// columns on aggregates, commands and events.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for an ephemeral store.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_stories (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			role TEXT NOT NULL,
			action TEXT NOT NULL,
			benefit TEXT NOT NULL,
			rowid_order INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS bounded_contexts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			rationale TEXT NOT NULL,
			user_story_ids TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS aggregates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			root_entity TEXT NOT NULL,
			invariants TEXT NOT NULL,
			description TEXT NOT NULL,
			user_story_ids TEXT NOT NULL,
			bounded_context_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			actor TEXT NOT NULL,
			description TEXT NOT NULL,
			user_story_ids TEXT NOT NULL,
			aggregate_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			user_story_ids TEXT NOT NULL,
			aggregate_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS readmodels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			provisioning_type TEXT NOT NULL,
			source_bc_ids TEXT NOT NULL,
			source_event_ids TEXT NOT NULL,
			supports_command_ids TEXT NOT NULL,
			user_story_ids TEXT NOT NULL,
			bounded_context_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS policies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			trigger_event TEXT NOT NULL,
			target_bc TEXT NOT NULL,
			invoke_command TEXT NOT NULL,
			description TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UserStories(ctx context.Context) ([]domain.UserStory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, role, action, benefit FROM user_stories ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query user stories: %w", err)
	}
	defer rows.Close()

	var stories []domain.UserStory
	for rows.Next() {
		var st domain.UserStory
		if err := rows.Scan(&st.ID, &st.Title, &st.Role, &st.Action, &st.Benefit); err != nil {
			return nil, fmt.Errorf("scan user story: %w", err)
		}
		stories = append(stories, st)
	}
	return stories, rows.Err()
}

func (s *SQLiteStore) AddUserStories(ctx context.Context, stories ...domain.UserStory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, st := range stories {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO user_stories (id, title, role, action, benefit) VALUES (?, ?, ?, ?, ?)`,
			st.ID, st.Title, st.Role, st.Action, st.Benefit)
		if err != nil {
			return fmt.Errorf("insert user story %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveModel(ctx context.Context, m *domain.Model) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"bounded_contexts", "aggregates", "commands", "events", "readmodels", "policies"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, bc := range m.BoundedContexts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bounded_contexts (id, name, description, rationale, user_story_ids) VALUES (?, ?, ?, ?, ?)`,
			bc.ID, bc.Name, bc.Description, bc.Rationale, jsonList(bc.UserStoryIDs))
		if err != nil {
			return fmt.Errorf("insert bounded context %s: %w", bc.ID, err)
		}
	}
	for _, agg := range m.Aggregates {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO aggregates (id, name, root_entity, invariants, description, user_story_ids, bounded_context_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			agg.ID, agg.Name, agg.RootEntity, jsonList(agg.Invariants), agg.Description,
			jsonList(agg.UserStoryIDs), agg.BoundedContextID)
		if err != nil {
			return fmt.Errorf("insert aggregate %s: %w", agg.ID, err)
		}
	}
	for _, cmd := range m.Commands {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO commands (id, name, actor, description, user_story_ids, aggregate_id) VALUES (?, ?, ?, ?, ?, ?)`,
			cmd.ID, cmd.Name, cmd.Actor, cmd.Description, jsonList(cmd.UserStoryIDs), cmd.AggregateID)
		if err != nil {
			return fmt.Errorf("insert command %s: %w", cmd.ID, err)
		}
	}
	for _, ev := range m.Events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, name, description, user_story_ids, aggregate_id) VALUES (?, ?, ?, ?, ?)`,
			ev.ID, ev.Name, ev.Description, jsonList(ev.UserStoryIDs), ev.AggregateID)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}
	for _, rm := range m.ReadModels {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO readmodels (id, name, description, provisioning_type, source_bc_ids, source_event_ids, supports_command_ids, user_story_ids, bounded_context_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rm.ID, rm.Name, rm.Description, rm.ProvisioningType, jsonList(rm.SourceBCIDs),
			jsonList(rm.SourceEventIDs), jsonList(rm.SupportsCommandIDs), jsonList(rm.UserStoryIDs), rm.BoundedContextID)
		if err != nil {
			return fmt.Errorf("insert read model %s: %w", rm.ID, err)
		}
	}
	for _, pol := range m.Policies {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO policies (id, name, trigger_event, target_bc, invoke_command, description) VALUES (?, ?, ?, ?, ?, ?)`,
			pol.ID, pol.Name, pol.TriggerEvent, pol.TargetBC, pol.InvokeCommand, pol.Description)
		if err != nil {
			return fmt.Errorf("insert policy %s: %w", pol.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadModel(ctx context.Context) (*domain.Model, error) {
	m := &domain.Model{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, rationale, user_story_ids FROM bounded_contexts`)
	if err != nil {
		return nil, fmt.Errorf("query bounded contexts: %w", err)
	}
	for rows.Next() {
		var bc domain.BoundedContext
		var ids string
		if err := rows.Scan(&bc.ID, &bc.Name, &bc.Description, &bc.Rationale, &ids); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan bounded context: %w", err)
		}
		bc.UserStoryIDs = fromJSONList(ids)
		m.BoundedContexts = append(m.BoundedContexts, bc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, name, root_entity, invariants, description, user_story_ids, bounded_context_id FROM aggregates`)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	for rows.Next() {
		var agg domain.Aggregate
		var invariants, ids string
		if err := rows.Scan(&agg.ID, &agg.Name, &agg.RootEntity, &invariants, &agg.Description, &ids, &agg.BoundedContextID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		agg.Invariants = fromJSONList(invariants)
		agg.UserStoryIDs = fromJSONList(ids)
		m.Aggregates = append(m.Aggregates, agg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, name, actor, description, user_story_ids, aggregate_id FROM commands`)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	for rows.Next() {
		var cmd domain.Command
		var ids string
		if err := rows.Scan(&cmd.ID, &cmd.Name, &cmd.Actor, &cmd.Description, &ids, &cmd.AggregateID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmd.UserStoryIDs = fromJSONList(ids)
		m.Commands = append(m.Commands, cmd)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, name, description, user_story_ids, aggregate_id FROM events`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	for rows.Next() {
		var ev domain.Event
		var ids string
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Description, &ids, &ev.AggregateID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.UserStoryIDs = fromJSONList(ids)
		m.Events = append(m.Events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, name, description, provisioning_type, source_bc_ids, source_event_ids, supports_command_ids, user_story_ids, bounded_context_id FROM readmodels`)
	if err != nil {
		return nil, fmt.Errorf("query read models: %w", err)
	}
	for rows.Next() {
		var rm domain.ReadModel
		var bcIDs, evIDs, cmdIDs, storyIDs string
		if err := rows.Scan(&rm.ID, &rm.Name, &rm.Description, &rm.ProvisioningType, &bcIDs, &evIDs, &cmdIDs, &storyIDs, &rm.BoundedContextID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan read model: %w", err)
		}
		rm.SourceBCIDs = fromJSONList(bcIDs)
		rm.SourceEventIDs = fromJSONList(evIDs)
		rm.SupportsCommandIDs = fromJSONList(cmdIDs)
		rm.UserStoryIDs = fromJSONList(storyIDs)
		m.ReadModels = append(m.ReadModels, rm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, name, trigger_event, target_bc, invoke_command, description FROM policies`)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	for rows.Next() {
		var pol domain.Policy
		if err := rows.Scan(&pol.ID, &pol.Name, &pol.TriggerEvent, &pol.TargetBC, &pol.InvokeCommand, &pol.Description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		m.Policies = append(m.Policies, pol)
	}
	rows.Close()
	return m, rows.Err()
}

func (s *SQLiteStore) SearchBoundedContexts(ctx context.Context, keywords []string) ([]domain.BoundedContext, error) {
	m, err := s.LoadModel(ctx)
	if err != nil {
		return nil, err
	}
	return matchBoundedContexts(m.BoundedContexts, keywords), nil
}

func (s *SQLiteStore) RelatedObjects(ctx context.Context, targetID string) ([]RelatedObject, error) {
	m, err := s.LoadModel(ctx)
	if err != nil {
		return nil, err
	}
	return relatedIn(m, targetID), nil
}

func (s *SQLiteStore) ApplyChanges(ctx context.Context, changes []domain.ChangeItem) error {
	m, err := s.LoadModel(ctx)
	if err != nil {
		return err
	}
	if err := applyChanges(m, changes); err != nil {
		return err
	}
	return s.SaveModel(ctx, m)
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func fromJSONList(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	if len(items) == 0 {
		return nil
	}
	return items
}

// matchBoundedContexts does keyword matching on name and description. It is
// shared by the SQLite and memory stores so both rank the same way.
func matchBoundedContexts(contexts []domain.BoundedContext, keywords []string) []domain.BoundedContext {
	if len(keywords) == 0 {
		return nil
	}
	var matches []domain.BoundedContext
	for _, bc := range contexts {
		haystack := strings.ToLower(bc.Name + " " + bc.Description)
		for _, kw := range keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(kw)) {
				matches = append(matches, bc)
				break
			}
		}
	}
	return matches
}
