// Package eventstore implements the durable, append-only audit log backed
// by an embedded SQL engine with write-ahead logging. The Supervisor is the
// sole writer; this package only enforces single-connection serialization
// of that writer plus the table schema from spec §4.6.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	clawforge "github.com/clawforge/clawforge"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store persists Events and AgentSpecs to a SQLite database, or to an
// in-memory (":memory:") database for tests.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL mode, and ensures the schema exists. A single connection is used so
// that the Supervisor's serialized writes never contend with SQLITE_BUSY.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, clawforge.NewError(clawforge.KindStoreUnavailable, "eventstore.Open", err)
	}
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, clawforge.NewError(clawforge.KindStoreUnavailable, "eventstore.Open", err)
		}
	}

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, clawforge.NewError(clawforge.KindStoreUnavailable, "eventstore.Open", err)
	}
	return s, nil
}

// OpenMemory opens an ephemeral in-memory store, for tests.
func OpenMemory(ctx context.Context) (*Store, error) {
	return Open(ctx, ":memory:")
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent_id ON events(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			spec_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("eventstore: init schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// timestampLayout is a fixed-width UTC ISO 8601 layout, so that ordering the
// stored text (ORDER BY timestamp) matches chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Insert persists a single event. Timestamps are stored in ISO 8601.
func (s *Store) Insert(ctx context.Context, e clawforge.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, run_id, agent_id, sequence, timestamp, kind, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.AgentID, e.Sequence, e.Timestamp.UTC().Format(timestampLayout), string(e.Kind), string(e.Payload),
	)
	if err != nil {
		return clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.Insert", err)
	}
	return nil
}

// GetRunEvents returns every event for runID, ordered by timestamp
// ascending.
func (s *Store) GetRunEvents(ctx context.Context, runID string) ([]clawforge.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, agent_id, sequence, timestamp, kind, payload_json
		 FROM events WHERE run_id = ? ORDER BY timestamp ASC, sequence ASC`, runID)
	if err != nil {
		return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.GetRunEvents", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetRecent returns the most recent limit events across all runs, ordered
// by timestamp descending.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]clawforge.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, agent_id, sequence, timestamp, kind, payload_json
		 FROM events ORDER BY timestamp DESC, sequence DESC LIMIT ?`, limit)
	if err != nil {
		return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.GetRecent", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Count returns the total number of persisted events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	if err != nil {
		return 0, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.Count", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]clawforge.Event, error) {
	var events []clawforge.Event
	for rows.Next() {
		var e clawforge.Event
		var ts, kind, payload string
		if err := rows.Scan(&e.ID, &e.RunID, &e.AgentID, &e.Sequence, &ts, &kind, &payload); err != nil {
			return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.scanEvents", err)
		}
		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.scanEvents", err)
		}
		e.Timestamp = parsedTS
		e.Kind = clawforge.EventKind(kind)
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.scanEvents", err)
	}
	return events, nil
}

// SaveAgent upserts an AgentSpec by ID.
func (s *Store) SaveAgent(ctx context.Context, agent clawforge.AgentSpec) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.SaveAgent", err)
	}
	now := clawforge.NowUTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, spec_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, spec_json = excluded.spec_json, updated_at = excluded.updated_at`,
		agent.ID, agent.Name, string(raw), agent.CreatedAt.Format(time.RFC3339Nano), now,
	)
	if err != nil {
		return clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.SaveAgent", err)
	}
	return nil
}

// GetAgent returns the agent spec stored under id.
func (s *Store) GetAgent(ctx context.Context, id string) (clawforge.AgentSpec, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT spec_json FROM agents WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return clawforge.AgentSpec{}, false, nil
	}
	if err != nil {
		return clawforge.AgentSpec{}, false, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.GetAgent", err)
	}
	var agent clawforge.AgentSpec
	if err := json.Unmarshal([]byte(raw), &agent); err != nil {
		return clawforge.AgentSpec{}, false, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.GetAgent", err)
	}
	return agent, true, nil
}

// ListAgents returns every registered agent spec.
func (s *Store) ListAgents(ctx context.Context) ([]clawforge.AgentSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT spec_json FROM agents ORDER BY created_at ASC`)
	if err != nil {
		return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.ListAgents", err)
	}
	defer rows.Close()

	var agents []clawforge.AgentSpec
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.ListAgents", err)
		}
		var agent clawforge.AgentSpec
		if err := json.Unmarshal([]byte(raw), &agent); err != nil {
			return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.ListAgents", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, clawforge.NewError(clawforge.KindStoreWriteError, "eventstore.ListAgents", err)
	}
	return agents, nil
}
