// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Supports modernc.org/sqlite and mattn/go-sqlite3 with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/aevatarAI/aevatar-station-sub002/internal/codec"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// Driver names accepted by Open
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// timeFormat is fixed width so recorded_at sorts lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path with the pure Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open(DriverModernc, path)
}

// Open creates a SQLite store at path using the named driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func Open(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps :memory: databases coherent and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_events (
			agent_id       TEXT NOT NULL,
			version        INTEGER NOT NULL,
			event_type     TEXT NOT NULL,
			payload        BLOB NOT NULL,
			correlation_id TEXT,
			recorded_at    TEXT NOT NULL,

			PRIMARY KEY (agent_id, version),
			CHECK (version > 0)
		);

		CREATE INDEX IF NOT EXISTS idx_agent_events_recorded
			ON agent_events(agent_id, recorded_at);

		CREATE TABLE IF NOT EXISTS agent_state (
			agent_id   TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			state      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('agent_events') WHERE name = 'correlation_id'`,
			apply:  `ALTER TABLE agent_events ADD COLUMN correlation_id TEXT`,
			column: "correlation_id",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to agent_events: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "agent_events")
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agent_events_correlation ON agent_events(correlation_id)`); err != nil {
		return fmt.Errorf("indexing correlation_id: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE / PRIMARY KEY constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Append writes ev as the next version of agentID's log.
// Returns ErrVersionConflict if the head is not expectedVersion.
func (s *SQLiteStore) Append(ctx context.Context, agentID string, expectedVersion int64, ev envelope.Event) (int64, error) {
	name, data, err := codec.EncodeEvent(ev)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback()

	var head int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM agent_events WHERE agent_id = ?`,
		agentID,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("reading head version: %w", err)
	}
	if head != expectedVersion {
		return 0, fmt.Errorf("appending to %s at %d (head %d): %w", agentID, expectedVersion, head, ErrVersionConflict)
	}

	version := expectedVersion + 1
	var correlation *string
	if id := ev.EventMeta().CorrelationID; id != uuid.Nil {
		str := id.String()
		correlation = &str
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_events (agent_id, version, event_type, payload, correlation_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		agentID,
		version,
		name,
		data,
		correlation,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, fmt.Errorf("appending to %s at %d: %w", agentID, expectedVersion, ErrVersionConflict)
		}
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended event",
		"agent_id", agentID,
		"version", version,
		"event_type", name,
	)
	return version, nil
}

// Load returns decoded events of agentID newer than afterVersion, oldest first
func (s *SQLiteStore) Load(ctx context.Context, agentID string, afterVersion int64) ([]Record, error) {
	records, err := s.queryRecords(ctx, `
		SELECT agent_id, version, event_type, payload, correlation_id, recorded_at
		FROM agent_events
		WHERE agent_id = ? AND version > ?
		ORDER BY version ASC
	`, agentID, afterVersion)
	if err != nil {
		return nil, err
	}

	for i := range records {
		ev, err := codec.DecodeEvent(records[i].EventType, records[i].Data)
		if err != nil {
			return nil, fmt.Errorf("replaying %s version %d: %w", agentID, records[i].Version, err)
		}
		records[i].Event = ev
	}
	return records, nil
}

// Records returns raw records of an agent, oldest first
func (s *SQLiteStore) Records(ctx context.Context, agentID string, limit int) ([]Record, error) {
	return s.queryRecords(ctx, `
		SELECT agent_id, version, event_type, payload, correlation_id, recorded_at
		FROM agent_events
		WHERE agent_id = ?
		ORDER BY version ASC
		LIMIT ?
	`, agentID, clampLimit(limit))
}

// ByCorrelation returns raw records that share a correlation id, in recording order
func (s *SQLiteStore) ByCorrelation(ctx context.Context, correlationID uuid.UUID, limit int) ([]Record, error) {
	return s.queryRecords(ctx, `
		SELECT agent_id, version, event_type, payload, correlation_id, recorded_at
		FROM agent_events
		WHERE correlation_id = ?
		ORDER BY recorded_at ASC, agent_id ASC, version ASC
		LIMIT ?
	`, correlationID.String(), clampLimit(limit))
}

// Agents lists every agent id that has events
func (s *SQLiteStore) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT agent_id FROM agent_events ORDER BY agent_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, id)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec         Record
			correlation sql.NullString
			recordedAt  string
		)
		if err := rows.Scan(&rec.AgentID, &rec.Version, &rec.EventType, &rec.Data, &correlation, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if correlation.Valid {
			rec.CorrelationID, err = uuid.Parse(correlation.String)
			if err != nil {
				return nil, fmt.Errorf("parsing correlation id: %w", err)
			}
		}
		rec.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return records, nil
}

// SaveSnapshot stores the latest state of an agent, replacing any older snapshot
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, agentID string, version int64, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_state (agent_id, version, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			updated_at = excluded.updated_at
		WHERE excluded.version > agent_state.version
	`, agentID, version, state, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	s.logger.Debug("saved snapshot", "agent_id", agentID, "version", version)
	return nil
}

// LoadSnapshot returns the latest snapshot of an agent.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, agentID string) (*Snapshot, error) {
	var (
		snap      Snapshot
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, version, state, updated_at
		FROM agent_state
		WHERE agent_id = ?
	`, agentID).Scan(&snap.AgentID, &snap.Version, &snap.State, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}

	snap.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &snap, nil
}
