package provenance

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteRepository persists provenance events to SQLite.
// It is suitable for single-process production use.
type SQLiteRepository struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteRepository opens or creates a SQLite provenance database.
// The path should be a file path (e.g., "./provenance.db") or ":memory:" for testing.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// :memory: databases are per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS provenance_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			flowfile_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			processor TEXT NOT NULL,
			relationship TEXT NOT NULL DEFAULT '',
			connection INTEGER NOT NULL DEFAULT 0,
			generation INTEGER NOT NULL,
			size INTEGER NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			details TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_provenance_flowfile ON provenance_events(flowfile_id)`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_parent ON provenance_events(parent_id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Record implements Repository.
func (s *SQLiteRepository) Record(events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrRepositoryClosed
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.Prepare(`
		INSERT INTO provenance_events
			(id, type, flowfile_id, parent_id, processor, relationship, connection,
			 generation, size, attributes, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		e = prepare(e)
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		if _, err := stmt.Exec(
			e.ID, string(e.Type), e.FlowFileID, e.ParentID, e.Processor, e.Relationship,
			e.Connection, e.Generation, e.Size, string(attrs), e.Details,
			e.Timestamp.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Lineage implements Repository.
func (s *SQLiteRepository) Lineage(flowFileID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrRepositoryClosed
	}

	rows, err := s.db.Query(`
		SELECT id, type, flowfile_id, parent_id, processor, relationship, connection,
		       generation, size, attributes, details, timestamp
		FROM provenance_events
		WHERE flowfile_id = ? OR parent_id = ?
		ORDER BY seq
	`, flowFileID, flowFileID)
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	return scanEvents(rows)
}

// Recent implements Repository.
func (s *SQLiteRepository) Recent(limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrRepositoryClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT id, type, flowfile_id, parent_id, processor, relationship, connection,
		       generation, size, attributes, details, timestamp
		FROM provenance_events
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	return scanEvents(rows)
}

// Close implements Repository.
func (s *SQLiteRepository) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			typ       string
			attrs     string
			timestamp string
		)
		if err := rows.Scan(&e.ID, &typ, &e.FlowFileID, &e.ParentID, &e.Processor,
			&e.Relationship, &e.Connection, &e.Generation, &e.Size, &attrs, &e.Details,
			&timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = EventType(typ)
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
