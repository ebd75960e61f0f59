package migration

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"
)

// AppliedMigration records one batch run.
type AppliedMigration struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Direction Direction `json:"direction"`
	Records   int       `json:"records"`
	Failed    int       `json:"failed"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"appliedAt"`
}

// HistoryStore persists records of batch runs.
type HistoryStore interface {
	// Record stores a batch run.
	Record(ctx context.Context, m AppliedMigration) error
	// Applied returns all recorded runs, oldest first.
	Applied(ctx context.Context) ([]AppliedMigration, error)
}

// MemoryHistory keeps history for the lifetime of the process.
type MemoryHistory struct {
	mu      sync.RWMutex
	applied []AppliedMigration
}

// NewMemoryHistory creates an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Record implements HistoryStore.
func (h *MemoryHistory) Record(_ context.Context, m AppliedMigration) error {
	if m.AppliedAt.IsZero() {
		m.AppliedAt = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applied = append(h.applied, m)
	return nil
}

// Applied implements HistoryStore.
func (h *MemoryHistory) Applied(_ context.Context) ([]AppliedMigration, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.applied), nil
}

// SQLiteHistory implements HistoryStore using SQLite.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a SQLiteHistory and ensures the
// _data_migrations table exists.
func NewSQLiteHistory(db *sql.DB) (*SQLiteHistory, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS _data_migrations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		from_version TEXT NOT NULL,
		to_version   TEXT NOT NULL,
		direction    TEXT NOT NULL,
		records      INTEGER NOT NULL,
		failed       INTEGER NOT NULL,
		checksum     TEXT NOT NULL,
		applied_at   TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create _data_migrations table: %w", err)
	}
	return &SQLiteHistory{db: db}, nil
}

// Record implements HistoryStore.
func (s *SQLiteHistory) Record(ctx context.Context, m AppliedMigration) error {
	if m.AppliedAt.IsZero() {
		m.AppliedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _data_migrations (from_version, to_version, direction, records, failed, checksum, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.From, m.To, string(m.Direction), m.Records, m.Failed, m.Checksum, m.AppliedAt)
	if err != nil {
		return fmt.Errorf("insert _data_migrations: %w", err)
	}
	return nil
}

// Applied implements HistoryStore.
func (s *SQLiteHistory) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_version, to_version, direction, records, failed, checksum, applied_at
		 FROM _data_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query _data_migrations: %w", err)
	}
	defer rows.Close()

	var result []AppliedMigration
	for rows.Next() {
		var (
			m   AppliedMigration
			dir string
		)
		if err := rows.Scan(&m.From, &m.To, &dir, &m.Records, &m.Failed, &m.Checksum, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		m.Direction = Direction(dir)
		result = append(result, m)
	}
	return result, rows.Err()
}
