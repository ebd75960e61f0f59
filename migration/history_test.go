package migration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A single connection keeps the in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHistoryStores(t *testing.T) {
	stores := map[string]func(t *testing.T) HistoryStore{
		"memory": func(*testing.T) HistoryStore { return NewMemoryHistory() },
		"sqlite": func(t *testing.T) HistoryStore {
			h, err := NewSQLiteHistory(openTestDB(t))
			if err != nil {
				t.Fatalf("new sqlite history: %v", err)
			}
			return h
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newStore(t)

			applied, err := h.Applied(ctx)
			if err != nil {
				t.Fatalf("applied: %v", err)
			}
			if len(applied) != 0 {
				t.Fatalf("expected empty history, got %d", len(applied))
			}

			at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			entries := []AppliedMigration{
				{From: baseline, To: enhanced, Direction: Forward, Records: 10, Failed: 2, Checksum: "abc", AppliedAt: at},
				{From: baseline, To: enhanced, Direction: Backward, Records: 8, Checksum: "abc"},
			}
			for _, m := range entries {
				if err := h.Record(ctx, m); err != nil {
					t.Fatalf("record: %v", err)
				}
			}

			applied, err = h.Applied(ctx)
			if err != nil {
				t.Fatalf("applied: %v", err)
			}
			if len(applied) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(applied))
			}
			first := applied[0]
			if first.Direction != Forward || first.Records != 10 || first.Failed != 2 || first.Checksum != "abc" {
				t.Errorf("unexpected first entry: %+v", first)
			}
			if !first.AppliedAt.Equal(at) {
				t.Errorf("expected AppliedAt %v, got %v", at, first.AppliedAt)
			}
			if applied[1].Direction != Backward || applied[1].AppliedAt.IsZero() {
				t.Errorf("unexpected second entry: %+v", applied[1])
			}
		})
	}
}
