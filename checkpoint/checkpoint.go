// Package checkpoint stores labelled snapshots of migrated records so a data
// set can be restored to a known version after a failed or unwanted run.
package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/datamigrate/schema"
)

// ErrNotFound is returned when a checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is a snapshot of records taken at one schema version.
type Checkpoint struct {
	ID        string            `json:"id"`
	Label     string            `json:"label"`
	Version   string            `json:"version"`
	Records   []schema.Document `json:"records"`
	CreatedAt time.Time         `json:"createdAt"`
}

// New creates a checkpoint with a fresh ID. Records are deep-copied.
func New(label, version string, records []schema.Document) Checkpoint {
	return Checkpoint{
		ID:        uuid.NewString(),
		Label:     label,
		Version:   version,
		Records:   cloneRecords(records),
		CreatedAt: time.Now().UTC(),
	}
}

// Store persists checkpoints.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	// Get returns ErrNotFound when id is unknown.
	Get(ctx context.Context, id string) (Checkpoint, error)
	// List returns checkpoints without records, oldest first.
	List(ctx context.Context) ([]Checkpoint, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps checkpoints for the lifetime of the process.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	if cp.ID == "" {
		return errors.New("checkpoint id is required")
	}
	cp.Records = cloneRecords(cp.Records)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	cp.Records = cloneRecords(cp.Records)
	return cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		cp.Records = nil
		out = append(out, cp)
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checkpoints[id]; !ok {
		return ErrNotFound
	}
	delete(s.checkpoints, id)
	return nil
}

func cloneRecords(records []schema.Document) []schema.Document {
	if records == nil {
		return nil
	}
	out := make([]schema.Document, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

func sortByCreated(cps []Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool {
		if cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return cps[i].ID < cps[j].ID
		}
		return cps[i].CreatedAt.Before(cps[j].CreatedAt)
	})
}
