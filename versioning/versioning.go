// Package versioning keeps the ordered set of known schema versions and the
// process-wide current version pointer.
package versioning

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a version id is not registered.
	ErrNotFound = errors.New("schema version not found")
	// ErrDuplicateVersion is returned when a version id is registered twice.
	ErrDuplicateVersion = errors.New("schema version already registered")
	// ErrInvalidVersion is returned for malformed version ids.
	ErrInvalidVersion = errors.New("invalid schema version")
)

// Metadata describes a schema version.
type Metadata struct {
	Description        string    `json:"description,omitempty" yaml:"description,omitempty"`
	Author             string    `json:"author,omitempty" yaml:"author,omitempty"`
	CreatedAt          time.Time `json:"createdAt" yaml:"createdAt"`
	BreakingChanges    bool      `json:"breakingChanges" yaml:"breakingChanges"`
	CompatibleVersions []string  `json:"compatibleVersions,omitempty" yaml:"compatibleVersions,omitempty"`
}

func (m Metadata) clone() Metadata {
	m.CompatibleVersions = slices.Clone(m.CompatibleVersions)
	return m
}

// SchemaVersion is a named shape description for a category of records.
type SchemaVersion struct {
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
	Frozen   bool     `json:"frozen"`
}

// Registry holds schema versions in registration order. Registration order is
// the only ordering; version ids are never compared numerically.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	versions map[string]*SchemaVersion
	current  string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string]*SchemaVersion),
	}
}

// Register adds a new version. A CreatedAt of zero is stamped with the
// registration time.
func (r *Registry) Register(id string, meta Metadata) (SchemaVersion, error) {
	if id == "" {
		return SchemaVersion{}, fmt.Errorf("%w: id is required", ErrInvalidVersion)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[id]; ok {
		return SchemaVersion{}, fmt.Errorf("%w: %s", ErrDuplicateVersion, id)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	v := &SchemaVersion{ID: id, Metadata: meta.clone()}
	r.versions[id] = v
	r.order = append(r.order, id)
	return v.copy(), nil
}

// Get returns a copy of the version with the given id.
func (r *Registry) Get(id string) (SchemaVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[id]
	if !ok {
		return SchemaVersion{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.copy(), nil
}

// List returns the registered version ids in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Versions returns copies of every registered version in registration order.
func (r *Registry) Versions() []SchemaVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]SchemaVersion, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.versions[id].copy())
	}
	return result
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.versions[id]
	return ok
}

// Freeze marks a version as frozen. Freezing a frozen version is a no-op.
func (r *Registry) Freeze(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[id]
	if !ok {
		return fmt.Errorf("freeze: %w: %s", ErrNotFound, id)
	}
	v.Frozen = true
	return nil
}

// IsFrozen reports whether id is registered and frozen.
func (r *Registry) IsFrozen(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[id]
	return ok && v.Frozen
}

// SetCurrent moves the current version pointer. No reachability check is made
// against the previous current version.
func (r *Registry) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[id]; !ok {
		return fmt.Errorf("set current: %w: %s", ErrNotFound, id)
	}
	r.current = id
	return nil
}

// Current returns the current version id, or "" when none was set.
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Baseline returns the first registered version id.
func (r *Registry) Baseline() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return "", false
	}
	return r.order[0], true
}

// Count returns the number of registered versions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// FrozenCount returns the number of frozen versions.
func (r *Registry) FrozenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, v := range r.versions {
		if v.Frozen {
			n++
		}
	}
	return n
}

func (v *SchemaVersion) copy() SchemaVersion {
	return SchemaVersion{
		ID:       v.ID,
		Metadata: v.Metadata.clone(),
		Frozen:   v.Frozen,
	}
}
