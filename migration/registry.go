package migration

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// VersionSource reports whether a schema version is registered.
type VersionSource interface {
	Exists(id string) bool
}

// DuplicatePolicy decides what happens when a script is registered for a pair
// that already has one.
type DuplicatePolicy int

const (
	// RejectDuplicates returns ErrDuplicatePair and keeps the first script.
	RejectDuplicates DuplicatePolicy = iota
	// ReplaceDuplicates keeps the last script, logs a warning and counts the
	// replacement.
	ReplaceDuplicates
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDuplicatePolicy sets the duplicate-pair policy.
func WithDuplicatePolicy(p DuplicatePolicy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

// WithLenientReferences accepts scripts whose endpoints are not (yet)
// registered. Each such registration is logged and left for the integrity
// check to report.
func WithLenientReferences() RegistryOption {
	return func(r *Registry) { r.lenient = true }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// Registry holds at most one script per ordered version pair.
type Registry struct {
	mu       sync.RWMutex
	versions VersionSource
	scripts  map[Pair]*Script
	order    []Pair
	replaced int

	policy  DuplicatePolicy
	lenient bool
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry validating endpoints against versions.
func NewRegistry(versions VersionSource, opts ...RegistryOption) *Registry {
	r := &Registry{
		versions: versions,
		scripts:  make(map[Pair]*Script),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a script. The script is copied; later changes by the caller
// have no effect.
func (r *Registry) Register(s Script) error {
	pair := s.Pair()
	if s.From == s.To {
		return fmt.Errorf("%w: %s migrates to itself", ErrInvalidVersionReference, s.From)
	}
	if s.Forward == nil || s.Backward == nil {
		return fmt.Errorf("%w: %s: forward and backward transforms are required", ErrScript, pair)
	}
	for _, v := range []string{s.From, s.To} {
		if v == "" || !r.versions.Exists(v) {
			if !r.lenient || v == "" {
				return fmt.Errorf("%w: %s: version %q is not registered", ErrInvalidVersionReference, pair, v)
			}
			r.logger.Warn("migration references unregistered version",
				"from", s.From,
				"to", s.To,
				"version", v)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scripts[pair]; exists {
		if r.policy != ReplaceDuplicates {
			return fmt.Errorf("%w: %s", ErrDuplicatePair, pair)
		}
		r.logger.Warn("replacing migration script for duplicate pair",
			"from", s.From,
			"to", s.To)
		r.replaced++
	} else {
		r.order = append(r.order, pair)
	}

	stored := s.clone()
	r.scripts[pair] = &stored
	return nil
}

// Lookup returns the script registered for the exact pair.
func (r *Registry) Lookup(from, to string) (Script, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[Pair{From: from, To: to}]
	if !ok {
		return Script{}, false
	}
	return s.clone(), true
}

// Pairs returns the registered pairs in registration order.
func (r *Registry) Pairs() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Scripts returns the registered scripts in registration order.
func (r *Registry) Scripts() []Script {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Script, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.scripts[p].clone())
	}
	return out
}

// Count returns the number of registered scripts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scripts)
}

// Replaced returns how many registrations replaced an existing script.
func (r *Registry) Replaced() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replaced
}
