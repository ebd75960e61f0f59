// Package schema validates migration payloads against the structural
// expectations registered for each schema version.
package schema

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/datamigrate/versioning"
)

var (
	// ErrUnknownVersion is returned when validating or registering rules for
	// a version that is not registered. It matches versioning.ErrNotFound.
	ErrUnknownVersion = fmt.Errorf("unknown version: %w", versioning.ErrNotFound)
	// ErrFrozenVersion is returned when rules are added to a frozen version.
	ErrFrozenVersion = errors.New("schema version is frozen")
)

// VersionSource reports which versions exist and which are frozen.
// *versioning.Registry satisfies it.
type VersionSource interface {
	Exists(id string) bool
	IsFrozen(id string) bool
}

// Result is the outcome of validating one document.
type Result struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// Validator holds the rules registered for each schema version.
type Validator struct {
	mu       sync.RWMutex
	versions VersionSource
	rules    map[string][]Rule
}

// NewValidator creates a Validator bound to the given version source.
func NewValidator(versions VersionSource) *Validator {
	return &Validator{
		versions: versions,
		rules:    make(map[string][]Rule),
	}
}

// Register appends rules to a version's expectations. The version must exist
// and must not be frozen.
func (v *Validator) Register(versionID string, rules ...Rule) error {
	if !v.versions.Exists(versionID) {
		return fmt.Errorf("register rules: %w: %s", ErrUnknownVersion, versionID)
	}
	if v.versions.IsFrozen(versionID) {
		return fmt.Errorf("register rules: %w: %s", ErrFrozenVersion, versionID)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[versionID] = append(v.rules[versionID], rules...)
	return nil
}

// HasVersion reports whether versionID can be validated against.
func (v *Validator) HasVersion(versionID string) bool {
	return v.versions.Exists(versionID)
}

// RuleCount returns the number of rules registered for a version.
func (v *Validator) RuleCount(versionID string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.rules[versionID])
}

// Validate checks doc against every rule registered for versionID. A version
// with no rules accepts every document.
func (v *Validator) Validate(versionID string, doc Document) (Result, error) {
	if !v.versions.Exists(versionID) {
		return Result{}, fmt.Errorf("validate: %w: %s", ErrUnknownVersion, versionID)
	}

	v.mu.RLock()
	rules := v.rules[versionID]
	v.mu.RUnlock()

	var errs ValidationErrors
	if doc == nil {
		errs = append(errs, &ValidationError{Message: "document is empty"})
	} else {
		for _, r := range rules {
			if err := checkRule(r, doc); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return Result{
		Success: len(errs) == 0,
		Errors:  errs.Messages(),
	}, nil
}

// checkRule runs one rule, reporting a panic as a violation of that rule.
func checkRule(r Rule, doc Document) (verr *ValidationError) {
	defer func() {
		if p := recover(); p != nil {
			verr = &ValidationError{Message: fmt.Sprintf("rule panicked: %v", p)}
		}
	}()
	return r.Check(doc)
}
