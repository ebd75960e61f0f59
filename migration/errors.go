package migration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/datamigrate/schema"
)

var (
	// ErrInvalidVersionReference is returned when a script references an
	// unregistered version or migrates a version to itself.
	ErrInvalidVersionReference = errors.New("invalid version reference")
	// ErrDuplicatePair is returned when a script is already registered for
	// the same ordered version pair.
	ErrDuplicatePair = errors.New("duplicate migration pair")
	// ErrNoMigrationPath is returned when no script is registered for the
	// exact requested pair. Paths are never chained.
	ErrNoMigrationPath = errors.New("no migration path")
	// ErrScript is returned when a transform fails, panics or returns no
	// document.
	ErrScript = errors.New("migration script error")
	// ErrPostMigrationValidation is returned when a transform succeeds but
	// its result fails validation.
	ErrPostMigrationValidation = errors.New("post-migration validation failed")
)

// Error describes a failed migrate or rollback call. It matches its Kind and
// its Cause with errors.Is.
type Error struct {
	Kind      error
	Direction Direction
	From      string
	To        string
	Cause     error
	// Payload holds the rejected transform output for
	// ErrPostMigrationValidation. It is never returned as migrated data.
	Payload    schema.Document
	Violations []string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s -> %s: %v", e.Direction, e.From, e.To, e.Kind)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if len(e.Violations) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Violations, "; "))
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
