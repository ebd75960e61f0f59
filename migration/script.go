// Package migration registers migration scripts between adjacent schema
// versions and applies them to single records or batches.
package migration

import (
	"crypto/sha256"
	"fmt"
	"slices"

	"github.com/GoCodeAlone/datamigrate/schema"
)

// Direction is the direction a script is applied in.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "rollback"
)

// Transform converts a document between two schema versions. It receives a
// private deep copy and may mutate and return it.
type Transform func(doc schema.Document) (schema.Document, error)

// Check is a post-migration validator for the forward result.
type Check func(doc schema.Document) error

// Pair is an ordered (from, to) version pair.
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (p Pair) String() string { return p.From + " -> " + p.To }

// Script migrates documents between one ordered pair of versions.
type Script struct {
	From        string
	To          string
	Description string
	// Kinds lists the top-level document keys the script touches. When set,
	// every other top-level key is carried over unchanged. When empty the
	// script owns the whole document.
	Kinds []string
	// Invertible documents that Backward restores every field Forward saw.
	Invertible bool
	Forward    Transform
	Backward   Transform
	Validate   Check
	// Source is the declarative program text, when there is one. It feeds
	// the checksum recorded in migration history.
	Source string
}

// Pair returns the script's version pair.
func (s Script) Pair() Pair { return Pair{From: s.From, To: s.To} }

// Checksum identifies the script content for history records.
func (s Script) Checksum() string {
	h := sha256.Sum256([]byte(s.From + "\x00" + s.To + "\x00" + s.Source))
	return fmt.Sprintf("%x", h[:8])
}

func (s Script) clone() Script {
	s.Kinds = slices.Clone(s.Kinds)
	return s
}

// NoModification is a transform that returns the document unchanged.
func NoModification(doc schema.Document) (schema.Document, error) {
	return doc, nil
}
