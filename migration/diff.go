package migration

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/GoCodeAlone/datamigrate/schema"
)

// ChangeKind classifies a field-level difference.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Changed ChangeKind = "changed"
)

// Change is one field-level difference between two documents.
type Change struct {
	Path   string     `json:"path"`
	Kind   ChangeKind `json:"kind"`
	Before any        `json:"before,omitempty"`
	After  any        `json:"after,omitempty"`
}

func (c Change) String() string {
	switch c.Kind {
	case Added:
		return fmt.Sprintf("+ %s = %v", c.Path, c.After)
	case Removed:
		return fmt.Sprintf("- %s (was %v)", c.Path, c.Before)
	default:
		return fmt.Sprintf("~ %s: %v -> %v", c.Path, c.Before, c.After)
	}
}

// DiffDocuments compares two documents object by object. Arrays and scalars
// are compared as whole values. Changes are sorted by path.
func DiffDocuments(before, after schema.Document) []Change {
	var changes []Change
	diffMaps("", before, after, &changes)
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes
}

// LostFields returns the paths present in orig that are missing or different
// in restored. An empty result means a rollback restored every original field.
func LostFields(orig, restored schema.Document) []string {
	var lost []string
	for _, c := range DiffDocuments(orig, restored) {
		if c.Kind != Added {
			lost = append(lost, c.Path)
		}
	}
	return lost
}

func diffMaps(prefix string, before, after map[string]any, changes *[]Change) {
	for k, bv := range before {
		path := joinPath(prefix, k)
		av, ok := after[k]
		if !ok {
			*changes = append(*changes, Change{Path: path, Kind: Removed, Before: bv})
			continue
		}
		bm, bIsMap := toMap(bv)
		am, aIsMap := toMap(av)
		if bIsMap && aIsMap {
			diffMaps(path, bm, am, changes)
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			*changes = append(*changes, Change{Path: path, Kind: Changed, Before: bv, After: av})
		}
	}
	for k, av := range after {
		if _, ok := before[k]; !ok {
			*changes = append(*changes, Change{Path: joinPath(prefix, k), Kind: Added, After: av})
		}
	}
}

func toMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case schema.Document:
		return t, true
	default:
		return nil, false
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.Join([]string{prefix, key}, ".")
}
