// Package config loads the YAML manifest that declares schema versions, their
// structural expectations and the migration scripts between them.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/datamigrate/migration"
	"github.com/GoCodeAlone/datamigrate/schema"
	"github.com/GoCodeAlone/datamigrate/versioning"
)

//go:embed default_manifest.yaml
var defaultManifest []byte

// Manifest is the bootstrap description of versions and migrations.
type Manifest struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Current is the initial current version. Empty means the first
	// registered version.
	Current    string          `json:"current,omitempty" yaml:"current,omitempty"`
	Versions   []VersionSpec   `json:"versions" yaml:"versions"`
	Migrations []MigrationSpec `json:"migrations" yaml:"migrations"`
}

// VersionSpec declares one schema version.
type VersionSpec struct {
	ID                  string `json:"id" yaml:"id"`
	versioning.Metadata `yaml:",inline"`
	// Frozen versions are frozen after their rules are registered.
	Frozen     bool       `json:"frozen,omitempty" yaml:"frozen,omitempty"`
	Validation Validation `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Validation lists the structural expectations of a version. Kinds scopes a
// nested Validation to documents carrying that top-level kind.
type Validation struct {
	Required []string              `json:"required,omitempty" yaml:"required,omitempty"`
	Objects  []string              `json:"objects,omitempty" yaml:"objects,omitempty"`
	Arrays   []string              `json:"arrays,omitempty" yaml:"arrays,omitempty"`
	Types    []TypeRule            `json:"types,omitempty" yaml:"types,omitempty"`
	Enums    []EnumRule            `json:"enums,omitempty" yaml:"enums,omitempty"`
	Rules    []ExprRule            `json:"rules,omitempty" yaml:"rules,omitempty"`
	Kinds    map[string]Validation `json:"kinds,omitempty" yaml:"kinds,omitempty"`
}

// TypeRule checks the type of one field.
type TypeRule struct {
	Path     string `json:"path" yaml:"path"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// EnumRule restricts a string field to a set of values.
type EnumRule struct {
	Path   string   `json:"path" yaml:"path"`
	Values []string `json:"values" yaml:"values"`
}

// ExprRule is a boolean expression over the document's kinds.
type ExprRule struct {
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Expr    string `json:"expr" yaml:"expr"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// MigrationSpec declares a script as jq programs plus an optional expression
// validator.
type MigrationSpec struct {
	From        string   `json:"from" yaml:"from"`
	To          string   `json:"to" yaml:"to"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Kinds       []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Invertible  bool     `json:"invertible,omitempty" yaml:"invertible,omitempty"`
	// Forward and Backward are jq programs. An empty program leaves the
	// document unchanged.
	Forward  string `json:"forward,omitempty" yaml:"forward,omitempty"`
	Backward string `json:"backward,omitempty" yaml:"backward,omitempty"`
	Validate string `json:"validate,omitempty" yaml:"validate,omitempty"`
}

// LoadFromFile loads a manifest from a YAML file.
func LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Default returns the embedded manifest for the traceability record kinds.
func Default() (*Manifest, error) {
	return Parse(defaultManifest)
}

// Build compiles the validation into schema rules.
func (v Validation) Build() ([]schema.Rule, error) {
	rules := schema.RequireFields(v.Required...)
	for _, p := range v.Objects {
		rules = append(rules, schema.RequireObject(p))
	}
	for _, p := range v.Arrays {
		rules = append(rules, schema.RequireArray(p))
	}
	for _, t := range v.Types {
		rules = append(rules, schema.FieldType(t.Path, t.Type, t.Required))
	}
	for _, e := range v.Enums {
		rules = append(rules, schema.OneOf(e.Path, e.Values...))
	}

	var errs []error
	for _, r := range v.Rules {
		rule, err := schema.ExprRule(r.Path, r.Expr, r.Message)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}
	for _, kind := range slices.Sorted(maps.Keys(v.Kinds)) {
		kindRules, err := v.Kinds[kind].Build()
		if err != nil {
			errs = append(errs, fmt.Errorf("kind %s: %w", kind, err))
			continue
		}
		rules = append(rules, schema.When(kind, kindRules...))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

// Script compiles the manifest entry into a migration script.
func (s MigrationSpec) Script() (migration.Script, error) {
	script := migration.Script{
		From:        s.From,
		To:          s.To,
		Description: s.Description,
		Kinds:       s.Kinds,
		Invertible:  s.Invertible,
		Forward:     migration.NoModification,
		Backward:    migration.NoModification,
		Source:      s.Forward + "\n" + s.Backward + "\n" + s.Validate,
	}

	var err error
	if s.Forward != "" {
		if script.Forward, err = migration.JQ(s.Forward); err != nil {
			return migration.Script{}, fmt.Errorf("%s -> %s forward: %w", s.From, s.To, err)
		}
	}
	if s.Backward != "" {
		if script.Backward, err = migration.JQ(s.Backward); err != nil {
			return migration.Script{}, fmt.Errorf("%s -> %s backward: %w", s.From, s.To, err)
		}
	}
	if s.Validate != "" {
		if script.Validate, err = migration.ExprCheck(s.Validate); err != nil {
			return migration.Script{}, fmt.Errorf("%s -> %s validate: %w", s.From, s.To, err)
		}
	}
	return script, nil
}
