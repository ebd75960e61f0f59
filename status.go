package datamigrate

import (
	"context"
	"fmt"
)

// Status summarises the manager's registries.
type Status struct {
	CurrentVersion     string `json:"currentVersion"`
	TotalVersions      int    `json:"totalVersions"`
	FrozenVersions     int    `json:"frozenVersions"`
	TotalMigrations    int    `json:"totalMigrations"`
	ReplacedMigrations int    `json:"replacedMigrations"`
	Checkpoints        int    `json:"checkpoints"`
}

// Status reports registry counts. It has no side effects.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	checkpoints, err := m.checkpoints.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count checkpoints: %w", err)
	}
	return Status{
		CurrentVersion:     m.versions.Current(),
		TotalVersions:      m.versions.Count(),
		FrozenVersions:     m.versions.FrozenCount(),
		TotalMigrations:    m.migrations.Count(),
		ReplacedMigrations: m.migrations.Replaced(),
		Checkpoints:        checkpoints,
	}, nil
}

// IntegrityReport lists structural problems found across the registries.
type IntegrityReport struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// CheckIntegrity verifies that every migration endpoint, every compatible
// version and the current version pointer reference registered versions. It
// never repairs anything.
func (m *Manager) CheckIntegrity() IntegrityReport {
	issues := []string{}

	for _, p := range m.migrations.Pairs() {
		if !m.versions.Exists(p.From) {
			issues = append(issues, fmt.Sprintf("migration %s references unregistered version %s", p, p.From))
		}
		if !m.versions.Exists(p.To) {
			issues = append(issues, fmt.Sprintf("migration %s references unregistered version %s", p, p.To))
		}
	}

	for _, v := range m.versions.Versions() {
		for _, c := range v.Metadata.CompatibleVersions {
			if !m.versions.Exists(c) {
				issues = append(issues, fmt.Sprintf("version %s lists unregistered compatible version %s", v.ID, c))
			}
		}
	}

	if current := m.versions.Current(); current != "" && !m.versions.Exists(current) {
		issues = append(issues, fmt.Sprintf("current version %s is not registered", current))
	}

	return IntegrityReport{Valid: len(issues) == 0, Issues: issues}
}
