package datamigrate

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/datamigrate/config"
)

// InitResult reports the outcome of Initialize.
type InitResult struct {
	Success bool `json:"success"`
	// Version is the current version after bootstrap.
	Version    string   `json:"version"`
	Schemas    int      `json:"schemas"`
	Migrations int      `json:"migrations"`
	Errors     []string `json:"errors"`
}

// Initialize registers the manifest's versions, their rules and its
// migrations, sets the current version and runs the integrity check. Every
// problem is collected into the result; Initialize never panics and keeps
// going after a failed registration.
func Initialize(ctx context.Context, m *Manager, manifest *config.Manifest) (res InitResult) {
	res.Errors = []string{}
	defer func() {
		if r := recover(); r != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("bootstrap panicked: %v", r))
		}
		res.Success = len(res.Errors) == 0
		res.Version = m.versions.Current()
	}()

	fail := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Errors = append(res.Errors, msg)
		m.logger.Warn("bootstrap error", "error", msg)
	}

	if manifest == nil {
		fail("manifest is nil")
		return res
	}

	for _, spec := range manifest.Versions {
		if _, err := m.versions.Register(spec.ID, spec.Metadata); err != nil {
			fail("register version %s: %v", spec.ID, err)
			continue
		}
		res.Schemas++

		// Rules go in before freezing; a frozen version rejects new rules.
		rules, err := spec.Validation.Build()
		if err != nil {
			fail("version %s rules: %v", spec.ID, err)
		} else if err := m.validator.Register(spec.ID, rules...); err != nil {
			fail("version %s rules: %v", spec.ID, err)
		}

		if spec.Frozen {
			if err := m.versions.Freeze(spec.ID); err != nil {
				fail("freeze version %s: %v", spec.ID, err)
			}
		}
	}

	for _, spec := range manifest.Migrations {
		script, err := spec.Script()
		if err != nil {
			fail("compile migration: %v", err)
			continue
		}
		if err := m.migrations.Register(script); err != nil {
			fail("register migration %s: %v", script.Pair(), err)
			continue
		}
		res.Migrations++
	}

	if manifest.Current != "" {
		if err := m.versions.SetCurrent(manifest.Current); err != nil {
			fail("set current version: %v", err)
		}
	} else if m.versions.Current() == "" {
		if baseline, ok := m.versions.Baseline(); ok {
			_ = m.versions.SetCurrent(baseline)
		}
	}

	for _, issue := range m.CheckIntegrity().Issues {
		fail("integrity: %s", issue)
	}

	m.logger.InfoContext(ctx, "schema versioning initialized",
		"manifest", manifest.Name,
		"versions", res.Schemas,
		"migrations", res.Migrations,
		"current", m.versions.Current(),
		"errors", len(res.Errors))
	return res
}

// InitializeDefault initializes m from the embedded default manifest.
func InitializeDefault(ctx context.Context, m *Manager) InitResult {
	manifest, err := config.Default()
	if err != nil {
		return InitResult{Errors: []string{err.Error()}, Version: m.versions.Current()}
	}
	return Initialize(ctx, m, manifest)
}
