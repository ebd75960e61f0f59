// Package datamigrate wires the version registry, schema validator, migration
// engine and batch tool into a Manager, and bootstraps it from a manifest.
package datamigrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/datamigrate/checkpoint"
	"github.com/GoCodeAlone/datamigrate/metrics"
	"github.com/GoCodeAlone/datamigrate/migration"
	"github.com/GoCodeAlone/datamigrate/schema"
	"github.com/GoCodeAlone/datamigrate/versioning"
)

var (
	// ErrNoVersions is returned by operations that need at least one
	// registered version.
	ErrNoVersions = errors.New("no schema versions registered")
	// ErrNoCurrentVersion is returned when a checkpoint is taken before a
	// current version is set.
	ErrNoCurrentVersion = errors.New("current version is not set")
)

type options struct {
	logger           *slog.Logger
	metrics          *metrics.Collector
	tracer           trace.Tracer
	checkpoints      checkpoint.Store
	history          migration.HistoryStore
	workers          int
	duplicates       migration.DuplicatePolicy
	lenient          bool
	schemaValidation bool
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records migrations and batch outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithTracer overrides the engine's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithCheckpointStore replaces the in-memory checkpoint store.
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(o *options) { o.checkpoints = s }
}

// WithHistory records batch runs in s.
func WithHistory(s migration.HistoryStore) Option {
	return func(o *options) { o.history = s }
}

// WithWorkers sets the batch concurrency.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithDuplicatePolicy sets how duplicate migration pairs are handled.
func WithDuplicatePolicy(p migration.DuplicatePolicy) Option {
	return func(o *options) { o.duplicates = p }
}

// WithLenientReferences accepts scripts that reference unregistered versions
// and leaves them to CheckIntegrity.
func WithLenientReferences() Option {
	return func(o *options) { o.lenient = true }
}

// WithoutSchemaValidation stops the engine from checking results against the
// target version's registered rules. Script validators still run.
func WithoutSchemaValidation() Option {
	return func(o *options) { o.schemaValidation = false }
}

// Manager owns one set of registries. Independent managers share no state.
type Manager struct {
	versions    *versioning.Registry
	validator   *schema.Validator
	migrations  *migration.Registry
	engine      *migration.Engine
	batch       *migration.BatchTool
	checkpoints checkpoint.Store
	history     migration.HistoryStore
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	o := options{
		logger:           slog.Default(),
		workers:          1,
		duplicates:       migration.RejectDuplicates,
		schemaValidation: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.checkpoints == nil {
		o.checkpoints = checkpoint.NewMemoryStore()
	}

	versions := versioning.NewRegistry()
	validator := schema.NewValidator(versions)

	regOpts := []migration.RegistryOption{
		migration.WithDuplicatePolicy(o.duplicates),
		migration.WithRegistryLogger(o.logger),
	}
	if o.lenient {
		regOpts = append(regOpts, migration.WithLenientReferences())
	}
	migrations := migration.NewRegistry(versions, regOpts...)

	engOpts := []migration.EngineOption{
		migration.WithMetrics(o.metrics),
		migration.WithEngineLogger(o.logger),
	}
	if o.schemaValidation {
		engOpts = append(engOpts, migration.WithSchemaValidator(validator))
	}
	if o.tracer != nil {
		engOpts = append(engOpts, migration.WithTracer(o.tracer))
	}
	engine := migration.NewEngine(migrations, engOpts...)

	batchOpts := []migration.BatchOption{
		migration.WithWorkers(o.workers),
		migration.WithBatchMetrics(o.metrics),
		migration.WithBatchLogger(o.logger),
	}
	if o.history != nil {
		batchOpts = append(batchOpts, migration.WithHistory(o.history))
	}

	return &Manager{
		versions:    versions,
		validator:   validator,
		migrations:  migrations,
		engine:      engine,
		batch:       migration.NewBatchTool(engine, validator, batchOpts...),
		checkpoints: o.checkpoints,
		history:     o.history,
		metrics:     o.metrics,
		logger:      o.logger,
	}
}

// Versions returns the schema version registry.
func (m *Manager) Versions() *versioning.Registry { return m.versions }

// Validator returns the per-version payload validator.
func (m *Manager) Validator() *schema.Validator { return m.validator }

// Migrations returns the migration script registry.
func (m *Manager) Migrations() *migration.Registry { return m.migrations }

// Engine returns the single-document migration engine.
func (m *Manager) Engine() *migration.Engine { return m.engine }

// Batch returns the batch migration tool.
func (m *Manager) Batch() *migration.BatchTool { return m.batch }

// Checkpoints returns the checkpoint store.
func (m *Manager) Checkpoints() checkpoint.Store { return m.checkpoints }

// History returns the batch history store, or nil when none is configured.
func (m *Manager) History() migration.HistoryStore { return m.history }

// Metrics returns the metrics collector, or nil when none is configured.
func (m *Manager) Metrics() *metrics.Collector { return m.metrics }

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Checkpoint snapshots records under the current version.
func (m *Manager) Checkpoint(ctx context.Context, label string, records []schema.Document) (checkpoint.Checkpoint, error) {
	current := m.versions.Current()
	if current == "" {
		return checkpoint.Checkpoint{}, ErrNoCurrentVersion
	}
	cp := checkpoint.New(label, current, records)
	if err := m.checkpoints.Save(ctx, cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("save checkpoint: %w", err)
	}
	m.logger.Info("checkpoint created",
		"id", cp.ID,
		"label", label,
		"version", current,
		"records", len(records))
	return cp, nil
}

// RestoreCheckpoint returns the snapshot and moves the current version back
// to the version it was taken at.
func (m *Manager) RestoreCheckpoint(ctx context.Context, id string) (checkpoint.Checkpoint, error) {
	cp, err := m.checkpoints.Get(ctx, id)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("restore checkpoint %s: %w", id, err)
	}
	if err := m.versions.SetCurrent(cp.Version); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("restore checkpoint %s: %w", id, err)
	}
	m.logger.Info("checkpoint restored", "id", id, "version", cp.Version)
	return cp, nil
}

// ResetToBaseline sets the current version to the first registered version
// and returns it.
func (m *Manager) ResetToBaseline() (string, error) {
	baseline, ok := m.versions.Baseline()
	if !ok {
		return "", ErrNoVersions
	}
	if err := m.versions.SetCurrent(baseline); err != nil {
		return "", err
	}
	m.logger.Info("reset to baseline", "version", baseline)
	return baseline, nil
}
