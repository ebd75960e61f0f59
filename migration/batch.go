package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/datamigrate/metrics"
	"github.com/GoCodeAlone/datamigrate/schema"
)

// Result is the outcome for one record of a batch. Data is nil when the
// record failed; the entry still occupies the record's index.
type Result struct {
	Index int             `json:"index"`
	Data  schema.Document `json:"data,omitempty"`
	Err   error           `json:"-"`
}

// Migrated reports whether the record was migrated.
func (r Result) Migrated() bool { return r.Err == nil }

// ProgressFunc is called after every attempted record with the number of
// records attempted so far and the batch size.
type ProgressFunc func(completed, total int)

// RecordErrors lists the violations of one record.
type RecordErrors struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// ValidationReport summarises a validated batch.
type ValidationReport struct {
	ValidCount   int            `json:"validCount"`
	InvalidCount int            `json:"invalidCount"`
	Errors       []RecordErrors `json:"errors"`
}

// BatchOption configures a BatchTool.
type BatchOption func(*BatchTool)

// WithWorkers migrates up to n records concurrently. Transforms must be free
// of shared side effects. Values below 1 mean sequential.
func WithWorkers(n int) BatchOption {
	return func(b *BatchTool) { b.workers = n }
}

// WithHistory records every batch run in the store.
func WithHistory(h HistoryStore) BatchOption {
	return func(b *BatchTool) { b.history = h }
}

// WithBatchMetrics records per-record outcomes on the collector.
func WithBatchMetrics(c *metrics.Collector) BatchOption {
	return func(b *BatchTool) { b.metrics = c }
}

// WithBatchLogger sets the logger.
func WithBatchLogger(l *slog.Logger) BatchOption {
	return func(b *BatchTool) { b.logger = l }
}

// BatchTool applies one version pair to many independent records. A failing
// record never aborts the batch.
type BatchTool struct {
	engine    *Engine
	validator *schema.Validator
	history   HistoryStore
	metrics   *metrics.Collector
	workers   int
	logger    *slog.Logger
}

// NewBatchTool creates a BatchTool. validator is used by ValidateResults.
func NewBatchTool(engine *Engine, validator *schema.Validator, opts ...BatchOption) *BatchTool {
	b := &BatchTool{
		engine:    engine,
		validator: validator,
		workers:   1,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Migrate migrates every record from one version to another. The result has
// one entry per record at the record's index. onProgress may be nil.
func (b *BatchTool) Migrate(ctx context.Context, records []schema.Document, from, to string, onProgress ProgressFunc) []Result {
	return b.run(ctx, Forward, records, from, to, onProgress)
}

// Rollback applies the backward transform of the (from, to) script to every
// record.
func (b *BatchTool) Rollback(ctx context.Context, records []schema.Document, from, to string, onProgress ProgressFunc) []Result {
	return b.run(ctx, Backward, records, from, to, onProgress)
}

func (b *BatchTool) run(ctx context.Context, dir Direction, records []schema.Document, from, to string, onProgress ProgressFunc) []Result {
	total := len(records)
	results := make([]Result, total)

	var (
		mu        sync.Mutex
		completed int
	)
	step := func(i int) {
		var (
			out schema.Document
			err error
		)
		if dir == Forward {
			out, err = b.engine.Migrate(ctx, from, to, records[i])
		} else {
			out, err = b.engine.Rollback(ctx, from, to, records[i])
		}
		results[i] = Result{Index: i, Data: out, Err: err}

		outcome := "migrated"
		if err != nil {
			outcome = "failed"
		}
		b.metrics.RecordBatchRecord(from, to, outcome)

		// Progress is reported under the lock so completed is strictly
		// increasing even with several workers.
		mu.Lock()
		completed++
		if onProgress != nil {
			onProgress(completed, total)
		}
		mu.Unlock()
	}

	if b.workers <= 1 {
		for i := range records {
			step(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(b.workers)
		for i := range records {
			g.Go(func() error {
				step(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	failed := 0
	for _, r := range results {
		if !r.Migrated() {
			failed++
		}
	}
	b.logger.Info("batch migration finished",
		"from", from,
		"to", to,
		"direction", dir,
		"records", total,
		"failed", failed)

	if b.history != nil {
		var checksum string
		if script, ok := b.engine.Registry().Lookup(from, to); ok {
			checksum = script.Checksum()
		}
		err := b.history.Record(ctx, AppliedMigration{
			From:      from,
			To:        to,
			Direction: dir,
			Records:   total,
			Failed:    failed,
			Checksum:  checksum,
		})
		if err != nil {
			b.logger.Warn("failed to record batch history",
				"from", from,
				"to", to,
				"error", err)
		}
	}
	return results
}

// ValidateResults validates migrated entries against target. Failed entries
// count as invalid without running the validator. An unknown target is an
// error even when every entry failed.
func (b *BatchTool) ValidateResults(results []Result, target string) (ValidationReport, error) {
	if !b.validator.HasVersion(target) {
		return ValidationReport{}, fmt.Errorf("validate results: %w: %s", schema.ErrUnknownVersion, target)
	}
	report := ValidationReport{Errors: []RecordErrors{}}

	for _, r := range results {
		if !r.Migrated() || r.Data == nil {
			report.InvalidCount++
			msg := "migration failed"
			if r.Err != nil {
				msg = fmt.Sprintf("migration failed: %v", r.Err)
			}
			report.Errors = append(report.Errors, RecordErrors{Index: r.Index, Errors: []string{msg}})
			continue
		}

		res, err := b.validator.Validate(target, r.Data)
		if err != nil {
			return ValidationReport{}, err
		}
		if res.Success {
			report.ValidCount++
			continue
		}
		report.InvalidCount++
		report.Errors = append(report.Errors, RecordErrors{Index: r.Index, Errors: res.Errors})
	}
	return report, nil
}
