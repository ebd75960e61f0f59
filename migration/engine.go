package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/datamigrate/metrics"
	"github.com/GoCodeAlone/datamigrate/schema"
)

const tracerName = "github.com/GoCodeAlone/datamigrate/migration"

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSchemaValidator validates every result against the target version's
// registered rules: To for migrations, From for rollbacks.
func WithSchemaValidator(v *schema.Validator) EngineOption {
	return func(e *Engine) { e.validator = v }
}

// WithMetrics records every call on the collector.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer sets the tracer used for migration spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// Engine applies registered scripts by exact version pair. It never chains
// scripts: A -> C requires a script registered for (A, C).
type Engine struct {
	registry  *Registry
	validator *schema.Validator
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewEngine creates an Engine over the given registry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's script registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Migrate applies the forward transform of the (from, to) script to a copy of
// doc. The caller's document is never modified; on failure no data is
// returned, and a rejected result is only available through Error.Payload.
func (e *Engine) Migrate(ctx context.Context, from, to string, doc schema.Document) (schema.Document, error) {
	return e.apply(ctx, Forward, from, to, doc)
}

// Rollback applies the backward transform of the script registered for the
// forward pair (from, to), turning a to-shaped document back into a
// from-shaped one.
func (e *Engine) Rollback(ctx context.Context, from, to string, doc schema.Document) (schema.Document, error) {
	return e.apply(ctx, Backward, from, to, doc)
}

func (e *Engine) apply(ctx context.Context, dir Direction, from, to string, doc schema.Document) (out schema.Document, err error) {
	_, span := e.tracer.Start(ctx, "migration."+string(dir), trace.WithAttributes(
		attribute.String("migration.from", from),
		attribute.String("migration.to", to),
		attribute.String("migration.direction", string(dir)),
	))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Debug("migration failed",
				"from", from,
				"to", to,
				"direction", dir,
				"error", err)
		}
		e.metrics.RecordMigration(from, to, string(dir), status, time.Since(start))
		span.End()
	}()

	script, ok := e.registry.Lookup(from, to)
	if !ok {
		return nil, &Error{Kind: ErrNoMigrationPath, Direction: dir, From: from, To: to}
	}

	transform := script.Forward
	if dir == Backward {
		transform = script.Backward
	}

	result, err := runTransform(transform, doc)
	if err != nil {
		return nil, &Error{Kind: ErrScript, Direction: dir, From: from, To: to, Cause: err}
	}
	if len(script.Kinds) > 0 {
		result = confineKinds(doc, result, script.Kinds)
	}

	if violations := e.check(dir, script, result); len(violations) > 0 {
		return nil, &Error{
			Kind:       ErrPostMigrationValidation,
			Direction:  dir,
			From:       from,
			To:         to,
			Payload:    result,
			Violations: violations,
		}
	}
	return result, nil
}

// runTransform runs t on a private copy of doc, converting panics and nil
// results into errors.
func runTransform(t Transform, doc schema.Document) (out schema.Document, err error) {
	input := doc.Clone()
	if input == nil {
		input = schema.Document{}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()

	out, err = t(input)
	if err == nil && out == nil {
		err = errors.New("transform returned no document")
	}
	return out, err
}

// runCheck runs a post-migration check, converting a panic into an error.
func runCheck(c Check, doc schema.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return c(doc)
}

// confineKinds keeps the transform's output for the declared kinds and the
// original value for every other top-level key.
func confineKinds(orig, result schema.Document, kinds []string) schema.Document {
	out := make(schema.Document, len(result))
	for k, v := range result {
		if slices.Contains(kinds, k) {
			out[k] = v
		}
	}
	for k, v := range orig.Clone() {
		if !slices.Contains(kinds, k) {
			out[k] = v
		}
	}
	return out
}

func (e *Engine) check(dir Direction, script Script, result schema.Document) []string {
	var violations []string

	if dir == Forward && script.Validate != nil {
		if err := runCheck(script.Validate, result); err != nil {
			violations = append(violations, err.Error())
		}
	}

	if e.validator != nil {
		target := script.To
		if dir == Backward {
			target = script.From
		}
		res, err := e.validator.Validate(target, result)
		switch {
		case err != nil:
			violations = append(violations, err.Error())
		case !res.Success:
			violations = append(violations, res.Errors...)
		}
	}
	return violations
}
