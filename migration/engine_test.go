package migration

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/GoCodeAlone/datamigrate/metrics"
	"github.com/GoCodeAlone/datamigrate/schema"
)

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *Registry) {
	t.Helper()
	reg, _ := newTestRegistry(t)
	opts = append([]EngineOption{WithEngineLogger(quietLogger())}, opts...)
	return NewEngine(reg, opts...), reg
}

func TestEngine_MigrateAddsProfile(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	in := schema.Document{"user": map[string]any{"id": "1"}}
	out, err := e.Migrate(ctx, baseline, enhanced, in)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	user := out["user"].(map[string]any)
	if user["id"] != "1" {
		t.Errorf("expected id 1, got %v", user["id"])
	}
	if _, ok := user["profile"].(map[string]any); !ok {
		t.Fatalf("expected profile object, got %v", user["profile"])
	}

	// The caller's document is untouched.
	if _, ok := in["user"].(map[string]any)["profile"]; ok {
		t.Error("migrate mutated the input document")
	}
}

func TestEngine_MigrateIsDeterministic(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	in := schema.Document{"user": map[string]any{"id": "1", "name": "Ana"}}

	a, err := e.Migrate(ctx, baseline, enhanced, in)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	b, err := e.Migrate(ctx, baseline, enhanced, in)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("outputs differ: %v vs %v", a, b)
	}
}

func TestEngine_NoChaining(t *testing.T) {
	e, reg := newTestEngine(t)
	if err := reg.Register(permissionsScript()); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	_, err := e.Migrate(ctx, baseline, breaking, schema.Document{"user": map[string]any{"id": "1"}})
	if !errors.Is(err, ErrNoMigrationPath) {
		t.Fatalf("expected ErrNoMigrationPath, got %v", err)
	}

	var merr *Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if merr.From != baseline || merr.To != breaking || merr.Direction != Forward {
		t.Errorf("unexpected error fields: %+v", merr)
	}

	// Two explicit hops work.
	mid, err := e.Migrate(ctx, baseline, enhanced, schema.Document{"user": map[string]any{"id": "1"}})
	if err != nil {
		t.Fatalf("first hop: %v", err)
	}
	if _, err := e.Migrate(ctx, enhanced, breaking, mid); err != nil {
		t.Fatalf("second hop: %v", err)
	}
}

func TestEngine_UnregisteredPair(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Migrate(context.Background(), enhanced, breaking, schema.Document{})
	if !errors.Is(err, ErrNoMigrationPath) {
		t.Fatalf("expected ErrNoMigrationPath, got %v", err)
	}
	_, err = e.Rollback(context.Background(), enhanced, baseline, schema.Document{})
	if !errors.Is(err, ErrNoMigrationPath) {
		t.Fatalf("rollback with reversed pair: expected ErrNoMigrationPath, got %v", err)
	}
}

func TestEngine_ScriptErrors(t *testing.T) {
	e, reg := newTestEngine(t)
	reg.Register(Script{
		From:     enhanced,
		To:       breaking,
		Forward:  func(schema.Document) (schema.Document, error) { panic("boom") },
		Backward: func(schema.Document) (schema.Document, error) { return nil, nil },
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func() error
		message string
	}{
		{
			name: "transform error",
			run: func() error {
				_, err := e.Migrate(ctx, baseline, enhanced, schema.Document{"user": "not-an-object"})
				return err
			},
			message: "user: expected object",
		},
		{
			name: "panic",
			run: func() error {
				_, err := e.Migrate(ctx, enhanced, breaking, schema.Document{})
				return err
			},
			message: "boom",
		},
		{
			name: "nil result",
			run: func() error {
				_, err := e.Rollback(ctx, enhanced, breaking, schema.Document{})
				return err
			},
			message: "no document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, ErrScript) {
				t.Fatalf("expected ErrScript, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("expected %q in %q", tt.message, err.Error())
			}
		})
	}
}

func TestEngine_PostMigrationValidation(t *testing.T) {
	e, reg := newTestEngine(t)
	reg.Register(Script{
		From:     enhanced,
		To:       breaking,
		Forward:  NoModification,
		Backward: NoModification,
		Validate: func(doc schema.Document) error {
			if _, ok := doc.Lookup("user.roles"); !ok {
				return errors.New("user.roles is required")
			}
			return nil
		},
	})

	in := schema.Document{"user": map[string]any{"id": "1"}}
	out, err := e.Migrate(context.Background(), enhanced, breaking, in)
	if !errors.Is(err, ErrPostMigrationValidation) {
		t.Fatalf("expected ErrPostMigrationValidation, got %v", err)
	}
	if out != nil {
		t.Errorf("expected no data on failure, got %v", out)
	}

	var merr *Error
	errors.As(err, &merr)
	if merr.Payload == nil {
		t.Error("expected rejected payload for diagnostics")
	}
	if len(merr.Violations) != 1 || merr.Violations[0] != "user.roles is required" {
		t.Errorf("unexpected violations: %v", merr.Violations)
	}
}

func TestEngine_SchemaValidator(t *testing.T) {
	reg, versions := newTestRegistry(t)
	v := schema.NewValidator(versions)
	v.Register(enhanced, schema.RequireFields("user.email")...)
	v.Register(baseline, schema.RequireFields("user.id")...)

	e := NewEngine(reg, WithSchemaValidator(v), WithEngineLogger(quietLogger()))
	ctx := context.Background()

	_, err := e.Migrate(ctx, baseline, enhanced, schema.Document{"user": map[string]any{"id": "1"}})
	if !errors.Is(err, ErrPostMigrationValidation) {
		t.Fatalf("expected schema validation failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "user.email") {
		t.Errorf("expected violation to mention user.email: %v", err)
	}

	out, err := e.Migrate(ctx, baseline, enhanced, schema.Document{"user": map[string]any{"id": "1", "email": "a@b.c"}})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Rollback validates against the from version.
	back, err := e.Rollback(ctx, baseline, enhanced, out)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, ok := back.Lookup("user.profile"); ok {
		t.Error("expected profile removed by rollback")
	}
}

func TestEngine_RoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	in := schema.Document{"user": map[string]any{"id": "1", "name": "Ana", "farm": "north"}}
	migrated, err := e.Migrate(ctx, baseline, enhanced, in)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	restored, err := e.Rollback(ctx, baseline, enhanced, migrated)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if lost := LostFields(in, restored); len(lost) != 0 {
		t.Errorf("round trip lost fields: %v", lost)
	}
}

func TestEngine_LossyRollback(t *testing.T) {
	e, reg := newTestEngine(t)
	reg.Register(permissionsScript())
	ctx := context.Background()

	migrated := schema.Document{"user": map[string]any{"id": "1", "roles": map[string]any{"admin": true, "auditor": false}}}
	back, err := e.Rollback(ctx, enhanced, breaking, migrated)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	perms, _ := back.Lookup("user.permissions")
	if !reflect.DeepEqual(perms, []any{"admin"}) {
		t.Errorf("expected [admin], got %v", perms)
	}
}

func TestEngine_KindsAreConfined(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register(Script{
		From:  enhanced,
		To:    breaking,
		Kinds: []string{"transportOrder"},
		Forward: func(doc schema.Document) (schema.Document, error) {
			doc["transportOrder"] = map[string]any{"statusHistory": []any{}}
			// Out-of-scope writes are discarded.
			doc["user"] = "clobbered"
			doc["extra"] = true
			return doc, nil
		},
		Backward: NoModification,
	})
	e := NewEngine(reg, WithEngineLogger(quietLogger()))

	in := schema.Document{
		"user":           map[string]any{"id": "1"},
		"transportOrder": map[string]any{"status": "created"},
	}
	out, err := e.Migrate(context.Background(), enhanced, breaking, in)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !reflect.DeepEqual(out["user"], map[string]any{"id": "1"}) {
		t.Errorf("user kind was modified: %v", out["user"])
	}
	if _, ok := out["extra"]; ok {
		t.Error("undeclared kind leaked into output")
	}
	if _, ok := out.Lookup("transportOrder.statusHistory"); !ok {
		t.Error("declared kind was not migrated")
	}
}

func TestEngine_NilDocument(t *testing.T) {
	e, _ := newTestEngine(t)
	out, err := e.Migrate(context.Background(), baseline, enhanced, nil)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("expected empty document, got %v", out)
	}
}

func TestEngine_TracingAndMetrics(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	collector := metrics.NewCollector(metrics.DefaultConfig())
	e, _ := newTestEngine(t, WithTracer(tp.Tracer("test")), WithMetrics(collector))
	ctx := context.Background()

	if _, err := e.Migrate(ctx, baseline, enhanced, schema.Document{"user": map[string]any{"id": "1"}}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, _ = e.Migrate(ctx, baseline, breaking, schema.Document{})

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "migration.forward" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	if spans[1].Status.Code.String() != "Error" {
		t.Errorf("expected error status on failed span, got %v", spans[1].Status.Code)
	}

	if got := testutil.ToFloat64(collector.Migrations.WithLabelValues(baseline, enhanced, "forward", "success")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(collector.Migrations.WithLabelValues(baseline, breaking, "forward", "failed")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
}

func TestEngine_ValidatorPanic(t *testing.T) {
	e, reg := newTestEngine(t)
	if err := reg.Register(Script{
		From:     enhanced,
		To:       breaking,
		Forward:  NoModification,
		Backward: NoModification,
		Validate: func(doc schema.Document) error {
			_ = doc["user"].(map[string]any)["id"]
			return nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := e.Migrate(context.Background(), enhanced, breaking, schema.Document{"user": "bad"})
	if !errors.Is(err, ErrPostMigrationValidation) {
		t.Fatalf("expected ErrPostMigrationValidation, got %v", err)
	}
	if out != nil {
		t.Errorf("expected no data, got %v", out)
	}
	var merr *Error
	errors.As(err, &merr)
	if len(merr.Violations) != 1 || !strings.Contains(merr.Violations[0], "validator panicked") {
		t.Errorf("unexpected violations: %v", merr.Violations)
	}
}
