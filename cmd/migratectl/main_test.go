package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersionsCommand(t *testing.T) {
	out, err := run(t, "versions")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	for _, id := range []string{"1.0.0-baseline", "1.1.0-enhanced", "1.2.0-breaking"} {
		if !strings.Contains(out, id) {
			t.Errorf("expected %s in output:\n%s", id, out)
		}
	}

	out, err = run(t, "versions", "--json")
	if err != nil {
		t.Fatalf("versions --json: %v", err)
	}
	var versions []map[string]any
	if err := json.Unmarshal([]byte(out), &versions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(versions) != 3 {
		t.Errorf("expected 3 versions, got %d", len(versions))
	}
}

func TestStatusAndHealth(t *testing.T) {
	out, err := run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st map[string]any
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st["currentVersion"] != "1.1.0-enhanced" {
		t.Errorf("unexpected current version %v", st["currentVersion"])
	}

	out, err = run(t, "health")
	if err != nil {
		t.Fatalf("health: %v\n%s", err, out)
	}
	if !strings.Contains(out, "healthy") {
		t.Errorf("expected healthy, got %s", out)
	}
}

func TestHealthReportsBrokenManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	manifest := `name: broken
versions:
  - id: "1.0.0"
migrations:
  - from: "1.0.0"
    to: "2.0.0"
`
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "--manifest", path, "health")
	if err == nil {
		t.Fatalf("expected health to fail, got:\n%s", out)
	}
	if !strings.Contains(out, "unhealthy") {
		t.Errorf("expected unhealthy, got %s", out)
	}
}

func TestTestMigrationCommand(t *testing.T) {
	out, err := run(t, "test-migration",
		"--from", "1.0.0-baseline", "--to", "1.1.0-enhanced",
		"--data", `{"user":{"id":"1","name":"Ana"}}`,
		"--round-trip")
	if err != nil {
		t.Fatalf("test-migration: %v\n%s", err, out)
	}
	if !strings.Contains(out, "+ user.profile") {
		t.Errorf("expected profile addition in output:\n%s", out)
	}
	if !strings.Contains(out, "Round trip restored every field.") {
		t.Errorf("expected clean round trip:\n%s", out)
	}

	_, err = run(t, "test-migration", "--from", "1.0.0-baseline", "--to", "1.2.0-breaking", "--data", `{}`)
	if err == nil {
		t.Fatal("expected error for a pair with no script")
	}
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "records.json")
	output := filepath.Join(dir, "out.json")
	records := `[{"user":{"id":"1","name":"Ana"}},{"user":"malformed"}]`
	if err := os.WriteFile(input, []byte(records), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--workers", "2", "batch",
		"--from", "1.0.0-baseline", "--to", "1.1.0-enhanced",
		"--input", "@"+input, "--output", output)
	if err == nil {
		t.Fatalf("expected an error for the invalid record:\n%s", out)
	}
	if !strings.Contains(out, "record 1:") {
		t.Errorf("expected record 1 to be reported:\n%s", out)
	}

	raw, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var migrated []map[string]any
	if err := json.Unmarshal(raw, &migrated); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(migrated) != 2 || migrated[1] != nil {
		t.Errorf("unexpected output %s", raw)
	}
}

func TestBatchHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	if _, err := run(t, "--history-db", db, "batch",
		"--from", "1.0.0-baseline", "--to", "1.1.0-enhanced",
		"--input", `[{"user":{"id":"1","name":"Ana"}}]`); err != nil {
		t.Fatalf("batch: %v", err)
	}

	out, err := run(t, "--history-db", db, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "1.0.0-baseline -> 1.1.0-enhanced") {
		t.Errorf("expected recorded run in output:\n%s", out)
	}
}

func TestCheckpointCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	redis := []string{"--redis-addr", mr.Addr()}

	out, err := run(t, append(redis, "checkpoint", "create", "--label", "before",
		"--input", `[{"user":{"id":"1","name":"Ana"}}]`)...)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) < 3 {
		t.Fatalf("unexpected create output %q", out)
	}
	id := fields[2]

	out, err = run(t, append(redis, "checkpoint", "list")...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "before") {
		t.Errorf("expected checkpoint in list:\n%s", out)
	}

	out, err = run(t, append(redis, "checkpoint", "restore", id)...)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !strings.Contains(out, `"Ana"`) {
		t.Errorf("expected records in restore output:\n%s", out)
	}

	if _, err := run(t, append(redis, "checkpoint", "delete", id)...); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := run(t, append(redis, "checkpoint", "delete", id)...); err == nil {
		t.Error("expected deleting a missing checkpoint to fail")
	}
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("MIGRATECTL_LOG_LEVEL", "verbose")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"versions"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected invalid log level from environment to fail")
	}
}

func TestServeMux(t *testing.T) {
	a := &app{logLevel: "error"}
	if err := a.setup(t.Context(), &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(newMux(a.manager))
	defer srv.Close()

	for _, path := range []string{"/healthz", "/api/status", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}
