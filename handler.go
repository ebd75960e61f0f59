package datamigrate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GoCodeAlone/datamigrate/migration"
	"github.com/GoCodeAlone/datamigrate/schema"
	"github.com/GoCodeAlone/datamigrate/versioning"
)

// Handler exposes a Manager over HTTP for operators and the mock API layer.
type Handler struct {
	manager  *Manager
	versions *versioning.Handler
}

// NewHandler creates a new Handler.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m, versions: versioning.NewHandler(m.Versions())}
}

// RegisterRoutes registers the migration API routes on mux, including the
// version routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.versions.RegisterRoutes(mux)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/integrity", h.integrity)
	mux.HandleFunc("POST /api/migrate", h.migrate)
	mux.HandleFunc("POST /api/rollback", h.rollback)
	mux.HandleFunc("POST /api/batch", h.batch)
	mux.HandleFunc("POST /api/reset-baseline", h.resetBaseline)
}

type migrateRequest struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Data schema.Document `json:"data"`
}

type batchRequest struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	Records []schema.Document `json:"records"`
	// Rollback applies the backward transforms instead.
	Rollback bool `json:"rollback,omitempty"`
}

type batchRecord struct {
	Index int             `json:"index"`
	Data  schema.Document `json:"data"`
	Error string          `json:"error,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.CheckIntegrity())
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.manager.Engine().Migrate)
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.manager.Engine().Rollback)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, from, to string, doc schema.Document) (schema.Document, error)) {
	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	out, err := fn(r.Context(), req.From, req.To, req.Data)
	if err != nil {
		writeMigrationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	tool := h.manager.Batch()
	target := req.To
	var results []migration.Result
	if req.Rollback {
		results = tool.Rollback(r.Context(), req.Records, req.From, req.To, nil)
		target = req.From
	} else {
		results = tool.Migrate(r.Context(), req.Records, req.From, req.To, nil)
	}

	report, err := tool.ValidateResults(results, target)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	records := make([]batchRecord, len(results))
	for i, res := range results {
		records[i] = batchRecord{Index: res.Index, Data: res.Data}
		if res.Err != nil {
			records[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": records,
		"report":  report,
	})
}

func (h *Handler) resetBaseline(w http.ResponseWriter, r *http.Request) {
	v, err := h.manager.ResetToBaseline()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current": v})
}

func writeMigrationError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, migration.ErrNoMigrationPath):
		status = http.StatusNotFound
	case errors.Is(err, migration.ErrScript), errors.Is(err, migration.ErrPostMigrationValidation):
		status = http.StatusUnprocessableEntity
	}

	body := map[string]any{"error": err.Error()}
	var merr *migration.Error
	if errors.As(err, &merr) && len(merr.Violations) > 0 {
		body["violations"] = merr.Violations
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
