package versioning

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler provides read-mostly HTTP endpoints over a Registry.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new versioning HTTP handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers versioning API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/versions", h.listVersions)
	mux.HandleFunc("GET /api/versions/current", h.getCurrent)
	mux.HandleFunc("PUT /api/versions/current", h.setCurrent)
	mux.HandleFunc("GET /api/versions/{id}", h.getVersion)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	versions := h.registry.Versions()
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   versions,
		"total":   len(versions),
		"current": h.registry.Current(),
	})
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) getCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"current": h.registry.Current()})
}

func (h *Handler) setCurrent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.registry.SetCurrent(body.Version); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current": body.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
