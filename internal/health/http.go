package health

import (
	"encoding/json"
	"net/http"
)

// Handler exposes the probe endpoints:
//
//	GET /healthz  liveness, always 200 while the process runs
//	GET /readyz   readiness, 503 when a critical dependency fails
//	GET /health   full per-component detail
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Register attaches the probe endpoints to a mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleLiveness)
	mux.HandleFunc("GET /readyz", h.handleReadiness)
	mux.HandleFunc("GET /health", h.handleDetail)
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.RunChecks(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !overall.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": overall.Status.String(),
		"ready":  overall.Ready,
	})
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.RunChecks(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !overall.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(overall)
}
