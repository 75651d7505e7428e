package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/campusgrid/campusgrid/internal/ledger"
	"github.com/campusgrid/campusgrid/internal/store"
	"github.com/campusgrid/campusgrid/internal/types"
)

// Handler contains all HTTP handlers, each a thin binding onto one store
// operation.
type Handler struct {
	store *store.Store
	cfg   Config
}

// NewHandler creates a Handler bound to st.
func NewHandler(st *store.Store, cfg Config) *Handler {
	return &Handler{store: st, cfg: cfg}
}

// HealthCheck reports liveness; no store access, no auth.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "campusgrid",
	})
}

type submitJobRequest struct {
	Title          string  `json:"title"`
	SubmitterToken string  `json:"submitter_token"`
	Priority       int     `json:"priority"`
	Code           string  `json:"code"`
	Requirements   string  `json:"requirements"`
	CPURequired    int     `json:"cpu_required"`
	RAMRequiredGB  float64 `json:"ram_required_gb"`
	GPURequired    bool    `json:"gpu_required"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// SubmitJob handles POST /api/v1/jobs.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		h.errorResponse(w, "code is required", http.StatusBadRequest)
		return
	}

	user, err := h.store.ResolveOrCreateUser(r.Context(), req.SubmitterToken, h.cfg.StartingCredits)
	if err != nil || user == nil {
		h.errorResponse(w, "failed to resolve submitter", http.StatusBadRequest)
		return
	}

	job := types.Job{
		Title:           req.Title,
		SubmitterUserID: user.ID,
		Priority:        req.Priority,
		Code:            req.Code,
		Requirements:    req.Requirements,
		CPURequired:     req.CPURequired,
		RAMRequiredGB:   req.RAMRequiredGB,
		GPURequired:     req.GPURequired,
		TimeoutSeconds:  req.TimeoutSeconds,
	}

	created, err := h.store.SubmitJob(r.Context(), job, h.cfg.MinJobCost)
	if err == store.ErrInsufficientCredits {
		h.errorResponse(w, "insufficient credits", http.StatusPaymentRequired)
		return
	}
	if err != nil {
		h.errorResponse(w, "failed to submit job", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, http.StatusCreated, created)
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		h.errorResponse(w, "failed to get job", http.StatusInternalServerError)
		return
	}
	if job == nil {
		h.errorResponse(w, "job not found", http.StatusNotFound)
		return
	}
	h.jsonResponse(w, http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs?status=&limit=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := types.JobStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 100)

	jobs, err := h.store.ListJobs(r.Context(), status, limit)
	if err != nil {
		h.errorResponse(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, http.StatusOK, jobs)
}

// ListUserJobs handles GET /api/v1/users/{id}/jobs.
func (h *Handler) ListUserJobs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 100)

	jobs, err := h.store.ListUserJobs(r.Context(), userID, limit)
	if err != nil {
		h.errorResponse(w, "failed to list user jobs", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, http.StatusOK, jobs)
}

// ListWorkers handles GET /api/v1/workers.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.ListWorkers(r.Context())
	if err != nil {
		h.errorResponse(w, "failed to list workers", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, http.StatusOK, workers)
}

// PauseWorker handles POST /api/v1/workers/{id}/pause.
func (h *Handler) PauseWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.SetWorkerStatus(r.Context(), id, types.WorkerPaused); err != nil {
		h.errorResponse(w, "failed to pause worker", http.StatusNotFound)
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]string{"id": id, "status": string(types.WorkerPaused)})
}

// ResumeWorker handles POST /api/v1/workers/{id}/resume.
func (h *Handler) ResumeWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.SetWorkerStatus(r.Context(), id, types.WorkerOnline); err != nil {
		h.errorResponse(w, "failed to resume worker", http.StatusNotFound)
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]string{"id": id, "status": string(types.WorkerOnline)})
}

// RemoveWorker handles DELETE /api/v1/workers/{id}.
func (h *Handler) RemoveWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.RemoveWorker(r.Context(), id); err != nil {
		h.errorResponse(w, "failed to remove worker", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueueStats handles GET /api/v1/queue/stats.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.QueueStats(r.Context())
	if err != nil {
		h.errorResponse(w, "failed to get queue stats", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, http.StatusOK, stats)
}

// Leaderboard handles GET /api/v1/leaderboard?limit=.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	entries, err := h.store.Leaderboard(r.Context(), limit)
	if err != nil {
		h.errorResponse(w, "failed to get leaderboard", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, http.StatusOK, entries)
}

// CalculateCost handles GET /api/v1/cost?cpu=&ram=&gpu=&timeout=, a
// read-only preview of what submit_job would charge without submitting.
func (h *Handler) CalculateCost(w http.ResponseWriter, r *http.Request) {
	cpu := queryInt(r, "cpu", 1)
	ram := queryFloat(r, "ram", 1)
	gpu := r.URL.Query().Get("gpu") == "true"
	timeout := queryInt(r, "timeout", 60)

	cost := ledger.ApplyFloor(ledger.CalculateCost(cpu, ram, gpu, timeout), h.cfg.MinJobCost)
	h.jsonResponse(w, http.StatusOK, map[string]int{"cost": cost})
}

// ListActivity handles GET /api/v1/activity?limit=, surfacing the
// append-only audit log a dashboard would otherwise render.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events, err := h.store.ListActivity(r.Context(), limit)
	if err != nil {
		h.errorResponse(w, "failed to list activity", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, http.StatusOK, events)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse sends an error response.
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
