package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/crewline/crewline/internal/controller"
	"github.com/crewline/crewline/internal/pipeline"
	"github.com/crewline/crewline/internal/runstore"
)

// Handler exposes the pipeline trigger surface and run history over HTTP.
// It is not a UI: POST /api/runs is the programmatic equivalent of invoking
// run mode with a JSON inputs payload.
type Handler struct {
	ctrl       *controller.Controller
	store      runstore.Store
	pipelineID string
	defaults   pipeline.Inputs
	logger     *zap.Logger
}

// NewHandler creates the API handler. Trigger payloads are merged over
// defaults, so callers only send the inputs they want to override.
func NewHandler(ctrl *controller.Controller, store runstore.Store, pipelineID string, defaults pipeline.Inputs, logger *zap.Logger) *Handler {
	return &Handler{ctrl: ctrl, store: store, pipelineID: pipelineID, defaults: defaults, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/runs", h.triggerRun)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "pipeline": h.pipelineID})
}

type triggerRequest struct {
	Inputs pipeline.Inputs `json:"inputs"`
}

// triggerRun executes the pipeline synchronously with the payload's inputs.
// An aborted run is still returned: callers get the partial results and the
// abort cause instead of a bare error.
func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	inputs := make(pipeline.Inputs, len(h.defaults)+len(req.Inputs))
	for k, v := range h.defaults {
		inputs[k] = v
	}
	for k, v := range req.Inputs {
		inputs[k] = v
	}

	run, err := h.ctrl.Run(r.Context(), inputs)
	if err != nil {
		h.logger.Warn("triggered run aborted", zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"run":   run,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns(r.Context(), h.pipelineID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*pipeline.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, runstore.ErrRunNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
