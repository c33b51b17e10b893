// Package handlers exposes the queue and sync operations over HTTP for the
// ERP front end.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/pharmasync/internal/models"
	"github.com/prudhvinik1/pharmasync/internal/repositories"
	"github.com/prudhvinik1/pharmasync/internal/services"
)

// MaxEnqueueBody caps the size of a POST /queue request body.
const MaxEnqueueBody = 1 << 20

// SyncRequester schedules a deferred sync pass and reports on the scheduler.
type SyncRequester interface {
	RequestSync() error
	Status() models.SyncStatus
}

type QueueHandler struct {
	queue     repositories.QueueRepository
	scheduler SyncRequester
	syncer    services.Syncer
	logger    *slog.Logger
}

func NewQueueHandler(queue repositories.QueueRepository, scheduler SyncRequester, syncer services.Syncer, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueHandler{
		queue:     queue,
		scheduler: scheduler,
		syncer:    syncer,
		logger:    logger,
	}
}

func (h *QueueHandler) Routes(r chi.Router) {
	r.Post("/queue", h.Enqueue)
	r.Get("/queue", h.List)
	r.Post("/sync", h.RequestSync)
	r.Get("/sync/status", h.Status)
	r.Post("/sync/run", h.RunSync)
}

type enqueueRequest struct {
	Endpoint string          `json:"endpoint"`
	Method   models.Method   `json:"method"`
	Payload  json.RawMessage `json:"payload"`
}

type enqueueResponse struct {
	ID            int64 `json:"id"`
	Timestamp     int64 `json:"timestamp"`
	SyncScheduled bool  `json:"sync_scheduled"`
}

type listResponse struct {
	Count   int                  `json:"count"`
	Entries []*models.QueueEntry `json:"entries"`
}

type statusResponse struct {
	models.SyncStatus
	Queued int `json:"queued"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxEnqueueBody)

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	entry, err := h.queue.Enqueue(r.Context(), req.Endpoint, req.Method, req.Payload)
	if errors.Is(err, repositories.ErrInvalidEntry) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var persistErr *repositories.PersistenceError
	if errors.As(err, &persistErr) {
		h.logger.Error("Mutation not saved", "endpoint", req.Endpoint, "method", req.Method, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "not saved"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to enqueue mutation", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	scheduled := true
	if err := h.scheduler.RequestSync(); err != nil {
		h.logger.Warn("Mutation queued but sync could not be scheduled", "id", entry.ID, "error", err)
		scheduled = false
	}

	writeJSON(w, http.StatusCreated, enqueueResponse{
		ID:            entry.ID,
		Timestamp:     entry.Timestamp,
		SyncScheduled: scheduled,
	})
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.ListPending(r.Context())
	if err != nil {
		h.logger.Error("Failed to list pending entries", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if entries == nil {
		entries = []*models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(entries), Entries: entries})
}

func (h *QueueHandler) RequestSync(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.RequestSync(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.Count(r.Context())
	if err != nil {
		h.logger.Error("Failed to count pending entries", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{SyncStatus: h.scheduler.Status(), Queued: count})
}

func (h *QueueHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.syncer.RunSyncPass(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
