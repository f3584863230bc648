package handlers

import (
	"context"
	"net/http"

	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/sync/outbox"
)

// OutboxService is the part of the outbox submission path exposed over HTTP.
type OutboxService interface {
	SubmitBatch(ctx context.Context, entries []models.OutboxEntry) (outbox.BatchResult, error)
	Outstanding(ctx context.Context) ([]*models.OutboxEntry, error)
	Get(ctx context.Context, id string) (*models.OutboxEntry, error)
	Retry(ctx context.Context, id string) (*models.OutboxEntry, error)
	RetryFailed(ctx context.Context) (outbox.BatchResult, error)
}

// SyncHandler handles outbox submission and status.
type SyncHandler struct {
	outbox OutboxService
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(svc OutboxService) *SyncHandler {
	return &SyncHandler{outbox: svc}
}

// SyncTasks handles POST /api/sync/sync-tasks
// Applies a batch of queued client operations. Per-entry failures are
// reported in the result, not as an HTTP error.
func (h *SyncHandler) SyncTasks(w http.ResponseWriter, r *http.Request) {
	var entries []models.OutboxEntry
	if err := decodeBody(r, &entries); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.outbox.SubmitBatch(r.Context(), entries)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Status handles GET /api/sync/status
// Returns entries still PENDING or in ERROR, oldest first.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	entries, err := h.outbox.Outstanding(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.OutboxEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetEntry handles GET /api/sync/entries/{id}
func (h *SyncHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.outbox.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// RetryEntry handles POST /api/sync/entries/{id}/retry
func (h *SyncHandler) RetryEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.outbox.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// RetryFailed handles POST /api/sync/retry-failed
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	result, err := h.outbox.RetryFailed(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
