// Package reconcile applies queued outbox entries to the record store.
//
// Each entry runs through one pass inside a single transaction: it is saved
// as PENDING, its payload is decoded, updatedAt is forced to the server clock,
// the operation is applied, and the entry ends SYNCED or ERROR. A pass never
// panics or returns an error to its caller; the outcome is a Result.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/kimhsiao/tasksync/internal/clock"
	"github.com/kimhsiao/tasksync/internal/db"
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/sync/conflict"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

// Result is the outcome of one pass over an outbox entry.
type Result struct {
	EntryID  string
	RecordID string
	Status   models.OutboxStatus
	Err      *apperrors.AppError
	Conflict *models.ConflictLog
}

// OK reports whether the entry was synced.
func (r Result) OK() bool {
	return r.Status == models.StatusSynced
}

// BatchError renders the failure as "<recordId>: <message>".
func (r Result) BatchError() string {
	if r.Err == nil {
		return ""
	}
	id := r.RecordID
	if id == "" {
		id = "unknown"
	}
	return id + ": " + r.Err.Error()
}

// Reconciler runs outbox entries against the store.
type Reconciler struct {
	store    db.Transactor
	resolver *conflict.Resolver
	clock    clock.Clock
}

// New creates a Reconciler. A nil resolver gets one sharing clk.
func New(store db.Transactor, resolver *conflict.Resolver, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.System{}
	}
	if resolver == nil {
		resolver = conflict.NewResolver(clk)
	}
	return &Reconciler{store: store, resolver: resolver, clock: clk}
}

// Process runs one pass over entry and updates it in place.
//
// Domain failures (malformed payload, missing id, unknown operation) commit
// the ERROR status together with the pass. A store failure rolls back every
// record change and the ERROR status is then written in a fresh transaction.
// If that write fails too the entry is reported as PENDING, matching the store.
func (r *Reconciler) Process(ctx context.Context, entry *models.OutboxEntry) Result {
	now := r.clock.Now()

	var (
		failure     *apperrors.AppError
		conflictLog *models.ConflictLog
	)
	err := r.store.WithTx(ctx, func(repo db.SyncRepository) error {
		failure, conflictLog = nil, nil
		entry.Status = models.StatusPending
		if err := repo.SaveOutboxEntry(ctx, entry); err != nil {
			return err
		}

		cl, applyErr := r.apply(ctx, repo, entry, now)
		switch {
		case applyErr != nil && applyErr.Code == apperrors.ErrDatabase:
			return applyErr
		case applyErr != nil:
			failure = applyErr
			entry.MarkError(applyErr.Error())
		default:
			if cl != nil {
				if err := repo.CreateConflictLog(ctx, cl); err != nil {
					return err
				}
				conflictLog = cl
			}
			entry.MarkSynced(now)
		}
		return repo.SaveOutboxEntry(ctx, entry)
	})

	if err != nil {
		conflictLog = nil
		failure = apperrors.From(err, apperrors.ErrDatabase)
		entry.MarkError(failure.Error())
		if saveErr := r.store.WithTx(ctx, func(repo db.SyncRepository) error {
			return repo.SaveOutboxEntry(ctx, entry)
		}); saveErr != nil {
			logging.Error("Failed to record outbox entry failure", saveErr, map[string]interface{}{
				"entry_id": entry.ID,
			})
			// Nothing was written, the stored entry is still PENDING.
			entry.Status = models.StatusPending
			entry.ErrorMessage = ""
		}
	}

	if failure != nil {
		logging.ErrorWithCode("Outbox entry failed", string(failure.Code), failure, map[string]interface{}{
			"entry_id":  entry.ID,
			"record_id": entry.RecordID,
			"operation": entry.Operation,
		})
	}

	return Result{
		EntryID:  string(entry.ID),
		RecordID: string(entry.RecordID),
		Status:   entry.Status,
		Err:      failure,
		Conflict: conflictLog,
	}
}

// apply decodes the payload and dispatches on the operation. The returned
// conflict log is non-nil when an UPDATE overwrote a newer stored edit.
func (r *Reconciler) apply(ctx context.Context, repo db.SyncRepository, entry *models.OutboxEntry, now time.Time) (*models.ConflictLog, *apperrors.AppError) {
	if strings.TrimSpace(entry.Payload) == "" {
		return nil, apperrors.New(apperrors.ErrMalformedPayload, "payload is empty")
	}
	snap, err := models.DecodeSnapshot(entry.Payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, "decode task snapshot", err)
	}

	if snap.ID == "" {
		snap.ID = entry.RecordID
	}
	if snap.ID != "" {
		id, err := uuid.Parse(string(snap.ID))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrMalformedPayload, "task id", err)
		}
		snap.ID = models.UUID(id)
		if entry.RecordID == "" {
			entry.RecordID = snap.ID
		}
	}

	incoming := snap.ToTask()
	clientUpdatedAt := incoming.UpdatedAt
	// The server clock decides recency. Client clocks are not trusted.
	incoming.UpdatedAt = now

	switch op := entry.Operation.Normalize(); op {
	case models.OpCreate:
		return nil, r.create(ctx, repo, entry, incoming, now)
	case models.OpUpdate:
		return r.update(ctx, repo, entry, incoming, clientUpdatedAt, now)
	case models.OpDelete:
		return nil, r.delete(ctx, repo, incoming, now)
	default:
		return nil, apperrors.Newf(apperrors.ErrUnknownOperation, "unknown operation: %s", entry.Operation)
	}
}

func (r *Reconciler) create(ctx context.Context, repo db.TaskRepository, entry *models.OutboxEntry, task *models.Task, now time.Time) *apperrors.AppError {
	if task.ID == "" {
		task.ID = models.UUID(uuid.New())
		entry.RecordID = task.ID
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	task.Deleted = false
	task.ClampUpdatedAt()
	task.LastSyncedAt = &now
	return asAppErr(repo.SaveTask(ctx, task))
}

func (r *Reconciler) update(ctx context.Context, repo db.TaskRepository, entry *models.OutboxEntry, incoming *models.Task, clientUpdatedAt, now time.Time) (*models.ConflictLog, *apperrors.AppError) {
	if incoming.ID == "" {
		return nil, apperrors.New(apperrors.ErrMissingIdentifier, "update requires task id")
	}

	existing, err := repo.GetTask(ctx, string(incoming.ID))
	if apperrors.Is(err, apperrors.ErrNotFound) {
		// The record never reached the server; the update carries the full state.
		return nil, r.create(ctx, repo, entry, incoming, now)
	}
	if err != nil {
		return nil, asAppErr(err)
	}

	storedUpdatedAt := existing.UpdatedAt
	merged := r.resolver.ResolveWithForce(existing, incoming, true)
	merged.ClampUpdatedAt()
	merged.LastSyncedAt = &now
	if err := repo.SaveTask(ctx, merged); err != nil {
		return nil, asAppErr(err)
	}

	if clientUpdatedAt.IsZero() || !clientUpdatedAt.Before(storedUpdatedAt) {
		return nil, nil
	}
	logging.Warn("Older client edit overwrote newer stored task", map[string]interface{}{
		"task_id":           merged.ID,
		"entry_id":          entry.ID,
		"stored_updated_at": storedUpdatedAt,
		"client_updated_at": clientUpdatedAt,
	})
	return &models.ConflictLog{
		RecordID:        merged.ID,
		EntryID:         entry.ID,
		StoredUpdatedAt: storedUpdatedAt,
		ClientUpdatedAt: clientUpdatedAt,
		Resolution:      models.ResolutionForcedOverwrite,
		DetectedAt:      now,
	}, nil
}

func (r *Reconciler) delete(ctx context.Context, repo db.TaskRepository, incoming *models.Task, now time.Time) *apperrors.AppError {
	if incoming.ID == "" {
		return apperrors.New(apperrors.ErrMissingIdentifier, "delete requires task id")
	}

	existing, err := repo.GetTask(ctx, string(incoming.ID))
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return asAppErr(err)
	}

	existing.Deleted = true
	if incoming.UpdatedAt.IsZero() {
		existing.UpdatedAt = now
	} else {
		existing.UpdatedAt = incoming.UpdatedAt
	}
	existing.ClampUpdatedAt()
	existing.LastSyncedAt = &now
	return asAppErr(repo.SaveTask(ctx, existing))
}

func asAppErr(err error) *apperrors.AppError {
	return apperrors.From(err, apperrors.ErrDatabase)
}
