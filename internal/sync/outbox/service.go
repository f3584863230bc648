// Package outbox is the submission path for queued client mutations: it makes
// a batch durable, drives each entry through reconciliation and reports the
// aggregate outcome. It also serves outstanding-entry queries and
// caller-driven retries.
package outbox

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/tasksync/internal/clock"
	"github.com/kimhsiao/tasksync/internal/db"
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/sync/reconcile"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

// Processor runs one reconciliation pass over an entry.
type Processor interface {
	Process(ctx context.Context, entry *models.OutboxEntry) reconcile.Result
}

// Store is the persistence the service needs.
type Store interface {
	db.Transactor
	db.OutboxRepository
}

// Config tunes batch processing.
type Config struct {
	// Workers bounds how many distinct records are processed at once.
	Workers int
	// MaxRetries caps caller-driven retries of an entry. Zero means no cap.
	MaxRetries int
	// StaleAfter is the minimum age of a PENDING entry before Retry will
	// re-drive it. Younger entries may still belong to a running batch.
	StaleAfter time.Duration
}

// BatchResult aggregates a batch. Errors holds "<recordId>: <message>" for
// every failed entry in submission order.
type BatchResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

func newBatchResult() BatchResult {
	return BatchResult{Errors: []string{}}
}

func (b *BatchResult) add(res reconcile.Result) {
	if res.OK() {
		b.Synced++
		return
	}
	b.Failed++
	b.Errors = append(b.Errors, res.BatchError())
}

// Service is the outbox submission path.
type Service struct {
	store    Store
	proc     Processor
	clock    clock.Clock
	cfg      Config
	locks    *keyedMutex
	notifier Notifier
}

// NewService creates a Service.
func NewService(store Store, proc Processor, clk clock.Clock, cfg Config) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		store:    store,
		proc:     proc,
		clock:    clk,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		notifier: nopNotifier{},
	}
}

// SetNotifier installs n as the progress listener.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SubmitBatch persists every entry as PENDING and then reconciles them.
// Individual failures are reported in the result; the returned error is
// non-nil only when the batch could not be made durable, in which case
// nothing was applied.
func (s *Service) SubmitBatch(ctx context.Context, entries []models.OutboxEntry) (BatchResult, error) {
	started := time.Now()
	now := s.clock.Now()

	batch := make([]*models.OutboxEntry, len(entries))
	for i := range entries {
		e := entries[i]
		normalize(&e, now)
		if !e.Operation.Known() {
			// Kept and reconciled anyway so the failure is recorded on the entry.
			logging.Warn("Outbox entry has an unknown operation", map[string]interface{}{
				"entry_id":  e.ID,
				"operation": e.Operation,
			})
		}
		batch[i] = &e
	}

	err := s.store.WithTx(ctx, func(repo db.SyncRepository) error {
		for _, e := range batch {
			if err := repo.SaveOutboxEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logging.Error("Failed to persist sync batch", err, map[string]interface{}{"size": len(batch)})
		return newBatchResult(), err
	}

	s.notifier.BatchStarted(len(batch))
	results := s.run(ctx, batch)

	out := newBatchResult()
	for _, res := range results {
		out.add(res)
	}
	s.finish("Processed sync batch", out, started)
	return out, nil
}

// normalize fills server-owned fields before an entry is persisted.
func normalize(e *models.OutboxEntry, now time.Time) {
	if e.ID == "" {
		e.ID = models.UUID(uuid.New())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.Status = models.StatusPending
	e.ProcessedAt = nil
	e.ErrorMessage = ""
}

// run processes a persisted batch and returns results indexed like batch.
func (s *Service) run(ctx context.Context, batch []*models.OutboxEntry) []reconcile.Result {
	results := make([]reconcile.Result, len(batch))
	order := executionOrder(batch)

	if s.cfg.Workers == 1 {
		for _, idx := range order {
			results[idx] = s.processOne(ctx, batch[idx])
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, group := range groupByRecord(batch, order) {
		g.Go(func() error {
			for _, idx := range group {
				results[idx] = s.processOne(ctx, batch[idx])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// processOne runs an entry under its record lock. Once ctx is done no new
// entries start; they stay PENDING in the store and are reported as failed.
func (s *Service) processOne(ctx context.Context, e *models.OutboxEntry) reconcile.Result {
	if err := ctx.Err(); err != nil {
		return reconcile.Result{
			EntryID:  string(e.ID),
			RecordID: string(e.RecordID),
			Status:   models.StatusPending,
			Err:      apperrors.Wrap(apperrors.ErrInternal, "not processed, entry left pending", err),
		}
	}

	unlock := s.locks.Lock(orderingKey(e))
	defer unlock()

	// A retry or the resume sweeper may have run this entry while the batch
	// waited for the lock.
	stored, err := s.store.GetOutboxEntry(ctx, string(e.ID))
	if err != nil {
		return reconcile.Result{
			EntryID:  string(e.ID),
			RecordID: string(e.RecordID),
			Status:   models.StatusPending,
			Err:      apperrors.From(err, apperrors.ErrDatabase),
		}
	}
	*e = *stored
	if e.Status != models.StatusPending {
		logging.Debug("Outbox entry already processed, skipping", map[string]interface{}{
			"entry_id": e.ID,
			"status":   e.Status,
		})
		return storedResult(e)
	}
	return s.processLocked(ctx, e)
}

// storedResult reports the outcome already recorded for e.
func storedResult(e *models.OutboxEntry) reconcile.Result {
	res := reconcile.Result{
		EntryID:  string(e.ID),
		RecordID: string(e.RecordID),
		Status:   e.Status,
	}
	if e.Status == models.StatusError {
		res.Err = apperrors.Parse(e.ErrorMessage)
	}
	return res
}

func (s *Service) processLocked(ctx context.Context, e *models.OutboxEntry) reconcile.Result {
	res := s.proc.Process(ctx, e)
	if !res.OK() {
		s.notifier.EntryFailed(*e)
	}
	if res.Conflict != nil {
		s.notifier.ConflictDetected(*res.Conflict)
	}
	return res
}

func (s *Service) finish(msg string, out BatchResult, started time.Time) {
	elapsed := time.Since(started)
	s.notifier.BatchCompleted(out, elapsed)
	logging.Info(msg, map[string]interface{}{
		"synced":      out.Synced,
		"failed":      out.Failed,
		"duration_ms": elapsed.Milliseconds(),
	})
}

// Outstanding returns PENDING and ERROR entries, oldest first.
func (s *Service) Outstanding(ctx context.Context) ([]*models.OutboxEntry, error) {
	return s.store.ListOutboxByStatus(ctx, models.StatusPending, models.StatusError)
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id string) (*models.OutboxEntry, error) {
	return s.store.GetOutboxEntry(ctx, id)
}

// Stats returns entry counts per status.
func (s *Service) Stats(ctx context.Context) (map[models.OutboxStatus]int, error) {
	return s.store.CountOutboxByStatus(ctx)
}

func (s *Service) exhausted(e *models.OutboxEntry) bool {
	return s.cfg.MaxRetries > 0 && e.Retries >= s.cfg.MaxRetries
}

// Retry re-runs one entry. A SYNCED entry is returned unchanged. An ERROR
// entry has its retry count incremented first and is refused with
// RETRY_EXHAUSTED once the count reaches the configured cap. A PENDING entry
// is resumed as is, but only once it is older than StaleAfter and no older
// PENDING entry touches the same record; otherwise it is refused with
// ENTRY_IN_FLIGHT.
func (s *Service) Retry(ctx context.Context, id string) (*models.OutboxEntry, error) {
	entry, err := s.store.GetOutboxEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status == models.StatusSynced {
		return entry, nil
	}
	if entry.Status == models.StatusPending {
		if err := s.checkResumable(ctx, entry); err != nil {
			return nil, err
		}
	}

	entry, res, err := s.redrive(ctx, entry, entry.Status)
	if err != nil {
		return nil, err
	}
	if res != nil {
		logging.Info("Retried outbox entry", map[string]interface{}{
			"entry_id": entry.ID,
			"status":   entry.Status,
			"retries":  entry.Retries,
		})
	}
	return entry, nil
}

// checkResumable refuses a PENDING entry that a running batch may still own
// or whose record has an older entry waiting ahead of it.
func (s *Service) checkResumable(ctx context.Context, e *models.OutboxEntry) error {
	if age := s.clock.Now().Sub(e.CreatedAt); s.cfg.StaleAfter > 0 && age < s.cfg.StaleAfter {
		return apperrors.Newf(apperrors.ErrInFlight,
			"entry %s is pending for %s, retry allowed after %s", e.ID, age, s.cfg.StaleAfter)
	}

	pending, err := s.store.ListOutboxByStatus(ctx, models.StatusPending)
	if err != nil {
		return err
	}
	key := orderingKey(e)
	for _, p := range pending {
		if p.ID == e.ID || orderingKey(p) != key {
			continue
		}
		if p.CreatedAt.Before(e.CreatedAt) {
			return apperrors.Newf(apperrors.ErrInFlight,
				"entry %s waits behind pending entry %s for the same record", e.ID, p.ID)
		}
	}
	return nil
}

// RetryFailed retries every ERROR entry that has retries left, oldest first.
func (s *Service) RetryFailed(ctx context.Context) (BatchResult, error) {
	entries, err := s.store.ListOutboxByStatus(ctx, models.StatusError)
	if err != nil {
		return newBatchResult(), err
	}
	var eligible []*models.OutboxEntry
	for _, e := range entries {
		if !s.exhausted(e) {
			eligible = append(eligible, e)
		}
	}
	return s.redriveAll(ctx, "Retried failed outbox entries", eligible, models.StatusError)
}

// Resume re-drives PENDING entries created more than olderThan ago. These
// belong to batches whose caller went away before processing finished.
func (s *Service) Resume(ctx context.Context, olderThan time.Duration) (BatchResult, error) {
	entries, err := s.store.ListStalePending(ctx, s.clock.Now().Add(-olderThan))
	if err != nil {
		return newBatchResult(), err
	}
	return s.redriveAll(ctx, "Resumed stale outbox entries", entries, models.StatusPending)
}

func (s *Service) redriveAll(ctx context.Context, msg string, entries []*models.OutboxEntry, expect models.OutboxStatus) (BatchResult, error) {
	out := newBatchResult()
	if len(entries) == 0 {
		return out, nil
	}

	started := time.Now()
	s.notifier.BatchStarted(len(entries))
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		_, res, err := s.redrive(ctx, e, expect)
		if apperrors.Is(err, apperrors.ErrRetryExhausted) {
			continue
		}
		if err != nil {
			s.finish(msg, out, started)
			return out, err
		}
		if res != nil {
			out.add(*res)
		}
	}
	s.finish(msg, out, started)
	return out, nil
}

// redrive re-reads an entry under its record lock and processes it if it is
// still in the expected state. The result is nil when the entry moved on
// while waiting for the lock.
func (s *Service) redrive(ctx context.Context, e *models.OutboxEntry, expect models.OutboxStatus) (*models.OutboxEntry, *reconcile.Result, error) {
	unlock := s.locks.Lock(orderingKey(e))
	defer unlock()

	entry, err := s.store.GetOutboxEntry(ctx, string(e.ID))
	if err != nil {
		return nil, nil, err
	}
	if entry.Status != expect {
		return entry, nil, nil
	}
	if entry.Status == models.StatusError {
		if s.exhausted(entry) {
			return nil, nil, apperrors.Newf(apperrors.ErrRetryExhausted,
				"entry %s reached the retry limit of %d", entry.ID, s.cfg.MaxRetries)
		}
		entry.Retries++
	}

	res := s.processLocked(ctx, entry)
	return entry, &res, nil
}
