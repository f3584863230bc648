package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository provides CRUD operations for all models. It runs against the
// database directly or inside a transaction handed out by Store.WithTx.
type Repository struct {
	q querier
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{q: db}
}

// Timestamps are stored as Unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func dbErr(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

// =====================================================
// Task Operations
// =====================================================

const taskColumns = `id, title, description, completed, is_deleted, created_at, updated_at, last_synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task             models.Task
		created, updated int64
		lastSynced       sql.NullInt64
	)
	if err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Completed, &task.Deleted,
		&created, &updated, &lastSynced); err != nil {
		return nil, err
	}
	task.CreatedAt = fromMillis(created)
	task.UpdatedAt = fromMillis(updated)
	task.LastSyncedAt = fromNullMillis(lastSynced)
	return &task, nil
}

// GetTask retrieves a task by ID, including soft-deleted ones.
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "task not found: "+id, err)
	}
	if err != nil {
		return nil, dbErr("get task", err)
	}
	return task, nil
}

// SaveTask upserts a task by id, replacing every column.
func (r *Repository) SaveTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			completed = excluded.completed,
			is_deleted = excluded.is_deleted,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at`
	_, err := r.q.ExecContext(ctx, query,
		task.ID, task.Title, task.Description, task.Completed, task.Deleted,
		toMillis(task.CreatedAt), toMillis(task.UpdatedAt), toNullMillis(task.LastSyncedAt))
	if err != nil {
		return dbErr("save task", err)
	}
	return nil
}

// ListActiveTasks returns non-deleted tasks ordered by updated_at descending.
func (r *Repository) ListActiveTasks(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE is_deleted = 0
		ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, dbErr("list tasks", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, dbErr("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list tasks", err)
	}
	return tasks, nil
}

// =====================================================
// Outbox Operations
// =====================================================

const outboxColumns = `id, task_id, operation, created_at, processed_at, payload_json, status, retries, error_message`

func scanOutboxEntry(row rowScanner) (*models.OutboxEntry, error) {
	var (
		entry     models.OutboxEntry
		created   int64
		processed sql.NullInt64
		errMsg    sql.NullString
	)
	if err := row.Scan(&entry.ID, &entry.RecordID, &entry.Operation, &created, &processed,
		&entry.Payload, &entry.Status, &entry.Retries, &errMsg); err != nil {
		return nil, err
	}
	entry.CreatedAt = fromMillis(created)
	entry.ProcessedAt = fromNullMillis(processed)
	entry.ErrorMessage = errMsg.String
	return &entry, nil
}

// SaveOutboxEntry upserts an outbox entry by id. The stored retry count never
// goes down, so resubmitting an entry cannot reset its retry cap.
func (r *Repository) SaveOutboxEntry(ctx context.Context, entry *models.OutboxEntry) error {
	query := `
		INSERT INTO sync_queue (` + outboxColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id,
			operation = excluded.operation,
			created_at = excluded.created_at,
			processed_at = excluded.processed_at,
			payload_json = excluded.payload_json,
			status = excluded.status,
			retries = MAX(sync_queue.retries, excluded.retries),
			error_message = excluded.error_message`
	errMsg := sql.NullString{String: entry.ErrorMessage, Valid: entry.ErrorMessage != ""}
	_, err := r.q.ExecContext(ctx, query,
		entry.ID, entry.RecordID, string(entry.Operation), toMillis(entry.CreatedAt),
		toNullMillis(entry.ProcessedAt), entry.Payload, string(entry.Status), entry.Retries, errMsg)
	if err != nil {
		return dbErr("save outbox entry", err)
	}
	return nil
}

// GetOutboxEntry retrieves an outbox entry by ID.
func (r *Repository) GetOutboxEntry(ctx context.Context, id string) (*models.OutboxEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM sync_queue WHERE id = ?`, id)
	entry, err := scanOutboxEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "outbox entry not found: "+id, err)
	}
	if err != nil {
		return nil, dbErr("get outbox entry", err)
	}
	return entry, nil
}

// ListOutboxByStatus returns entries whose status is one of statuses, ordered
// by created_at and then by insertion order.
func (r *Repository) ListOutboxByStatus(ctx context.Context, statuses ...models.OutboxStatus) ([]*models.OutboxEntry, error) {
	if len(statuses) == 0 {
		return []*models.OutboxEntry{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	query := fmt.Sprintf(`SELECT %s FROM sync_queue WHERE status IN (%s) ORDER BY created_at ASC, rowid ASC`,
		outboxColumns, placeholders)
	return r.listOutbox(ctx, query, args...)
}

// ListStalePending returns PENDING entries created before cutoff.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM sync_queue
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC, rowid ASC`
	return r.listOutbox(ctx, query, string(models.StatusPending), toMillis(cutoff))
}

// CountOutboxByStatus returns the number of entries per status. Statuses
// with no entries are reported as zero.
func (r *Repository) CountOutboxByStatus(ctx context.Context) (map[models.OutboxStatus]int, error) {
	counts := map[models.OutboxStatus]int{
		models.StatusPending: 0,
		models.StatusSynced:  0,
		models.StatusError:   0,
	}
	rows, err := r.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, dbErr("count outbox entries", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status models.OutboxStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, dbErr("scan outbox count", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("count outbox entries", err)
	}
	return counts, nil
}

func (r *Repository) listOutbox(ctx context.Context, query string, args ...any) ([]*models.OutboxEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list outbox entries", err)
	}
	defer rows.Close()

	entries := []*models.OutboxEntry{}
	for rows.Next() {
		entry, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, dbErr("scan outbox entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list outbox entries", err)
	}
	return entries, nil
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	if log.ID == "" {
		log.ID = models.UUID(uuid.New())
	}
	query := `INSERT INTO conflict_log (id, task_id, entry_id, stored_updated_at, client_updated_at, resolution, detected_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query, log.ID, log.RecordID, log.EntryID,
		toMillis(log.StoredUpdatedAt), toMillis(log.ClientUpdatedAt), log.Resolution, toMillis(log.DetectedAt))
	if err != nil {
		return dbErr("create conflict log", err)
	}
	return nil
}

// ListConflictLogs returns the conflict log entries recorded for a task.
func (r *Repository) ListConflictLogs(ctx context.Context, recordID string) ([]*models.ConflictLog, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, task_id, entry_id, stored_updated_at, client_updated_at, resolution, detected_at
		FROM conflict_log WHERE task_id = ?
		ORDER BY detected_at ASC, rowid ASC`, recordID)
	if err != nil {
		return nil, dbErr("list conflict logs", err)
	}
	defer rows.Close()

	logs := []*models.ConflictLog{}
	for rows.Next() {
		var (
			l                        models.ConflictLog
			stored, client, detected int64
		)
		if err := rows.Scan(&l.ID, &l.RecordID, &l.EntryID, &stored, &client, &l.Resolution, &detected); err != nil {
			return nil, dbErr("scan conflict log", err)
		}
		l.StoredUpdatedAt = fromMillis(stored)
		l.ClientUpdatedAt = fromMillis(client)
		l.DetectedAt = fromMillis(detected)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list conflict logs", err)
	}
	return logs, nil
}
