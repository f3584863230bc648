// Package db provides repository interfaces for tasksync data models.
package db

import (
	"context"
	"time"

	"github.com/kimhsiao/tasksync/internal/models"
)

// TaskRepository defines operations for task persistence.
type TaskRepository interface {
	// GetTask returns the task with id, deleted or not. A missing task is a
	// NOT_FOUND error.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// SaveTask inserts the task or overwrites every column of an existing one.
	SaveTask(ctx context.Context, task *models.Task) error

	// ListActiveTasks returns tasks that are not soft-deleted, most recently
	// updated first.
	ListActiveTasks(ctx context.Context) ([]*models.Task, error)
}

// OutboxRepository defines operations for outbox entry persistence.
type OutboxRepository interface {
	SaveOutboxEntry(ctx context.Context, entry *models.OutboxEntry) error
	GetOutboxEntry(ctx context.Context, id string) (*models.OutboxEntry, error)

	// ListOutboxByStatus returns entries in any of statuses, oldest first.
	ListOutboxByStatus(ctx context.Context, statuses ...models.OutboxStatus) ([]*models.OutboxEntry, error)

	// ListStalePending returns PENDING entries created before cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.OutboxEntry, error)

	// CountOutboxByStatus returns the number of entries per status.
	CountOutboxByStatus(ctx context.Context) (map[models.OutboxStatus]int, error)
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	// CreateConflictLog creates a new conflict log entry.
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error

	// ListConflictLogs returns the conflicts recorded for a task, oldest first.
	ListConflictLogs(ctx context.Context, recordID string) ([]*models.ConflictLog, error)
}

// SyncRepository combines repositories needed for sync operations.
type SyncRepository interface {
	TaskRepository
	OutboxRepository
	ConflictLogRepository
}

// Transactor runs fn inside a single transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
type Transactor interface {
	WithTx(ctx context.Context, fn func(repo SyncRepository) error) error
}

// Ensure *Repository and *Store implement the interfaces at compile time.
var (
	_ TaskRepository        = (*Repository)(nil)
	_ OutboxRepository      = (*Repository)(nil)
	_ ConflictLogRepository = (*Repository)(nil)
	_ SyncRepository        = (*Repository)(nil)
	_ SyncRepository        = (*Store)(nil)
	_ Transactor            = (*Store)(nil)
)
