package outbox

import (
	"time"

	"github.com/kimhsiao/tasksync/internal/models"
)

// Notifier receives progress events. Calls happen on processing goroutines
// and must not block.
type Notifier interface {
	BatchStarted(size int)
	BatchCompleted(result BatchResult, elapsed time.Duration)
	EntryFailed(entry models.OutboxEntry)
	ConflictDetected(log models.ConflictLog)
}

type nopNotifier struct{}

func (nopNotifier) BatchStarted(int)                          {}
func (nopNotifier) BatchCompleted(BatchResult, time.Duration) {}
func (nopNotifier) EntryFailed(models.OutboxEntry)            {}
func (nopNotifier) ConflictDetected(models.ConflictLog)       {}
