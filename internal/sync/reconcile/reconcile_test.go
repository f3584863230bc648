package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tasksync/internal/clock"
	"github.com/kimhsiao/tasksync/internal/db"
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
)

const (
	taskX = "6f1c2a8e-0d3b-4c55-9b8e-2f4a1d7c9e01"
	taskY = "6f1c2a8e-0d3b-4c55-9b8e-2f4a1d7c9e02"
)

var t1 = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *db.Store
	clock *clock.Fixed
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenAndMigrate(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := db.NewStore(database.DB)
	clk := clock.NewFixed(t1)
	return &fixture{store: store, clock: clk, rec: New(store, nil, clk)}
}

func (f *fixture) process(t *testing.T, op models.Operation, recordID, payload string) (*models.OutboxEntry, Result) {
	t.Helper()
	entry := &models.OutboxEntry{
		ID:        models.UUID("entry-" + f.clock.Now().Format("150405.000")),
		RecordID:  models.UUID(recordID),
		Operation: op,
		CreatedAt: f.clock.Now(),
		Payload:   payload,
		Status:    models.StatusPending,
	}
	return entry, f.rec.Process(context.Background(), entry)
}

func (f *fixture) task(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := f.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (f *fixture) storedEntry(t *testing.T, id models.UUID) *models.OutboxEntry {
	t.Helper()
	entry, err := f.store.GetOutboxEntry(context.Background(), string(id))
	require.NoError(t, err)
	return entry
}

func requireNoTask(t *testing.T, f *fixture, id string) {
	t.Helper()
	_, err := f.store.GetTask(context.Background(), id)
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound), "expected no task %s, got %v", id, err)
}

func TestProcess_CreateWithoutTimestamps(t *testing.T) {
	f := newFixture(t)

	entry, res := f.process(t, models.OpCreate, taskX, `{"id":"`+taskX+`","title":"A","description":"d"}`)
	require.True(t, res.OK(), "result: %+v", res)
	assert.Nil(t, res.Err)
	assert.Equal(t, taskX, res.RecordID)

	task := f.task(t, taskX)
	assert.Equal(t, "A", task.Title)
	assert.Equal(t, "d", task.Description)
	assert.False(t, task.Deleted)
	assert.Equal(t, t1, task.CreatedAt)
	assert.Equal(t, t1, task.UpdatedAt)
	require.NotNil(t, task.LastSyncedAt)
	assert.Equal(t, t1, *task.LastSyncedAt)

	stored := f.storedEntry(t, entry.ID)
	assert.Equal(t, models.StatusSynced, stored.Status)
	require.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, t1, *stored.ProcessedAt)
	assert.Empty(t, stored.ErrorMessage)
}

func TestProcess_CreateAssignsID(t *testing.T) {
	f := newFixture(t)

	entry, res := f.process(t, models.OpCreate, "", `{"title":"no id"}`)
	require.True(t, res.OK())
	require.NotEmpty(t, entry.RecordID)
	assert.Equal(t, string(entry.RecordID), res.RecordID)
	assert.Equal(t, "no id", f.task(t, res.RecordID).Title)
	assert.Equal(t, entry.RecordID, f.storedEntry(t, entry.ID).RecordID)
}

func TestProcess_CreateKeepsClientCreatedAt(t *testing.T) {
	f := newFixture(t)

	earlier := t1.Add(-48 * time.Hour)
	_, res := f.process(t, models.OpCreate, "", `{"id":"`+taskX+`","title":"A","createdAt":"`+earlier.Format(time.RFC3339)+`"}`)
	require.True(t, res.OK())

	task := f.task(t, taskX)
	assert.Equal(t, earlier, task.CreatedAt)
	assert.Equal(t, t1, task.UpdatedAt)
}

func TestProcess_CreateClampsFutureCreatedAt(t *testing.T) {
	f := newFixture(t)

	later := t1.Add(time.Hour)
	_, res := f.process(t, models.OpCreate, "", `{"id":"`+taskX+`","createdAt":"`+later.Format(time.RFC3339)+`"}`)
	require.True(t, res.OK(), "%+v", res)

	task := f.task(t, taskX)
	assert.Equal(t, later, task.CreatedAt)
	assert.Equal(t, later, task.UpdatedAt, "updatedAt never precedes createdAt")
}

func TestProcess_CreateOverwritesAndUndeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveTask(ctx, &models.Task{
		ID: taskX, Title: "old", Deleted: true, CreatedAt: t1.Add(-time.Hour), UpdatedAt: t1.Add(-time.Hour),
	}))

	_, res := f.process(t, models.OpCreate, taskX, `{"title":"new","deleted":true}`)
	require.True(t, res.OK())

	task := f.task(t, taskX)
	assert.Equal(t, "new", task.Title)
	assert.False(t, task.Deleted, "create always yields a live record")
	assert.Equal(t, t1, task.CreatedAt)
}

func TestProcess_AdoptsRecordID(t *testing.T) {
	f := newFixture(t)

	_, res := f.process(t, models.OpCreate, taskY, `{"title":"from recordId"}`)
	require.True(t, res.OK())
	assert.Equal(t, "from recordId", f.task(t, taskY).Title)
}

func TestProcess_OperationIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)

	_, res := f.process(t, "create", taskX, `{"title":"A"}`)
	require.True(t, res.OK())
}

func TestProcess_UpdateExisting(t *testing.T) {
	f := newFixture(t)
	_, res := f.process(t, models.OpCreate, taskX, `{"title":"A","createdAt":"2024-04-01T00:00:00Z"}`)
	require.True(t, res.OK())

	t2 := f.clock.Advance(time.Minute)
	clientTime := t2.Add(-time.Second).Format(time.RFC3339Nano)
	_, res = f.process(t, models.OpUpdate, taskX,
		`{"id":"`+taskX+`","title":"B","description":"x","completed":true,"updatedAt":"`+clientTime+`"}`)
	require.True(t, res.OK(), "%+v", res)
	assert.Nil(t, res.Conflict, "client edit newer than stored is not a conflict")

	task := f.task(t, taskX)
	assert.Equal(t, "B", task.Title)
	assert.Equal(t, "x", task.Description)
	assert.True(t, task.Completed)
	assert.Equal(t, t2, task.UpdatedAt)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), task.CreatedAt, "createdAt is immutable")
	assert.Equal(t, t2, *task.LastSyncedAt)
}

// A stale client edit still wins because updatedAt is forced to processing
// time; the overwrite is recorded in the conflict log.
func TestProcess_StaleUpdateWinsAndIsLogged(t *testing.T) {
	f := newFixture(t)
	t0 := t1.Add(-time.Hour)

	createEntry, res := f.process(t, models.OpCreate, taskX, `{"id":"`+taskX+`","title":"A"}`)
	require.True(t, res.OK())

	t2 := f.clock.Advance(time.Minute)
	updateEntry, res := f.process(t, models.OpUpdate, taskX,
		`{"id":"`+taskX+`","title":"B","updatedAt":"`+t0.Format(time.RFC3339)+`"}`)
	require.True(t, res.OK())

	task := f.task(t, taskX)
	assert.Equal(t, "B", task.Title)
	assert.Equal(t, t2, task.UpdatedAt)

	require.NotNil(t, res.Conflict)
	logs, err := f.store.ListConflictLogs(context.Background(), taskX)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, updateEntry.ID, logs[0].EntryID)
	assert.Equal(t, t1, logs[0].StoredUpdatedAt)
	assert.Equal(t, t0, logs[0].ClientUpdatedAt)
	assert.Equal(t, models.ResolutionForcedOverwrite, logs[0].Resolution)
	assert.Equal(t, t2, logs[0].DetectedAt)
	assert.NotEqual(t, createEntry.ID, logs[0].EntryID)
}

func TestProcess_UpdateOfAbsentRecordCreates(t *testing.T) {
	payload := `{"id":"` + taskX + `","title":"T","description":"D","completed":true,"createdAt":"2024-01-01T00:00:00Z"}`

	viaUpdate := newFixture(t)
	_, res := viaUpdate.process(t, models.OpUpdate, taskX, payload)
	require.True(t, res.OK())

	viaCreate := newFixture(t)
	_, res = viaCreate.process(t, models.OpCreate, taskX, payload)
	require.True(t, res.OK())

	assert.Equal(t, viaCreate.task(t, taskX), viaUpdate.task(t, taskX))
}

func TestProcess_UpdateMissingIdentifier(t *testing.T) {
	f := newFixture(t)

	entry, res := f.process(t, models.OpUpdate, "", `{"title":"B"}`)
	assert.Equal(t, models.StatusError, res.Status)
	require.NotNil(t, res.Err)
	assert.Equal(t, apperrors.ErrMissingIdentifier, res.Err.Code)
	assert.Equal(t, "unknown: [MISSING_IDENTIFIER] update requires task id", res.BatchError())

	stored := f.storedEntry(t, entry.ID)
	assert.Equal(t, models.StatusError, stored.Status)
	assert.Equal(t, "[MISSING_IDENTIFIER] update requires task id", stored.ErrorMessage)
	assert.Nil(t, stored.ProcessedAt)

	tasks, err := f.store.ListActiveTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestProcess_DeleteMissingIdentifier(t *testing.T) {
	f := newFixture(t)

	_, res := f.process(t, models.OpDelete, "", `{}`)
	require.NotNil(t, res.Err)
	assert.Equal(t, apperrors.ErrMissingIdentifier, res.Err.Code)
}

func TestProcess_DeleteOfAbsentRecordIsNoop(t *testing.T) {
	f := newFixture(t)

	entry, res := f.process(t, models.OpDelete, taskY, `{"id":"`+taskY+`"}`)
	require.True(t, res.OK())
	assert.Equal(t, models.StatusSynced, f.storedEntry(t, entry.ID).Status)
	requireNoTask(t, f, taskY)
}

func TestProcess_DeleteIsSoftAndPermanent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, res := f.process(t, models.OpCreate, taskX, `{"title":"A"}`)
	require.True(t, res.OK())

	t2 := f.clock.Advance(time.Minute)
	_, res = f.process(t, models.OpDelete, taskX, `{"id":"`+taskX+`","title":"ignored"}`)
	require.True(t, res.OK())

	task := f.task(t, taskX)
	assert.True(t, task.Deleted)
	assert.Equal(t, "A", task.Title, "delete only flips the flag")
	assert.Equal(t, t2, task.UpdatedAt)

	active, err := f.store.ListActiveTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// A second delete keeps the record deleted.
	f.clock.Advance(time.Minute)
	_, res = f.process(t, models.OpDelete, taskX, `{}`)
	require.True(t, res.OK())
	assert.True(t, f.task(t, taskX).Deleted)
}

func TestProcess_UnknownOperation(t *testing.T) {
	f := newFixture(t)

	entry, res := f.process(t, "BOGUS", taskX, `{"title":"A"}`)
	require.NotNil(t, res.Err)
	assert.Equal(t, apperrors.ErrUnknownOperation, res.Err.Code)
	assert.Equal(t, taskX+": [UNKNOWN_OPERATION] unknown operation: BOGUS", res.BatchError())
	assert.Equal(t, models.StatusError, f.storedEntry(t, entry.ID).Status)
	requireNoTask(t, f, taskX)
}

func TestProcess_MalformedPayload(t *testing.T) {
	payloads := map[string]string{
		"empty":        "",
		"whitespace":   "   ",
		"null":         "null",
		"not json":     "{oops",
		"array":        `[]`,
		"wrong type":   `{"title":42}`,
		"bad id":       `{"id":"not-a-uuid"}`,
		"bad recordId": "",
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			recordID := ""
			if name == "bad recordId" {
				recordID, payload = "nope", `{"title":"A"}`
			}

			entry, res := f.process(t, models.OpCreate, recordID, payload)
			require.NotNil(t, res.Err)
			assert.Equal(t, apperrors.ErrMalformedPayload, res.Err.Code)

			stored := f.storedEntry(t, entry.ID)
			assert.Equal(t, models.StatusError, stored.Status)
			assert.Contains(t, stored.ErrorMessage, "MALFORMED_PAYLOAD")
		})
	}
}

func TestProcess_RetryClearsError(t *testing.T) {
	f := newFixture(t)

	entry, res := f.process(t, models.OpUpdate, "", `{"title":"A"}`)
	require.False(t, res.OK())

	entry.RecordID = taskX
	res = f.rec.Process(context.Background(), entry)
	require.True(t, res.OK())
	assert.Empty(t, f.storedEntry(t, entry.ID).ErrorMessage)
}

// failingStore injects a store failure into SaveTask.
type failingStore struct {
	*db.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(db.SyncRepository) error) error {
	return s.Store.WithTx(ctx, func(repo db.SyncRepository) error {
		return fn(failingRepo{repo})
	})
}

type failingRepo struct {
	db.SyncRepository
}

func (failingRepo) SaveTask(context.Context, *models.Task) error {
	return apperrors.Wrap(apperrors.ErrDatabase, "save task", errors.New("disk I/O error"))
}

// unavailableStore fails every transaction.
type unavailableStore struct {
	*db.Store
}

func (unavailableStore) WithTx(context.Context, func(db.SyncRepository) error) error {
	return apperrors.Wrap(apperrors.ErrDatabase, "begin transaction", context.Canceled)
}

func TestProcess_UnrecordedFailureReportsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := &models.OutboxEntry{
		ID: "queued", RecordID: taskX, Operation: models.OpCreate,
		CreatedAt: t1, Payload: `{"title":"A"}`, Status: models.StatusPending,
	}
	require.NoError(t, f.store.SaveOutboxEntry(ctx, entry))

	f.rec = New(unavailableStore{f.store}, nil, f.clock)
	res := f.rec.Process(ctx, entry)

	require.NotNil(t, res.Err)
	assert.Equal(t, apperrors.ErrDatabase, res.Err.Code)
	assert.Equal(t, models.StatusPending, res.Status, "the ERROR status never reached the store")
	assert.Empty(t, entry.ErrorMessage)

	stored := f.storedEntry(t, "queued")
	assert.Equal(t, models.StatusPending, stored.Status)
	requireNoTask(t, f, taskX)
}

func TestProcess_StoreFailureRollsBackAndRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, res := f.process(t, models.OpCreate, taskX, `{"title":"A"}`)
	require.True(t, res.OK())

	f.rec = New(failingStore{f.store}, nil, f.clock)
	f.clock.Advance(time.Minute)
	entry, res := f.process(t, models.OpUpdate, taskX, `{"title":"B","updatedAt":"2000-01-01T00:00:00Z"}`)

	require.NotNil(t, res.Err)
	assert.Equal(t, apperrors.ErrDatabase, res.Err.Code)
	assert.Nil(t, res.Conflict)

	stored := f.storedEntry(t, entry.ID)
	assert.Equal(t, models.StatusError, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "disk I/O error")

	assert.Equal(t, "A", f.task(t, taskX).Title, "record change rolled back")
	logs, err := f.store.ListConflictLogs(ctx, taskX)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
