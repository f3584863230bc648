package models

import (
	"encoding/json"
	"time"
)

// Task is the record clients mutate while offline.
type Task struct {
	ID           UUID       `db:"id" json:"id"`
	Title        string     `db:"title" json:"title"`
	Description  string     `db:"description" json:"description"`
	Completed    bool       `db:"completed" json:"completed"`
	Deleted      bool       `db:"is_deleted" json:"deleted"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"lastSyncedAt,omitempty"`
}

// ClampUpdatedAt raises UpdatedAt to CreatedAt when a merge would leave the
// record modified before it was created.
func (t *Task) ClampUpdatedAt() {
	if t.UpdatedAt.Before(t.CreatedAt) {
		t.UpdatedAt = t.CreatedAt
	}
}

// Touch sets UpdatedAt to now.
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = now
	t.ClampUpdatedAt()
}

// TaskSnapshot is the serialized form of a Task carried in an outbox payload.
// Timestamps are optional on the wire. lastSyncedAt is server-owned and is
// not read from clients.
type TaskSnapshot struct {
	ID          UUID       `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Deleted     bool       `json:"deleted"`
	CreatedAt   *time.Time `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

// DecodeSnapshot parses a payload into a snapshot. A payload of JSON null is
// rejected along with anything that is not an object.
func DecodeSnapshot(payload string) (*TaskSnapshot, error) {
	var snap *TaskSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errNullSnapshot
	}
	return snap, nil
}

// ToTask converts the snapshot into a record. Absent timestamps become zero.
func (s *TaskSnapshot) ToTask() *Task {
	t := &Task{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		Completed:   s.Completed,
		Deleted:     s.Deleted,
	}
	if s.CreatedAt != nil {
		t.CreatedAt = s.CreatedAt.UTC()
	}
	if s.UpdatedAt != nil {
		t.UpdatedAt = s.UpdatedAt.UTC()
	}
	return t
}
