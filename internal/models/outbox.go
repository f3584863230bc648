package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var errNullSnapshot = errors.New("payload is null")

// Operation is the mutation an outbox entry asks for. It is kept as free text
// so unknown tags survive long enough to be recorded as failures.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Normalize returns the upper-cased, trimmed tag.
func (o Operation) Normalize() Operation {
	return Operation(strings.ToUpper(strings.TrimSpace(string(o))))
}

// Known reports whether the tag names a supported operation.
func (o Operation) Known() bool {
	switch o.Normalize() {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// OutboxStatus is the lifecycle state of an outbox entry.
type OutboxStatus string

const (
	StatusPending OutboxStatus = "PENDING"
	StatusSynced  OutboxStatus = "SYNCED"
	StatusError   OutboxStatus = "ERROR"
)

// OutboxEntry is one queued mutation waiting to be reconciled.
type OutboxEntry struct {
	ID           UUID         `db:"id" json:"id"`
	RecordID     UUID         `db:"task_id" json:"recordId,omitempty"`
	Operation    Operation    `db:"operation" json:"operation"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
	ProcessedAt  *time.Time   `db:"processed_at" json:"processedAt,omitempty"`
	Payload      string       `db:"payload_json" json:"payload"`
	Status       OutboxStatus `db:"status" json:"status"`
	Retries      int          `db:"retries" json:"retries"`
	ErrorMessage string       `db:"error_message" json:"errorMessage,omitempty"`
}

type outboxEntryWire struct {
	ID           UUID            `json:"id"`
	RecordID     UUID            `json:"recordId"`
	TaskID       UUID            `json:"taskId"`
	Operation    Operation       `json:"operation"`
	CreatedAt    *time.Time      `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt"`
	Payload      json.RawMessage `json:"payload"`
	PayloadJSON  json.RawMessage `json:"payloadJson"`
	Status       OutboxStatus    `json:"status"`
	Retries      int             `json:"retries"`
	ErrorMessage string          `json:"errorMessage"`
}

// UnmarshalJSON accepts the payload either as an embedded JSON object or as a
// string holding serialized JSON. Older clients send taskId and payloadJson;
// both names are accepted.
func (e *OutboxEntry) UnmarshalJSON(data []byte) error {
	var w outboxEntryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = OutboxEntry{
		ID:           w.ID,
		RecordID:     w.RecordID,
		Operation:    w.Operation,
		ProcessedAt:  w.ProcessedAt,
		Status:       w.Status,
		Retries:      w.Retries,
		ErrorMessage: w.ErrorMessage,
	}
	if e.RecordID == "" {
		e.RecordID = w.TaskID
	}
	if w.CreatedAt != nil {
		e.CreatedAt = w.CreatedAt.UTC()
	}

	raw := w.Payload
	if len(raw) == 0 {
		raw = w.PayloadJSON
	}
	payload, err := payloadText(raw)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

func payloadText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(raw), nil
}

// MarkSynced records a successful pass.
func (e *OutboxEntry) MarkSynced(now time.Time) {
	e.Status = StatusSynced
	e.ProcessedAt = &now
	e.ErrorMessage = ""
}

// MarkError records a failed pass.
func (e *OutboxEntry) MarkError(message string) {
	e.Status = StatusError
	e.ErrorMessage = message
}
