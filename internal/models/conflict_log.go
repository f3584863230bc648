package models

import "time"

// Resolution values recorded in the conflict log.
const (
	ResolutionForcedOverwrite = "forced_overwrite"
)

// ConflictLog records an UPDATE whose client edit time was older than the
// stored record but which was applied anyway because reconciliation stamps
// every incoming change with the server clock.
type ConflictLog struct {
	ID              UUID      `db:"id" json:"id"`
	RecordID        UUID      `db:"task_id" json:"recordId"`
	EntryID         UUID      `db:"entry_id" json:"entryId"`
	StoredUpdatedAt time.Time `db:"stored_updated_at" json:"storedUpdatedAt"`
	ClientUpdatedAt time.Time `db:"client_updated_at" json:"clientUpdatedAt"`
	Resolution      string    `db:"resolution" json:"resolution"`
	DetectedAt      time.Time `db:"detected_at" json:"detectedAt"`
}

