// Package conflict provides the last-write-wins rule used when an incoming
// task snapshot meets the stored record.
package conflict

import (
	"github.com/kimhsiao/tasksync/internal/clock"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/models"
)

// ResolutionStrategy names how a decision was reached.
type ResolutionStrategy string

const (
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolutionStrategyForce         ResolutionStrategy = "forced_overwrite"
)

// Resolver merges incoming snapshots into stored records. It mutates the
// existing record in place and performs no I/O.
type Resolver struct {
	clock clock.Clock
}

// NewResolver creates a Resolver. clk supplies updatedAt when the incoming
// snapshot has none.
func NewResolver(clk clock.Clock) *Resolver {
	if clk == nil {
		clk = clock.System{}
	}
	return &Resolver{clock: clk}
}

// IncomingWins reports whether incoming should replace existing. It does when
// there is no existing record, when the existing record has no updatedAt, or
// when incoming is strictly newer. Equal timestamps keep the existing record.
func (r *Resolver) IncomingWins(existing, incoming *models.Task) bool {
	switch {
	case existing == nil:
		return true
	case existing.UpdatedAt.IsZero():
		return true
	default:
		return incoming.UpdatedAt.After(existing.UpdatedAt)
	}
}

// Resolve applies last-write-wins and returns the surviving record.
func (r *Resolver) Resolve(existing, incoming *models.Task) *models.Task {
	return r.ResolveWithForce(existing, incoming, false)
}

// ResolveWithForce is Resolve, except that force makes incoming win
// regardless of timestamps.
//
// On a win title, description, completed and deleted are copied from incoming
// and updatedAt becomes incoming's, or now when incoming has none. id and
// createdAt of the existing record never change. With no existing record the
// incoming snapshot becomes the record.
func (r *Resolver) ResolveWithForce(existing, incoming *models.Task, force bool) *models.Task {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		if incoming.UpdatedAt.IsZero() {
			incoming.UpdatedAt = r.clock.Now()
		}
		return incoming
	}

	strategy := ResolutionStrategyLastWriteWins
	wins := r.IncomingWins(existing, incoming)
	if force {
		strategy = ResolutionStrategyForce
		wins = true
	}

	logging.Debug("Resolving task conflict", map[string]interface{}{
		"task_id":          existing.ID,
		"stored_updated":   existing.UpdatedAt,
		"incoming_updated": incoming.UpdatedAt,
		"strategy":         strategy,
		"incoming_wins":    wins,
	})

	if !wins {
		return existing
	}

	existing.Title = incoming.Title
	existing.Description = incoming.Description
	existing.Completed = incoming.Completed
	existing.Deleted = incoming.Deleted
	if incoming.UpdatedAt.IsZero() {
		existing.UpdatedAt = r.clock.Now()
	} else {
		existing.UpdatedAt = incoming.UpdatedAt
	}
	return existing
}
