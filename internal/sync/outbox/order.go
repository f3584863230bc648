package outbox

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/kimhsiao/tasksync/internal/models"
)

// orderingKey identifies the record an entry touches, using the same id the
// reconciler writes to: the payload id first, then recordId. Entries that name
// no record (a CREATE that will be assigned an id) get a key of their own.
func orderingKey(e *models.OutboxEntry) string {
	var peek struct {
		ID string `json:"id"`
	}
	if json.Unmarshal([]byte(e.Payload), &peek) == nil && peek.ID != "" {
		return strings.ToLower(peek.ID)
	}
	if e.RecordID != "" {
		return strings.ToLower(string(e.RecordID))
	}
	return "entry:" + string(e.ID)
}

// executionOrder returns batch indexes in the order they run. Across records
// submission order is kept. Entries for the same record are placed in the
// slots that record occupies, sorted by createdAt with submission order
// breaking ties.
func executionOrder(batch []*models.OutboxEntry) []int {
	slots := make(map[string][]int)
	var keys []string
	for i, e := range batch {
		k := orderingKey(e)
		if _, ok := slots[k]; !ok {
			keys = append(keys, k)
		}
		slots[k] = append(slots[k], i)
	}

	order := make([]int, len(batch))
	for _, k := range keys {
		idx := slots[k]
		sorted := append([]int(nil), idx...)
		sort.SliceStable(sorted, func(a, b int) bool {
			return batch[sorted[a]].CreatedAt.Before(batch[sorted[b]].CreatedAt)
		})
		for j, slot := range idx {
			order[slot] = sorted[j]
		}
	}
	return order
}

// groupByRecord splits an execution order into per-record runs, keeping
// first-appearance order between records.
func groupByRecord(batch []*models.OutboxEntry, order []int) [][]int {
	pos := make(map[string]int)
	var groups [][]int
	for _, idx := range order {
		k := orderingKey(batch[idx])
		g, ok := pos[k]
		if !ok {
			g = len(groups)
			pos[k] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], idx)
	}
	return groups
}
