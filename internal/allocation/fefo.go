// Package allocation plans which inventory batches satisfy a requested
// quantity, consuming the earliest-expiring eligible lot first. The plan is a
// pure computation over a snapshot of batches; callers must re-validate it
// under row locks at deduction time, because stock can move between planning
// and commit.
package allocation

import (
	"sort"
	"time"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
)

// Allocation is one slice of a plan: take Qty units from batch BatchID.
type Allocation struct {
	BatchID string
	Qty     int
}

// Eligible reports whether a batch may be sold from at the given instant.
func Eligible(b domain.Batch, at time.Time) bool {
	return b.QtyOnHand > 0 && !b.ExpiryDate.Before(dateOf(at))
}

// Plan greedily picks batches in FEFO order until qty is covered. The result
// is all-or-nothing: if the eligible batches cannot cover qty, the whole plan
// fails with store.ErrInsufficientStock.
func Plan(batches []domain.Batch, qty int, at time.Time) ([]Allocation, error) {
	if qty < 1 {
		return nil, store.ErrInvalidOperation
	}

	eligible := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		if Eligible(b, at) {
			eligible = append(eligible, b)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].ExpiryDate.Equal(eligible[j].ExpiryDate) {
			return eligible[i].ExpiryDate.Before(eligible[j].ExpiryDate)
		}
		return eligible[i].ReceivedAt.Before(eligible[j].ReceivedAt)
	})

	remaining := qty
	plan := make([]Allocation, 0, 2)
	for _, b := range eligible {
		if remaining == 0 {
			break
		}
		take := remaining
		if take > b.QtyOnHand {
			take = b.QtyOnHand
		}
		plan = append(plan, Allocation{BatchID: b.ID, Qty: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, store.ErrInsufficientStock
	}
	return plan, nil
}

// Available sums the sellable quantity across eligible batches.
func Available(batches []domain.Batch, at time.Time) int {
	total := 0
	for _, b := range batches {
		if Eligible(b, at) {
			total += b.QtyOnHand
		}
	}
	return total
}

// Expiry comparisons work on calendar dates, not instants: a batch expiring
// today is still sellable today.
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
