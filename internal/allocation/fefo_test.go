package allocation

import (
	"errors"
	"testing"
	"time"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
)

func day(offset int) time.Time {
	return time.Now().UTC().AddDate(0, 0, offset)
}

func batch(id string, expiryOffset int, receivedOffset int, qty int) domain.Batch {
	return domain.Batch{
		ID:         id,
		DrugSKU:    "DRG-X",
		ExpiryDate: day(expiryOffset),
		ReceivedAt: day(receivedOffset),
		QtyOnHand:  qty,
	}
}

func TestPlanPicksEarliestExpiryFirst(t *testing.T) {
	batches := []domain.Batch{
		batch("late", 365, -30, 100),
		batch("early", 30, -10, 5),
		batch("mid", 90, -20, 50),
	}

	plan, err := Plan(batches, 20, time.Now().UTC())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("plan slices = %d, want 2", len(plan))
	}
	if plan[0].BatchID != "early" || plan[0].Qty != 5 {
		t.Fatalf("first slice = %+v, want early/5", plan[0])
	}
	if plan[1].BatchID != "mid" || plan[1].Qty != 15 {
		t.Fatalf("second slice = %+v, want mid/15", plan[1])
	}
}

func TestPlanTiesBreakOnReceivedAt(t *testing.T) {
	expiry := day(60)
	older := domain.Batch{ID: "older", ExpiryDate: expiry, ReceivedAt: day(-30), QtyOnHand: 10}
	newer := domain.Batch{ID: "newer", ExpiryDate: expiry, ReceivedAt: day(-5), QtyOnHand: 10}

	plan, err := Plan([]domain.Batch{newer, older}, 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan[0].BatchID != "older" {
		t.Fatalf("picked %s, want older lot on equal expiry", plan[0].BatchID)
	}
}

func TestPlanSkipsExpiredAndEmptyBatches(t *testing.T) {
	batches := []domain.Batch{
		batch("expired", -1, -60, 100),
		batch("empty", 60, -30, 0),
		batch("good", 60, -10, 10),
	}

	plan, err := Plan(batches, 10, time.Now().UTC())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan) != 1 || plan[0].BatchID != "good" {
		t.Fatalf("plan = %+v, want single slice from good", plan)
	}
}

func TestPlanExpiringTodayIsStillSellable(t *testing.T) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	b := domain.Batch{ID: "today", ExpiryDate: today, ReceivedAt: day(-10), QtyOnHand: 5}

	plan, err := Plan([]domain.Batch{b}, 5, now)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan[0].BatchID != "today" {
		t.Fatalf("batch expiring today should be sellable")
	}
}

func TestPlanIsAllOrNothing(t *testing.T) {
	batches := []domain.Batch{batch("only", 60, -10, 3)}
	_, err := Plan(batches, 4, time.Now().UTC())
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
}

func TestPlanRejectsNonPositiveQty(t *testing.T) {
	if _, err := Plan(nil, 0, time.Now().UTC()); !errors.Is(err, store.ErrInvalidOperation) {
		t.Fatalf("err = %v, want ErrInvalidOperation", err)
	}
}

func TestPlanDoesNotMutateInput(t *testing.T) {
	batches := []domain.Batch{
		batch("b", 90, -20, 50),
		batch("a", 30, -10, 5),
	}
	if _, err := Plan(batches, 10, time.Now().UTC()); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if batches[0].ID != "b" || batches[1].ID != "a" {
		t.Fatalf("input slice reordered: %s,%s", batches[0].ID, batches[1].ID)
	}
}

func TestAvailableSumsEligibleOnly(t *testing.T) {
	batches := []domain.Batch{
		batch("expired", -5, -60, 40),
		batch("good1", 30, -10, 7),
		batch("good2", 90, -5, 8),
	}
	if got := Available(batches, time.Now().UTC()); got != 15 {
		t.Fatalf("available = %d, want 15", got)
	}
}
