// Package offline is the client side of the sync protocol: a durable queue of
// operations captured while the device had no connectivity, and the engine
// that replays them against the server once it returns.
package offline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medipos/backend/internal/domain"
)

// Queue statuses. QUEUED operations are waiting for a sync attempt; SYNCING
// ones are in flight; the remaining three are terminal verdicts from the
// server. NEEDS_REVIEW items stay in the queue until a pharmacist resolves
// them by hand.
const (
	StatusQueued      = "QUEUED"
	StatusSyncing     = "SYNCING"
	StatusSynced      = "SYNCED"
	StatusNeedsReview = "NEEDS_REVIEW"
	StatusFailed      = "FAILED"
)

const (
	KindInvoice = "invoice"
	KindEvent   = "event"
)

var (
	ErrOperationNotFound = errors.New("queued operation not found")
)

// QueuedOperation is one captured offline action. Exactly one of Invoice or
// Event is set, matching Kind.
type QueuedOperation struct {
	LocalID         string                      `json:"localId"`
	Kind            string                      `json:"kind"`
	Status          string                      `json:"status"`
	IdempotencyKey  string                      `json:"idempotencyKey"`
	Invoice         *domain.IssueInvoiceRequest `json:"invoice,omitempty"`
	EventType       string                      `json:"eventType,omitempty"`
	EventData       []byte                      `json:"eventData,omitempty"`
	ServerInvoiceID string                      `json:"serverInvoiceId,omitempty"`
	Conflicts       []domain.Conflict           `json:"conflicts,omitempty"`
	Error           string                      `json:"error,omitempty"`
	Attempts        int                         `json:"attempts"`
	EnqueuedAt      time.Time                   `json:"enqueuedAt"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
}

// Queue stores operations between capture and reconciliation. Implementations
// must preserve enqueue order for Pending.
type Queue interface {
	Enqueue(ctx context.Context, op QueuedOperation) (QueuedOperation, error)
	Pending(ctx context.Context) ([]QueuedOperation, error)
	MarkSyncing(ctx context.Context, localIDs []string) error
	// Requeue flips SYNCING operations back to QUEUED after a transport
	// failure so the next cycle retries the whole batch.
	Requeue(ctx context.Context, localIDs []string) error
	ApplyResult(ctx context.Context, result domain.SyncResult) error
	List(ctx context.Context) ([]QueuedOperation, error)
	// PurgeSynced drops SYNCED operations older than the cutoff and returns
	// how many were removed.
	PurgeSynced(ctx context.Context, olderThan time.Time) (int, error)
}

// MemoryQueue is the in-process Queue used by tests and by deployments where
// the embedding application persists the queue itself.
type MemoryQueue struct {
	mu  sync.Mutex
	ops map[string]*QueuedOperation
	now func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ops: make(map[string]*QueuedOperation),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, op QueuedOperation) (QueuedOperation, error) {
	if err := normalizeOperation(&op, q.now()); err != nil {
		return QueuedOperation{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	stored := op
	q.ops[op.LocalID] = &stored
	return op, nil
}

func (q *MemoryQueue) Pending(_ context.Context) ([]QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(func(op *QueuedOperation) bool { return op.Status == StatusQueued }), nil
}

func (q *MemoryQueue) MarkSyncing(_ context.Context, localIDs []string) error {
	return q.transition(localIDs, StatusQueued, StatusSyncing)
}

func (q *MemoryQueue) Requeue(_ context.Context, localIDs []string) error {
	return q.transition(localIDs, StatusSyncing, StatusQueued)
}

func (q *MemoryQueue) transition(localIDs []string, from string, to string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, id := range localIDs {
		op, ok := q.ops[id]
		if !ok {
			return ErrOperationNotFound
		}
		if op.Status != from {
			continue
		}
		op.Status = to
		op.UpdatedAt = now
	}
	return nil
}

func (q *MemoryQueue) ApplyResult(_ context.Context, result domain.SyncResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[result.LocalID]
	if !ok {
		return ErrOperationNotFound
	}

	op.Attempts++
	op.UpdatedAt = q.now()
	op.ServerInvoiceID = result.ServerInvoiceID
	op.Conflicts = result.Conflicts
	op.Error = result.Error

	switch result.Status {
	case domain.SyncStatusSynced:
		op.Status = StatusSynced
	case domain.SyncStatusNeedsReview:
		op.Status = StatusNeedsReview
	default:
		op.Status = StatusFailed
	}
	return nil
}

func (q *MemoryQueue) List(_ context.Context) ([]QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(func(*QueuedOperation) bool { return true }), nil
}

func (q *MemoryQueue) PurgeSynced(_ context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	purged := 0
	for id, op := range q.ops {
		if op.Status == StatusSynced && op.UpdatedAt.Before(olderThan) {
			delete(q.ops, id)
			purged++
		}
	}
	return purged, nil
}

func (q *MemoryQueue) snapshot(keep func(*QueuedOperation) bool) []QueuedOperation {
	out := make([]QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if keep(op) {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].LocalID < out[j].LocalID
	})
	return out
}

func normalizeOperation(op *QueuedOperation, now time.Time) error {
	switch op.Kind {
	case KindInvoice:
		if op.Invoice == nil {
			return errors.New("invoice operation missing invoice data")
		}
	case KindEvent:
		if op.EventType == "" {
			return errors.New("event operation missing event type")
		}
	default:
		return errors.New("unknown operation kind " + op.Kind)
	}

	if op.LocalID == "" {
		op.LocalID = uuid.NewString()
	}
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = op.LocalID
	}
	op.Status = StatusQueued
	op.EnqueuedAt = now
	op.UpdatedAt = now
	op.Attempts = 0
	op.ServerInvoiceID = ""
	op.Conflicts = nil
	op.Error = ""
	return nil
}
