package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/entitlement"
)

var (
	ErrNothingPending = errors.New("no queued operations")
	// ErrTokenExpired means the device's entitlement token has lapsed; no
	// further offline operations may be captured until a fresh one is fetched.
	ErrTokenExpired = errors.New("entitlement token expired")
	// ErrOfflineLimitReached means the token's offline invoice allowance is
	// used up. Events may still be captured; invoices may not.
	ErrOfflineLimitReached = errors.New("offline invoice limit reached")
)

// Transport delivers one sync request to the server. Implementations must
// treat a non-2xx response as an error: the engine retries the whole batch on
// transport failure and relies on server-side idempotency keys to keep that
// safe.
type Transport interface {
	Sync(ctx context.Context, req domain.SyncRequest) (domain.SyncResponse, error)
}

// HTTPTransport posts sync batches to the server's sync endpoint.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Sync(ctx context.Context, req domain.SyncRequest) (domain.SyncResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.SyncResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/sync", bytes.NewReader(payload))
	if err != nil {
		return domain.SyncResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return domain.SyncResponse{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return domain.SyncResponse{}, fmt.Errorf("sync endpoint returned %d: %s", httpResp.StatusCode, string(body))
	}

	var resp domain.SyncResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return domain.SyncResponse{}, err
	}
	return resp, nil
}

// Engine drains the queue against the server. One SyncOnce call sends the
// whole pending batch; transport failures back off exponentially and retry
// the batch as a unit. Items the server has already applied come back SYNCED
// through their idempotency keys, so re-sending is harmless.
type Engine struct {
	queue       Queue
	transport   Transport
	token       string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

func NewEngine(queue Queue, transport Transport, token string) *Engine {
	return &Engine{
		queue:       queue,
		transport:   transport,
		token:       token,
		maxAttempts: 5,
		baseDelay:   time.Second,
		maxDelay:    2 * time.Minute,
		sleep:       sleepContext,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetToken swaps the entitlement token, e.g. after the device fetches a fresh
// one while online.
func (e *Engine) SetToken(token string) {
	e.token = token
}

// Enqueue captures an offline operation after checking it against the
// device's entitlement token. Captures are refused outright when the token
// has expired, and invoice captures are refused once the queue already holds
// the token's full invoice allowance. The server re-checks both on sync, so
// this is a local guard, not the enforcement of record.
func (e *Engine) Enqueue(ctx context.Context, op QueuedOperation) (QueuedOperation, error) {
	ent, err := entitlement.Inspect(e.token)
	if err != nil {
		return QueuedOperation{}, err
	}
	if !e.now().Before(ent.ExpiresAt) {
		return QueuedOperation{}, ErrTokenExpired
	}

	if op.Kind == KindInvoice {
		existing, err := e.queue.List(ctx)
		if err != nil {
			return QueuedOperation{}, err
		}
		invoices := 0
		for _, queued := range existing {
			if queued.Kind == KindInvoice {
				invoices++
			}
		}
		if invoices >= ent.MaxOfflineInvoices {
			return QueuedOperation{}, ErrOfflineLimitReached
		}
	}

	return e.queue.Enqueue(ctx, op)
}

// Run triggers SyncOnce immediately and then on a fixed schedule until the
// context is cancelled. Callers typically start it when connectivity returns.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	if _, err := e.SyncOnce(ctx); err != nil && !errors.Is(err, ErrNothingPending) {
		log.Printf("[offline] background sync failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.SyncOnce(ctx); err != nil && !errors.Is(err, ErrNothingPending) {
				log.Printf("[offline] background sync failed: %v", err)
			}
		}
	}
}

// SyncOnce sends every QUEUED operation and applies the server's verdicts.
// Returns ErrNothingPending when the queue is empty, and the transport error
// after the final failed attempt (operations stay QUEUED in that case).
func (e *Engine) SyncOnce(ctx context.Context) (domain.SyncSummary, error) {
	pending, err := e.queue.Pending(ctx)
	if err != nil {
		return domain.SyncSummary{}, err
	}
	if len(pending) == 0 {
		return domain.SyncSummary{}, ErrNothingPending
	}

	req := domain.SyncRequest{Token: e.token}
	localIDs := make([]string, 0, len(pending))
	for _, op := range pending {
		localIDs = append(localIDs, op.LocalID)
		switch op.Kind {
		case KindInvoice:
			req.Invoices = append(req.Invoices, domain.SyncInvoice{
				LocalID:        op.LocalID,
				IdempotencyKey: op.IdempotencyKey,
				InvoiceData:    *op.Invoice,
			})
		case KindEvent:
			req.Events = append(req.Events, domain.SyncEvent{
				LocalID:        op.LocalID,
				IdempotencyKey: op.IdempotencyKey,
				EventType:      op.EventType,
				EventData:      op.EventData,
			})
		}
	}

	if err := e.queue.MarkSyncing(ctx, localIDs); err != nil {
		return domain.SyncSummary{}, err
	}

	resp, err := e.deliver(ctx, req)
	if err != nil {
		if requeueErr := e.queue.Requeue(ctx, localIDs); requeueErr != nil {
			log.Printf("[offline] WARN: failed to requeue after transport failure: %v", requeueErr)
		}
		return domain.SyncSummary{}, err
	}

	for _, result := range resp.Results {
		if err := e.queue.ApplyResult(ctx, result); err != nil {
			log.Printf("[offline] WARN: failed to record verdict local_id=%s: %v", result.LocalID, err)
		}
	}
	return resp.Summary, nil
}

// deliver retries the transport with exponential backoff. Verdicts inside a
// successful response are never retried; only transport-level failures are.
func (e *Engine) deliver(ctx context.Context, req domain.SyncRequest) (domain.SyncResponse, error) {
	delay := e.baseDelay
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		resp, err := e.transport.Sync(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		log.Printf("[offline] sync attempt %d/%d failed: %v", attempt, e.maxAttempts, err)

		if attempt == e.maxAttempts {
			break
		}
		if err := e.sleep(ctx, delay); err != nil {
			return domain.SyncResponse{}, err
		}
		delay *= 2
		if delay > e.maxDelay {
			delay = e.maxDelay
		}
	}
	return domain.SyncResponse{}, lastErr
}

// Cleanup drops SYNCED operations older than retention.
func (e *Engine) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	return e.queue.PurgeSynced(ctx, time.Now().UTC().Add(-retention))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
