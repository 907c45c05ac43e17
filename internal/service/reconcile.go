package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"medipos/backend/internal/allocation"
	"medipos/backend/internal/domain"
	"medipos/backend/internal/entitlement"
	"medipos/backend/internal/store"
)

var (
	ErrEntitlementRevoked = errors.New("entitlement token revoked")
)

// Reconcile replays a device's offline queue against live server state. The
// verdict per item is three-way: SYNCED (applied, or already applied under the
// same idempotency key), NEEDS_REVIEW (live state conflicts with the queued
// operation; nothing was mutated), or FAILED (malformed or otherwise
// unprocessable). Conflicts are collected exhaustively, not reported one at a
// time, so the pharmacist reviewing an item sees everything wrong with it at
// once.
func (s *Service) Reconcile(ctx context.Context, req domain.SyncRequest) (domain.SyncResponse, error) {
	ent, err := s.signer.Verify(req.Token)
	if err != nil {
		return domain.SyncResponse{}, entitlement.ErrInvalidToken
	}
	revoked, err := s.isTokenRevoked(ctx, ent)
	if err != nil {
		return domain.SyncResponse{}, err
	}
	if revoked {
		return domain.SyncResponse{}, ErrEntitlementRevoked
	}

	deviceCtx := ctx
	if _, ok := ActorFromContext(ctx); !ok {
		deviceCtx = WithActor(ctx, domain.Actor{Username: "device:" + ent.DeviceID, Role: "device"})
	}

	resp := domain.SyncResponse{
		Results: make([]domain.SyncResult, 0, len(req.Invoices)+len(req.Events)),
	}

	// The invoice cap is cumulative per token, not per request: a device
	// cannot reset it by splitting its queue across several sync calls.
	used, err := s.repo.CountTokenInvoices(ctx, ent.TokenID)
	if err != nil {
		return domain.SyncResponse{}, err
	}

	for _, item := range req.Invoices {
		key := item.IdempotencyKey
		if key == "" {
			key = item.LocalID
		}

		// Replays of invoices the server already holds never consume the cap.
		replay := false
		if key != "" {
			if _, err := s.repo.FindInvoiceByIdempotency(ctx, key); err == nil {
				replay = true
			} else if !errors.Is(err, store.ErrNotFound) {
				resp.Results = append(resp.Results, domain.SyncResult{
					LocalID: item.LocalID,
					Status:  domain.SyncStatusFailed,
					Error:   err.Error(),
				})
				continue
			}
		}

		if !replay && used >= ent.MaxOfflineInvoices {
			resp.Results = append(resp.Results, domain.SyncResult{
				LocalID: item.LocalID,
				Status:  domain.SyncStatusFailed,
				Error:   fmt.Sprintf("entitlement allows at most %d offline invoices", ent.MaxOfflineInvoices),
			})
			continue
		}

		result := s.reconcileInvoice(deviceCtx, item)
		if !replay && result.Status == domain.SyncStatusSynced {
			newly, err := s.repo.RecordTokenInvoice(ctx, ent.TokenID, key)
			if err != nil {
				log.Printf("[sync] WARN: failed to record token invoice token=%s key=%s: %v", ent.TokenID, key, err)
			} else if newly {
				used++
			}
		}
		resp.Results = append(resp.Results, result)
	}

	for _, event := range req.Events {
		resp.Results = append(resp.Results, s.reconcileEvent(deviceCtx, event))
	}

	for _, result := range resp.Results {
		resp.Summary.Total++
		switch result.Status {
		case domain.SyncStatusSynced:
			resp.Summary.Succeeded++
		case domain.SyncStatusNeedsReview:
			resp.Summary.NeedsReview++
		default:
			resp.Summary.Failed++
		}
	}

	log.Printf("[sync] device=%s total=%d synced=%d needs_review=%d failed=%d",
		ent.DeviceID, resp.Summary.Total, resp.Summary.Succeeded, resp.Summary.NeedsReview, resp.Summary.Failed)
	return resp, nil
}

// isTokenRevoked consults the revocation cache first and only falls through
// to the repository on a miss. Cache errors degrade to a repository check.
func (s *Service) isTokenRevoked(ctx context.Context, ent domain.Entitlement) (bool, error) {
	if s.revocations != nil {
		revoked, hit, err := s.revocations.IsRevoked(ctx, ent.TokenID)
		if err != nil {
			log.Printf("[sync] WARN: revocation cache lookup failed for token=%s: %v", ent.TokenID, err)
		} else if hit {
			return revoked, nil
		}
	}

	revoked, err := s.repo.IsEntitlementRevoked(ctx, ent.TokenID)
	if err != nil {
		return false, err
	}
	if s.revocations != nil && revoked {
		ttl := time.Until(ent.ExpiresAt)
		if ttl < time.Minute {
			ttl = time.Minute
		}
		if err := s.revocations.MarkRevoked(ctx, ent.TokenID, ttl); err != nil {
			log.Printf("[sync] WARN: revocation cache write failed for token=%s: %v", ent.TokenID, err)
		}
	}
	return revoked, nil
}

func (s *Service) reconcileInvoice(ctx context.Context, item domain.SyncInvoice) domain.SyncResult {
	result := domain.SyncResult{LocalID: item.LocalID}

	idempotencyKey := item.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = item.LocalID
	}
	if idempotencyKey == "" {
		result.Status = domain.SyncStatusFailed
		result.Error = "missing idempotency key and local id"
		return result
	}

	invoiceReq := item.InvoiceData
	invoiceReq.IdempotencyKey = idempotencyKey

	if existing, err := s.repo.FindInvoiceByIdempotency(ctx, idempotencyKey); err == nil {
		result.Status = domain.SyncStatusSynced
		result.ServerInvoiceID = existing.ID
		return result
	} else if !errors.Is(err, store.ErrNotFound) {
		result.Status = domain.SyncStatusFailed
		result.Error = err.Error()
		return result
	}

	conflicts, err := s.collectConflicts(ctx, invoiceReq)
	if err != nil {
		result.Status = domain.SyncStatusFailed
		result.Error = err.Error()
		return result
	}
	if len(conflicts) > 0 {
		result.Status = domain.SyncStatusNeedsReview
		result.Conflicts = conflicts
		return result
	}

	issued, err := s.IssueInvoice(ctx, invoiceReq)
	if err != nil {
		// A conflict surfacing here slipped in between the dry run and the
		// commit. Same verdict as the dry run would have given.
		if conflict, ok := conflictFromError(err); ok {
			result.Status = domain.SyncStatusNeedsReview
			result.Conflicts = []domain.Conflict{conflict}
			return result
		}
		result.Status = domain.SyncStatusFailed
		result.Error = err.Error()
		return result
	}

	result.Status = domain.SyncStatusSynced
	result.ServerInvoiceID = issued.Invoice.ID
	return result
}

// collectConflicts dry-runs an invoice request against live state and returns
// every conflict found, mutating nothing. A non-nil error means the request is
// malformed rather than conflicted.
func (s *Service) collectConflicts(ctx context.Context, req domain.IssueInvoiceRequest) ([]domain.Conflict, error) {
	storeID := req.StoreID
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	lines, err := s.normalizeLines(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	conflicts := make([]domain.Conflict, 0, 2)
	at := s.now()

	for _, line := range lines {
		if line.BatchID != "" {
			batch, err := s.repo.GetBatchByID(ctx, line.BatchID)
			if err != nil {
				if errors.Is(err, store.ErrBatchNotFound) || errors.Is(err, store.ErrNotFound) {
					conflicts = append(conflicts, domain.Conflict{
						Code:    domain.ConflictBatchNotFound,
						DrugSKU: line.DrugSKU,
						BatchID: line.BatchID,
					})
					continue
				}
				return nil, err
			}
			if !allocation.Eligible(*batch, at) && batch.QtyOnHand > 0 {
				conflicts = append(conflicts, domain.Conflict{
					Code:    domain.ConflictBatchExpired,
					DrugSKU: line.DrugSKU,
					BatchID: line.BatchID,
					Detail:  "batch expired " + batch.ExpiryDate.Format("2006-01-02"),
				})
				continue
			}
			if batch.QtyOnHand < line.Qty {
				conflicts = append(conflicts, domain.Conflict{
					Code:         domain.ConflictInsufficientStock,
					DrugSKU:      line.DrugSKU,
					BatchID:      line.BatchID,
					RequiredQty:  line.Qty,
					AvailableQty: batch.QtyOnHand,
				})
			}
			continue
		}

		batches, err := s.repo.EligibleBatches(ctx, storeID, line.DrugSKU, at)
		if err != nil {
			return nil, err
		}
		available := allocation.Available(batches, at)
		if available < line.Qty {
			conflicts = append(conflicts, domain.Conflict{
				Code:         domain.ConflictInsufficientStock,
				DrugSKU:      line.DrugSKU,
				RequiredQty:  line.Qty,
				AvailableQty: available,
			})
		}
	}

	creditPaise := int64(0)
	for _, p := range req.Payments {
		if p.Method == "credit" {
			creditPaise += p.AmountPaise
		}
	}
	if creditPaise > 0 && req.CustomerID != "" {
		customer, err := s.repo.GetCustomerByID(ctx, req.CustomerID)
		if err != nil {
			return nil, err
		}
		if customer.CreditOwedPaise+creditPaise > customer.CreditLimitPaise {
			conflicts = append(conflicts, domain.Conflict{
				Code:   domain.ConflictCreditExceeded,
				Detail: fmt.Sprintf("owed %d + requested %d exceeds limit %d", customer.CreditOwedPaise, creditPaise, customer.CreditLimitPaise),
			})
		}
	}

	return conflicts, nil
}

func (s *Service) reconcileEvent(ctx context.Context, event domain.SyncEvent) domain.SyncResult {
	result := domain.SyncResult{LocalID: event.LocalID}

	idempotencyKey := event.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = event.LocalID
	}
	if idempotencyKey == "" {
		result.Status = domain.SyncStatusFailed
		result.Error = "missing idempotency key and local id"
		return result
	}

	switch event.EventType {
	case domain.EventBatchReceipt:
		if _, err := s.repo.FindAppliedOperation(ctx, idempotencyKey); err == nil {
			result.Status = domain.SyncStatusSynced
			return result
		} else if !errors.Is(err, store.ErrNotFound) {
			result.Status = domain.SyncStatusFailed
			result.Error = err.Error()
			return result
		}

		var receiveReq domain.BatchReceiveRequest
		if err := json.Unmarshal(event.EventData, &receiveReq); err != nil {
			result.Status = domain.SyncStatusFailed
			result.Error = "malformed batch_receipt payload"
			return result
		}
		batch, err := s.ReceiveBatch(ctx, receiveReq)
		if err != nil {
			result.Status = domain.SyncStatusFailed
			result.Error = err.Error()
			return result
		}
		if err := s.repo.RecordAppliedOperation(ctx, idempotencyKey, batch.ID); err != nil && !errors.Is(err, store.ErrDuplicateOperation) {
			log.Printf("[sync] WARN: failed to record applied operation key=%s: %v", idempotencyKey, err)
		}
		result.Status = domain.SyncStatusSynced
		return result

	case domain.EventCreditPayment:
		var paymentEvent domain.CreditPaymentEvent
		if err := json.Unmarshal(event.EventData, &paymentEvent); err != nil {
			result.Status = domain.SyncStatusFailed
			result.Error = "malformed credit_payment payload"
			return result
		}
		_, err := s.repo.ApplyCreditPayment(ctx, paymentEvent.CustomerID, paymentEvent.AmountPaise, idempotencyKey, paymentEvent.Reference)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateOperation) {
				result.Status = domain.SyncStatusSynced
				return result
			}
			result.Status = domain.SyncStatusFailed
			result.Error = err.Error()
			return result
		}
		result.Status = domain.SyncStatusSynced
		return result

	default:
		result.Status = domain.SyncStatusFailed
		result.Error = "unknown event type " + strings.TrimSpace(event.EventType)
		return result
	}
}

func conflictFromError(err error) (domain.Conflict, bool) {
	switch {
	case errors.Is(err, store.ErrBatchNotFound):
		return domain.Conflict{Code: domain.ConflictBatchNotFound}, true
	case errors.Is(err, store.ErrBatchExpired):
		return domain.Conflict{Code: domain.ConflictBatchExpired}, true
	case errors.Is(err, store.ErrInsufficientStock):
		return domain.Conflict{Code: domain.ConflictInsufficientStock}, true
	case errors.Is(err, store.ErrCreditLimitExceeded):
		return domain.Conflict{Code: domain.ConflictCreditExceeded}, true
	}
	return domain.Conflict{}, false
}
