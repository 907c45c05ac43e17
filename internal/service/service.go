package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"medipos/backend/internal/allocation"
	"medipos/backend/internal/cache"
	"medipos/backend/internal/domain"
	"medipos/backend/internal/entitlement"
	"medipos/backend/internal/store"
	"medipos/backend/internal/tax"
	"medipos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Notifier receives the verification payload after an invoice commits.
// Delivery is best effort: a failing notifier never rolls back the invoice.
type Notifier interface {
	InvoiceIssued(ctx context.Context, payload domain.VerificationPayload) error
}

type Config struct {
	DefaultStoreID  string
	SellerGSTIN     string
	SellerStateCode string
}

type Service struct {
	repo            store.Repository
	signer          *entitlement.Signer
	notifier        Notifier
	revocations     cache.RevocationCache
	defaultStoreID  string
	sellerGSTIN     string
	sellerStateCode string
	now             func() time.Time
}

func New(repo store.Repository, signer *entitlement.Signer, cfg Config) *Service {
	if cfg.DefaultStoreID == "" {
		cfg.DefaultStoreID = "main-pharmacy"
	}
	if cfg.SellerGSTIN == "" {
		cfg.SellerGSTIN = "29DEVGSTIN0001"
	}
	if cfg.SellerStateCode == "" {
		cfg.SellerStateCode = "29"
	}

	return &Service{
		repo:            repo,
		signer:          signer,
		defaultStoreID:  cfg.DefaultStoreID,
		sellerGSTIN:     cfg.SellerGSTIN,
		sellerStateCode: cfg.SellerStateCode,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier attaches a post-commit receiver. Optional.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetRevocationCache attaches a cache in front of the persistent revocation
// list. Optional; without it every token check hits the repository.
func (s *Service) SetRevocationCache(c cache.RevocationCache) {
	s.revocations = c
}

func (s *Service) ListDrugs(ctx context.Context) ([]domain.Drug, error) {
	return s.repo.ListDrugs(ctx)
}

func (s *Service) CreateDrug(ctx context.Context, req domain.DrugCreateRequest) (domain.Drug, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Drug{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		return domain.Drug{}, store.ErrInvalidOperation
	}
	if req.UnitPricePaise < 1 || req.TaxRateBP < 0 || req.TaxRateBP > 10000 {
		return domain.Drug{}, store.ErrInvalidOperation
	}

	created, err := s.repo.CreateDrug(ctx, domain.Drug{
		SKU:            req.SKU,
		Name:           req.Name,
		HSNCode:        strings.TrimSpace(req.HSNCode),
		UnitPricePaise: req.UnitPricePaise,
		TaxRateBP:      req.TaxRateBP,
		ScheduleClass:  strings.TrimSpace(req.ScheduleClass),
		Active:         true,
	})
	if err != nil {
		return domain.Drug{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "drug_create", "drug", created.SKU, fmt.Sprintf("name=%s,price=%d,rate_bp=%d", created.Name, created.UnitPricePaise, created.TaxRateBP))
	return *created, nil
}

func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.Batch, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.DrugSKU = strings.ToUpper(strings.TrimSpace(req.DrugSKU))
	if req.DrugSKU == "" || req.Qty < 1 {
		return domain.Batch{}, store.ErrInvalidOperation
	}

	expiry, err := time.Parse("2006-01-02", strings.TrimSpace(req.ExpiryDate))
	if err != nil {
		return domain.Batch{}, fmt.Errorf("expiry_date must be YYYY-MM-DD: %w", err)
	}
	if expiry.Before(dateOnly(s.now())) {
		return domain.Batch{}, fmt.Errorf("cannot receive an already expired batch")
	}

	if _, err := s.repo.GetDrugBySKU(ctx, req.DrugSKU); err != nil {
		return domain.Batch{}, err
	}

	created, err := s.repo.CreateBatch(ctx, domain.Batch{
		StoreID:     req.StoreID,
		DrugSKU:     req.DrugSKU,
		LotCode:     strings.TrimSpace(req.LotCode),
		ExpiryDate:  expiry.UTC(),
		QtyReceived: req.Qty,
		QtyOnHand:   req.Qty,
		CostPaise:   req.CostPaise,
		ReceivedAt:  s.now(),
	})
	if err != nil {
		return domain.Batch{}, err
	}

	s.logAudit(ctx, req.StoreID, "batch_receive", "batch", created.ID, fmt.Sprintf("sku=%s,lot=%s,qty=%d", created.DrugSKU, created.LotCode, created.QtyReceived))
	return *created, nil
}

func (s *Service) ListBatches(ctx context.Context, storeID string, sku string, includeExpired bool, limit int) (domain.BatchListResponse, error) {
	batches, err := s.repo.ListBatches(ctx, storeID, strings.ToUpper(strings.TrimSpace(sku)), includeExpired, limit)
	if err != nil {
		return domain.BatchListResponse{}, err
	}
	return domain.BatchListResponse{Batches: batches}, nil
}

// IssueInvoice runs the whole issuance pipeline: idempotency lookup, line
// normalization, stock resolution, tax computation, payment validation and the
// atomic commit. A request that tenders less than the grand total commits as a
// DRAFT with no invoice number; the number is only consumed by ISSUED
// invoices.
func (s *Service) IssueInvoice(ctx context.Context, req domain.IssueInvoiceRequest) (domain.InvoiceResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if req.SellerGSTIN == "" {
		req.SellerGSTIN = s.sellerGSTIN
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if len(req.Lines) == 0 {
		return domain.InvoiceResponse{}, store.ErrInvalidOperation
	}

	if existing, err := s.repo.FindInvoiceByIdempotency(ctx, req.IdempotencyKey); err == nil {
		dup := *existing
		dup.Duplicate = true
		return domain.InvoiceResponse{Invoice: dup}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.InvoiceResponse{}, err
	}

	var customer *domain.Customer
	if req.CustomerID != "" {
		found, err := s.repo.GetCustomerByID(ctx, req.CustomerID)
		if err != nil {
			return domain.InvoiceResponse{}, err
		}
		customer = found
	}

	jurisdiction := tax.Jurisdiction{
		SellerStateCode: s.sellerStateCode,
		BuyerStateCode:  strings.TrimSpace(req.BuyerStateCode),
	}
	if jurisdiction.BuyerStateCode == "" && customer != nil {
		jurisdiction.BuyerStateCode = customer.StateCode
	}
	supplyType, err := tax.Classify(jurisdiction)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	lines, err := s.normalizeLines(ctx, req.Lines)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	breakdowns, totals, err := tax.ComputeInvoice(lines, jurisdiction, req.Charges)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	invoiceLines, err := s.resolveStock(ctx, req.StoreID, lines, breakdowns)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	status, err := validatePayments(req.Payments, totals.GrandTotalPaise, customer)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	var buyerGSTIN string
	if customer != nil {
		buyerGSTIN = customer.GSTIN
	}

	invoice := domain.Invoice{
		ID:             xid.New("inv"),
		StoreID:        req.StoreID,
		SellerGSTIN:    req.SellerGSTIN,
		Status:         status,
		CustomerID:     req.CustomerID,
		BuyerGSTIN:     buyerGSTIN,
		PlaceOfSupply:  jurisdiction.PlaceOfSupply(),
		SupplyType:     supplyType,
		Lines:          invoiceLines,
		Totals:         totals,
		Payments:       req.Payments,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now(),
	}

	committed, err := s.repo.CommitInvoice(ctx, invoice)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	s.logAudit(ctx, req.StoreID, "invoice_issue", "invoice", committed.ID,
		fmt.Sprintf("number=%s,status=%s,total=%d,supply=%s", committed.InvoiceNumber, committed.Status, committed.Totals.GrandTotalPaise, committed.SupplyType))

	if !committed.Duplicate && committed.Status == domain.InvoiceStatusIssued {
		s.notifyIssued(ctx, *committed)
	}

	return domain.InvoiceResponse{Invoice: *committed}, nil
}

func (s *Service) LookupInvoiceByIdempotency(ctx context.Context, idempotencyKey string) (domain.InvoiceLookupResponse, error) {
	if idempotencyKey == "" {
		return domain.InvoiceLookupResponse{}, store.ErrInvalidOperation
	}
	invoice, err := s.repo.FindInvoiceByIdempotency(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.InvoiceLookupResponse{Found: false}, nil
		}
		return domain.InvoiceLookupResponse{}, err
	}
	return domain.InvoiceLookupResponse{Found: true, Invoice: invoice}, nil
}

// normalizeLines turns inbound cart lines into canonical line items: SKUs are
// upper-cased, missing prices and rates are filled from the drug catalog, and
// percentage discounts become absolute amounts.
func (s *Service) normalizeLines(ctx context.Context, cart []domain.CartLine) ([]domain.LineItem, error) {
	skus := make([]string, 0, len(cart))
	for _, line := range cart {
		skus = append(skus, strings.ToUpper(strings.TrimSpace(line.DrugSKU)))
	}
	drugs, err := s.repo.GetDrugsBySKUs(ctx, skus)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.LineItem, 0, len(cart))
	for _, line := range cart {
		sku := strings.ToUpper(strings.TrimSpace(line.DrugSKU))
		drug, exists := drugs[sku]
		if !exists {
			return nil, fmt.Errorf("%w: unknown drug %s", store.ErrInvalidOperation, sku)
		}
		if line.Qty < 1 {
			return nil, fmt.Errorf("%w: qty must be positive for %s", store.ErrInvalidOperation, sku)
		}
		if line.DiscountPaise != 0 && line.DiscountBP != 0 {
			return nil, fmt.Errorf("%w: %s sets both absolute and percentage discount", store.ErrInvalidOperation, sku)
		}

		unitPrice := line.UnitPricePaise
		if unitPrice == 0 {
			unitPrice = drug.UnitPricePaise
		}
		rate := line.TaxRateBP
		if rate == 0 {
			rate = drug.TaxRateBP
		}

		discount := line.DiscountPaise
		if line.DiscountBP != 0 {
			if line.DiscountBP < 0 || line.DiscountBP > 10000 {
				return nil, fmt.Errorf("%w: discount_bp out of range for %s", store.ErrInvalidOperation, sku)
			}
			gross := int64(line.Qty) * unitPrice
			discount = roundDiv(gross*int64(line.DiscountBP), 10000)
		}

		lines = append(lines, domain.LineItem{
			DrugSKU:          sku,
			BatchID:          strings.TrimSpace(line.BatchID),
			Qty:              line.Qty,
			UnitPricePaise:   unitPrice,
			TaxRateBP:        rate,
			PriceIncludesTax: line.PriceIncludesTax,
			DiscountPaise:    discount,
		})
	}
	return lines, nil
}

// resolveStock binds every line to concrete batches. A line naming a batch is
// pinned to it; otherwise the planner allocates first-expiry-first-out across
// the drug's eligible batches. One cart line may fan out into several invoice
// lines; its tax amounts are apportioned by quantity so the sums are
// preserved exactly.
func (s *Service) resolveStock(ctx context.Context, storeID string, lines []domain.LineItem, breakdowns []domain.TaxBreakdown) ([]domain.InvoiceLine, error) {
	at := s.now()
	invoiceLines := make([]domain.InvoiceLine, 0, len(lines))

	for i, line := range lines {
		var allocations []allocation.Allocation

		if line.BatchID != "" {
			batch, err := s.repo.GetBatchByID(ctx, line.BatchID)
			if err != nil {
				return nil, err
			}
			if batch.DrugSKU != line.DrugSKU {
				return nil, fmt.Errorf("%w: batch %s holds %s not %s", store.ErrInvalidOperation, batch.ID, batch.DrugSKU, line.DrugSKU)
			}
			if !allocation.Eligible(*batch, at) {
				if batch.QtyOnHand > 0 {
					return nil, store.ErrBatchExpired
				}
				return nil, store.ErrInsufficientStock
			}
			if batch.QtyOnHand < line.Qty {
				return nil, store.ErrInsufficientStock
			}
			allocations = []allocation.Allocation{{BatchID: batch.ID, Qty: line.Qty}}
		} else {
			batches, err := s.repo.EligibleBatches(ctx, storeID, line.DrugSKU, at)
			if err != nil {
				return nil, err
			}
			allocations, err = allocation.Plan(batches, line.Qty, at)
			if err != nil {
				return nil, err
			}
		}

		invoiceLines = append(invoiceLines, expandLine(line, breakdowns[i], allocations)...)
	}
	return invoiceLines, nil
}

// expandLine splits one cart line's tax breakdown over its batch allocations.
// Each amount is apportioned by allocated quantity with the remainder going to
// the last slice, so the per-batch rows always sum back to the line totals.
func expandLine(line domain.LineItem, breakdown domain.TaxBreakdown, allocations []allocation.Allocation) []domain.InvoiceLine {
	qtys := make([]int, len(allocations))
	for i, alloc := range allocations {
		qtys[i] = alloc.Qty
	}

	taxable := apportion(breakdown.TaxablePaise, qtys)
	cgst := apportion(breakdown.CGSTPaise, qtys)
	sgst := apportion(breakdown.SGSTPaise, qtys)
	igst := apportion(breakdown.IGSTPaise, qtys)
	total := apportion(breakdown.LineTotalPaise, qtys)

	out := make([]domain.InvoiceLine, len(allocations))
	for i, alloc := range allocations {
		out[i] = domain.InvoiceLine{
			DrugSKU:        line.DrugSKU,
			BatchID:        alloc.BatchID,
			Qty:            alloc.Qty,
			UnitPricePaise: line.UnitPricePaise,
			TaxRateBP:      line.TaxRateBP,
			TaxablePaise:   taxable[i],
			CGSTPaise:      cgst[i],
			SGSTPaise:      sgst[i],
			IGSTPaise:      igst[i],
			LineTotalPaise: total[i],
		}
	}
	return out
}

// apportion divides total across slices proportionally to qtys. The last
// slice absorbs rounding so the parts always sum to the whole.
func apportion(total int64, qtys []int) []int64 {
	sumQty := 0
	for _, q := range qtys {
		sumQty += q
	}
	out := make([]int64, len(qtys))
	remaining := total
	for i, q := range qtys {
		if i == len(qtys)-1 {
			out[i] = remaining
			break
		}
		share := roundDiv(total*int64(q), int64(sumQty))
		out[i] = share
		remaining -= share
	}
	return out
}

// validatePayments checks tender against the grand total. Overpayment is
// rejected outright; underpayment commits the invoice as a numberless draft.
func validatePayments(payments []domain.Payment, grandTotalPaise int64, customer *domain.Customer) (string, error) {
	tendered := int64(0)
	creditPaise := int64(0)
	for _, p := range payments {
		if !isSupportedPaymentMethod(p.Method) {
			return "", fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidOperation, p.Method)
		}
		if p.AmountPaise < 1 {
			return "", fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidOperation)
		}
		if p.Method != "cash" && strings.TrimSpace(p.Reference) == "" && p.Method != "credit" {
			return "", fmt.Errorf("%w: %s payment requires a reference", store.ErrInvalidOperation, p.Method)
		}
		tendered += p.AmountPaise
		if p.Method == "credit" {
			creditPaise += p.AmountPaise
		}
	}

	if creditPaise > 0 {
		if customer == nil {
			return "", fmt.Errorf("%w: credit payment requires a customer", store.ErrInvalidOperation)
		}
		if customer.CreditOwedPaise+creditPaise > customer.CreditLimitPaise {
			return "", store.ErrCreditLimitExceeded
		}
	}

	if tendered > grandTotalPaise {
		return "", store.ErrPaymentMismatch
	}
	if tendered < grandTotalPaise {
		return domain.InvoiceStatusDraft, nil
	}
	return domain.InvoiceStatusIssued, nil
}

func (s *Service) notifyIssued(ctx context.Context, invoice domain.Invoice) {
	payload, err := buildVerificationPayload(invoice)
	if err != nil {
		log.Printf("[service] WARN: failed to build verification payload invoice=%s: %v", invoice.ID, err)
		return
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.InvoiceIssued(ctx, payload); err != nil {
		log.Printf("[service] WARN: post-commit notification failed invoice=%s: %v", invoice.ID, err)
	}
}

func buildVerificationPayload(invoice domain.Invoice) (domain.VerificationPayload, error) {
	qrSource, err := json.Marshal(map[string]any{
		"invoiceNumber": invoice.InvoiceNumber,
		"sellerGstin":   invoice.SellerGSTIN,
		"grandTotal":    invoice.Totals.GrandTotalPaise,
		"issuedAt":      invoice.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return domain.VerificationPayload{}, err
	}

	return domain.VerificationPayload{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		SellerGSTIN:   invoice.SellerGSTIN,
		GrandTotal:    invoice.Totals.GrandTotalPaise,
		QRBase64:      base64.StdEncoding.EncodeToString(qrSource),
		PreviewText:   fmt.Sprintf("%s | GSTIN %s | Rs %d.%02d", invoice.InvoiceNumber, invoice.SellerGSTIN, invoice.Totals.GrandTotalPaise/100, invoice.Totals.GrandTotalPaise%100),
	}, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CreditLimitPaise < 0 {
		return domain.Customer{}, store.ErrInvalidOperation
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:             req.Name,
		GSTIN:            strings.TrimSpace(req.GSTIN),
		StateCode:        strings.TrimSpace(req.StateCode),
		CreditLimitPaise: req.CreditLimitPaise,
		CreatedAt:        s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s,limit=%d", created.Name, created.CreditLimitPaise))
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) RecordCreditPayment(ctx context.Context, customerID string, req domain.CreditPaymentRequest) (domain.CreditLedgerEntry, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	entry, err := s.repo.ApplyCreditPayment(ctx, customerID, req.AmountPaise, req.IdempotencyKey, req.Reference)
	if err != nil {
		return domain.CreditLedgerEntry{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "credit_payment", "customer", customerID, fmt.Sprintf("amount=%d", req.AmountPaise))
	return *entry, nil
}

func (s *Service) ListCreditLedger(ctx context.Context, customerID string, limit int) ([]domain.CreditLedgerEntry, error) {
	return s.repo.ListCreditLedger(ctx, customerID, limit)
}

func (s *Service) IssueEntitlement(ctx context.Context, req domain.EntitlementIssueRequest) (domain.EntitlementIssueResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.EntitlementIssueResponse{}, fmt.Errorf("admin role required")
	}

	token, ent, err := s.signer.Mint(req)
	if err != nil {
		return domain.EntitlementIssueResponse{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "entitlement_issue", "entitlement", ent.TokenID, fmt.Sprintf("device=%s,max_invoices=%d,expires=%s", ent.DeviceID, ent.MaxOfflineInvoices, ent.ExpiresAt.Format(time.RFC3339)))
	return domain.EntitlementIssueResponse{Token: token, Entitlement: ent}, nil
}

func (s *Service) RevokeEntitlement(ctx context.Context, req domain.EntitlementRevokeRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if strings.TrimSpace(req.TokenID) == "" {
		return store.ErrInvalidOperation
	}

	// Revocations only need to outlive the longest possible token.
	retention := 30 * 24 * time.Hour
	if err := s.repo.RevokeEntitlement(ctx, req.TokenID, s.now().Add(retention)); err != nil {
		return err
	}
	if s.revocations != nil {
		if err := s.revocations.MarkRevoked(ctx, req.TokenID, retention); err != nil {
			log.Printf("[entitlement] WARN: revocation cache write failed for token=%s: %v", req.TokenID, err)
		}
	}
	s.logAudit(ctx, s.defaultStoreID, "entitlement_revoke", "entitlement", req.TokenID, "")
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	day := s.now()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
		day = parsed
	}
	from := dateOnly(day)
	return s.repo.ListAuditLogs(ctx, storeID, from, from.Add(24*time.Hour), limit)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "upi", "credit":
		return true
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func roundDiv(n int64, d int64) int64 {
	if d == 0 {
		return 0
	}
	if n < 0 {
		return -((-n + d/2) / d)
	}
	return (n + d/2) / d
}
