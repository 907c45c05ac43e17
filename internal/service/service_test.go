package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/entitlement"
	"medipos/backend/internal/store"
	"medipos/backend/internal/store/memory"
)

const (
	testGSTIN     = "29TESTGSTIN01"
	testStateCode = "29"
	testStoreID   = "main-pharmacy"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	ctx := context.Background()

	drugs := []domain.Drug{
		{SKU: "DRG-A", Name: "Drug A", HSNCode: "3004", UnitPricePaise: 5000, TaxRateBP: 1200, Active: true},
		{SKU: "DRG-B", Name: "Drug B", HSNCode: "3004", UnitPricePaise: 1000, TaxRateBP: 1800, Active: true},
	}
	for _, d := range drugs {
		if _, err := repo.CreateDrug(ctx, d); err != nil {
			t.Fatalf("seed drug %s: %v", d.SKU, err)
		}
	}

	now := time.Now().UTC()
	batches := []domain.Batch{
		{ID: "batch-a-1", StoreID: testStoreID, DrugSKU: "DRG-A", LotCode: "A1", ExpiryDate: now.AddDate(0, 6, 0), QtyReceived: 50, QtyOnHand: 50, ReceivedAt: now.AddDate(0, -1, 0)},
		{ID: "batch-b-1", StoreID: testStoreID, DrugSKU: "DRG-B", LotCode: "B1", ExpiryDate: now.AddDate(0, 6, 0), QtyReceived: 50, QtyOnHand: 50, ReceivedAt: now.AddDate(0, -1, 0)},
	}
	for _, b := range batches {
		if _, err := repo.CreateBatch(ctx, b); err != nil {
			t.Fatalf("seed batch %s: %v", b.ID, err)
		}
	}

	signer := entitlement.NewSigner("test-secret", time.Hour, 10)
	svc := New(repo, signer, Config{
		DefaultStoreID:  testStoreID,
		SellerGSTIN:     testGSTIN,
		SellerStateCode: testStateCode,
	})
	return svc, repo
}

func TestIssueInvoiceSplitsGSTForSameJurisdiction(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-gst-split",
		Lines: []domain.CartLine{
			{DrugSKU: "DRG-A", Qty: 2},
			{DrugSKU: "DRG-B", Qty: 1},
		},
		Payments: []domain.Payment{{Method: "cash", AmountPaise: 12380}},
	})
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}

	inv := resp.Invoice
	if inv.Status != domain.InvoiceStatusIssued {
		t.Fatalf("status = %s, want ISSUED", inv.Status)
	}
	if inv.SupplyType != "SAME_JURISDICTION" {
		t.Fatalf("supply type = %s", inv.SupplyType)
	}
	if inv.Totals.TaxablePaise != 11000 {
		t.Fatalf("taxable = %d, want 11000", inv.Totals.TaxablePaise)
	}
	if inv.Totals.CGSTPaise != 690 || inv.Totals.SGSTPaise != 690 {
		t.Fatalf("cgst/sgst = %d/%d, want 690/690", inv.Totals.CGSTPaise, inv.Totals.SGSTPaise)
	}
	if inv.Totals.IGSTPaise != 0 {
		t.Fatalf("igst = %d, want 0", inv.Totals.IGSTPaise)
	}
	if inv.Totals.GrandTotalPaise != 12380 {
		t.Fatalf("grand total = %d, want 12380", inv.Totals.GrandTotalPaise)
	}
	if inv.InvoiceNumber == "" || inv.Sequence != 1 {
		t.Fatalf("invoice number/sequence = %q/%d", inv.InvoiceNumber, inv.Sequence)
	}
	wantNumber := fmt.Sprintf("INV-%s-%06d", testGSTIN, 1)
	if inv.InvoiceNumber != wantNumber {
		t.Fatalf("invoice number = %q, want %q", inv.InvoiceNumber, wantNumber)
	}
}

func TestIssueInvoiceCrossJurisdictionChargesIGST(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-igst",
		BuyerStateCode: "27",
		Lines:          []domain.CartLine{{DrugSKU: "DRG-A", Qty: 1}},
		Payments:       []domain.Payment{{Method: "cash", AmountPaise: 5600}},
	})
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}

	inv := resp.Invoice
	if inv.SupplyType != "CROSS_JURISDICTION" {
		t.Fatalf("supply type = %s", inv.SupplyType)
	}
	if inv.PlaceOfSupply != "27" {
		t.Fatalf("place of supply = %s, want 27", inv.PlaceOfSupply)
	}
	if inv.Totals.IGSTPaise != 600 {
		t.Fatalf("igst = %d, want 600", inv.Totals.IGSTPaise)
	}
	if inv.Totals.CGSTPaise != 0 || inv.Totals.SGSTPaise != 0 {
		t.Fatalf("cgst/sgst = %d/%d, want 0/0", inv.Totals.CGSTPaise, inv.Totals.SGSTPaise)
	}
}

func TestIssueInvoiceInclusivePriceBacksOutTax(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-inclusive",
		Lines: []domain.CartLine{{
			DrugSKU:          "DRG-A",
			Qty:              1,
			UnitPricePaise:   9999,
			PriceIncludesTax: true,
		}},
		Payments: []domain.Payment{{Method: "cash", AmountPaise: 9999}},
	})
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}

	totals := resp.Invoice.Totals
	if totals.TaxablePaise != 8928 {
		t.Fatalf("taxable = %d, want 8928", totals.TaxablePaise)
	}
	if totals.CGSTPaise != 536 || totals.SGSTPaise != 536 {
		t.Fatalf("cgst/sgst = %d/%d, want 536/536", totals.CGSTPaise, totals.SGSTPaise)
	}
	if totals.RoundingPaise != -1 {
		t.Fatalf("rounding = %d, want -1", totals.RoundingPaise)
	}
	if totals.GrandTotalPaise != 9999 {
		t.Fatalf("grand total = %d, want advertised 9999", totals.GrandTotalPaise)
	}
}

func TestIssueInvoiceIdempotentReplay(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	req := domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-replay",
		Lines:          []domain.CartLine{{DrugSKU: "DRG-A", Qty: 2}},
		Payments:       []domain.Payment{{Method: "cash", AmountPaise: 11200}},
	}

	first, err := svc.IssueInvoice(ctx, req)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if first.Invoice.Duplicate {
		t.Fatalf("first issue flagged duplicate")
	}

	second, err := svc.IssueInvoice(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Invoice.Duplicate {
		t.Fatalf("replay not flagged duplicate")
	}
	if second.Invoice.ID != first.Invoice.ID {
		t.Fatalf("replay returned a different invoice")
	}

	batch, err := repo.GetBatchByID(ctx, "batch-a-1")
	if err != nil {
		t.Fatalf("reload batch: %v", err)
	}
	if batch.QtyOnHand != 48 {
		t.Fatalf("qty on hand = %d, want 48 (deducted once)", batch.QtyOnHand)
	}
}

func TestIssueInvoiceAllocatesEarliestExpiryFirst(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := repo.CreateDrug(ctx, domain.Drug{SKU: "DRG-F", Name: "Drug F", HSNCode: "3004", UnitPricePaise: 2000, TaxRateBP: 1200, Active: true}); err != nil {
		t.Fatalf("seed drug: %v", err)
	}
	seed := []domain.Batch{
		{ID: "batch-f-late", StoreID: testStoreID, DrugSKU: "DRG-F", LotCode: "F-LATE", ExpiryDate: now.AddDate(1, 0, 0), QtyReceived: 50, QtyOnHand: 50, ReceivedAt: now.AddDate(0, -2, 0)},
		{ID: "batch-f-early", StoreID: testStoreID, DrugSKU: "DRG-F", LotCode: "F-EARLY", ExpiryDate: now.AddDate(0, 1, 0), QtyReceived: 3, QtyOnHand: 3, ReceivedAt: now.AddDate(0, -1, 0)},
	}
	for _, b := range seed {
		if _, err := repo.CreateBatch(ctx, b); err != nil {
			t.Fatalf("seed batch %s: %v", b.ID, err)
		}
	}

	resp, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-fefo",
		Lines:          []domain.CartLine{{DrugSKU: "DRG-F", Qty: 5}},
		Payments:       []domain.Payment{{Method: "cash", AmountPaise: 11200}},
	})
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}

	lines := resp.Invoice.Lines
	if len(lines) != 2 {
		t.Fatalf("line count = %d, want 2 (split across batches)", len(lines))
	}
	if lines[0].BatchID != "batch-f-early" || lines[0].Qty != 3 {
		t.Fatalf("first slice = %s qty %d, want batch-f-early qty 3", lines[0].BatchID, lines[0].Qty)
	}
	if lines[1].BatchID != "batch-f-late" || lines[1].Qty != 2 {
		t.Fatalf("second slice = %s qty %d, want batch-f-late qty 2", lines[1].BatchID, lines[1].Qty)
	}

	var taxable, cgst, sgst int64
	for _, line := range lines {
		taxable += line.TaxablePaise
		cgst += line.CGSTPaise
		sgst += line.SGSTPaise
	}
	if taxable != resp.Invoice.Totals.TaxablePaise || cgst != resp.Invoice.Totals.CGSTPaise || sgst != resp.Invoice.Totals.SGSTPaise {
		t.Fatalf("apportioned slices do not sum back to totals")
	}
}

func TestIssueInvoiceUnderpaidCommitsDraftWithoutNumber(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	draft, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-draft",
		Lines:          []domain.CartLine{{DrugSKU: "DRG-A", Qty: 1}},
		Payments:       []domain.Payment{{Method: "cash", AmountPaise: 1000}},
	})
	if err != nil {
		t.Fatalf("issue draft: %v", err)
	}
	if draft.Invoice.Status != domain.InvoiceStatusDraft {
		t.Fatalf("status = %s, want DRAFT", draft.Invoice.Status)
	}
	if draft.Invoice.InvoiceNumber != "" || draft.Invoice.Sequence != 0 {
		t.Fatalf("draft consumed an invoice number: %q/%d", draft.Invoice.InvoiceNumber, draft.Invoice.Sequence)
	}

	issued, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-after-draft",
		Lines:          []domain.CartLine{{DrugSKU: "DRG-A", Qty: 1}},
		Payments:       []domain.Payment{{Method: "cash", AmountPaise: 5600}},
	})
	if err != nil {
		t.Fatalf("issue after draft: %v", err)
	}
	if issued.Invoice.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1 (draft must not consume a number)", issued.Invoice.Sequence)
	}
}

func TestIssueInvoiceRejectsOverpayment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-overpay",
		Lines:          []domain.CartLine{{DrugSKU: "DRG-A", Qty: 1}},
		Payments:       []domain.Payment{{Method: "cash", AmountPaise: 9000}},
	})
	if !errors.Is(err, store.ErrPaymentMismatch) {
		t.Fatalf("err = %v, want ErrPaymentMismatch", err)
	}
}

func TestIssueInvoiceEnforcesCreditLimit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	customer, err := repo.CreateCustomer(ctx, domain.Customer{
		Name:             "Tight Limit Clinic",
		StateCode:        testStateCode,
		CreditLimitPaise: 1000,
	})
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	_, err = svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-credit",
		CustomerID:     customer.ID,
		Lines:          []domain.CartLine{{DrugSKU: "DRG-A", Qty: 1}},
		Payments:       []domain.Payment{{Method: "credit", AmountPaise: 5600}},
	})
	if !errors.Is(err, store.ErrCreditLimitExceeded) {
		t.Fatalf("err = %v, want ErrCreditLimitExceeded", err)
	}

	batch, err := repo.GetBatchByID(ctx, "batch-a-1")
	if err != nil {
		t.Fatalf("reload batch: %v", err)
	}
	if batch.QtyOnHand != 50 {
		t.Fatalf("rejected sale deducted stock: qty on hand = %d", batch.QtyOnHand)
	}
}

func TestIssueInvoiceCreditSaleUpdatesLedger(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	customer, err := repo.CreateCustomer(ctx, domain.Customer{
		Name:             "Ledger Clinic",
		StateCode:        testStateCode,
		CreditLimitPaise: 100000,
	})
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	if _, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
		IdempotencyKey: "idem-ledger",
		CustomerID:     customer.ID,
		Lines:          []domain.CartLine{{DrugSKU: "DRG-A", Qty: 1}},
		Payments:       []domain.Payment{{Method: "credit", AmountPaise: 5600}},
	}); err != nil {
		t.Fatalf("issue credit sale: %v", err)
	}

	reloaded, err := repo.GetCustomerByID(ctx, customer.ID)
	if err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if reloaded.CreditOwedPaise != 5600 {
		t.Fatalf("owed = %d, want 5600", reloaded.CreditOwedPaise)
	}

	entries, err := svc.ListCreditLedger(ctx, customer.ID, 10)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].EntryType != domain.LedgerEntryDebit || entries[0].AmountPaise != 5600 {
		t.Fatalf("unexpected ledger entries: %+v", entries)
	}

	if _, err := svc.RecordCreditPayment(ctx, customer.ID, domain.CreditPaymentRequest{
		AmountPaise:    3000,
		IdempotencyKey: "idem-repay",
	}); err != nil {
		t.Fatalf("record repayment: %v", err)
	}
	reloaded, err = repo.GetCustomerByID(ctx, customer.ID)
	if err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if reloaded.CreditOwedPaise != 2600 {
		t.Fatalf("owed after repayment = %d, want 2600", reloaded.CreditOwedPaise)
	}

	if _, err := svc.RecordCreditPayment(ctx, customer.ID, domain.CreditPaymentRequest{
		AmountPaise:    3000,
		IdempotencyKey: "idem-repay",
	}); !errors.Is(err, store.ErrDuplicateOperation) {
		t.Fatalf("replayed repayment err = %v, want ErrDuplicateOperation", err)
	}
}

func TestConcurrentIssuanceNeverOversellsAndNumbersContiguously(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := repo.CreateDrug(ctx, domain.Drug{SKU: "DRG-C", Name: "Drug C", HSNCode: "3004", UnitPricePaise: 1000, TaxRateBP: 0, Active: true}); err != nil {
		t.Fatalf("seed drug: %v", err)
	}
	if _, err := repo.CreateBatch(ctx, domain.Batch{
		ID: "batch-c-1", StoreID: testStoreID, DrugSKU: "DRG-C", LotCode: "C1",
		ExpiryDate: now.AddDate(0, 6, 0), QtyReceived: 10, QtyOnHand: 10, ReceivedAt: now,
	}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	const workers = 25
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.IssueInvoice(ctx, domain.IssueInvoiceRequest{
				IdempotencyKey: fmt.Sprintf("idem-conc-%d", n),
				Lines:          []domain.CartLine{{DrugSKU: "DRG-C", Qty: 1}},
				Payments:       []domain.Payment{{Method: "cash", AmountPaise: 1000}},
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 10 {
		t.Fatalf("succeeded = %d, want exactly 10", succeeded)
	}

	batch, err := repo.GetBatchByID(ctx, "batch-c-1")
	if err != nil {
		t.Fatalf("reload batch: %v", err)
	}
	if batch.QtyOnHand != 0 {
		t.Fatalf("qty on hand = %d, want 0", batch.QtyOnHand)
	}

	// Every successful invoice must hold a distinct sequence in 1..10.
	seen := make(map[int64]bool, 10)
	for i := 0; i < workers; i++ {
		lookup, err := svc.LookupInvoiceByIdempotency(ctx, fmt.Sprintf("idem-conc-%d", i))
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if !lookup.Found {
			continue
		}
		seq := lookup.Invoice.Sequence
		if seq < 1 || seq > 10 || seen[seq] {
			t.Fatalf("sequence %d out of range or repeated", seq)
		}
		seen[seq] = true
	}
	if len(seen) != 10 {
		t.Fatalf("distinct sequences = %d, want 10", len(seen))
	}
}

func TestReceiveBatchRejectsPastExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		DrugSKU:    "DRG-A",
		LotCode:    "STALE",
		ExpiryDate: time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"),
		Qty:        10,
	})
	if err == nil {
		t.Fatalf("expected rejection of expired batch receipt")
	}
}
