package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
	"medipos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	drugs           map[string]domain.Drug
	batchesByID     map[string]*domain.Batch
	invoicesByID    map[string]*domain.Invoice
	invoicesByIdem  map[string]*domain.Invoice
	counters        map[string]int64
	customersByID   map[string]*domain.Customer
	ledger          []domain.CreditLedgerEntry
	appliedOps      map[string]string
	tokenInvoices   map[string]map[string]struct{}
	revokedTokens   map[string]time.Time
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		drugs:           make(map[string]domain.Drug),
		batchesByID:     make(map[string]*domain.Batch),
		invoicesByID:    make(map[string]*domain.Invoice),
		invoicesByIdem:  make(map[string]*domain.Invoice),
		counters:        make(map[string]int64),
		customersByID:   make(map[string]*domain.Customer),
		appliedOps:      make(map[string]string),
		tokenInvoices:   make(map[string]map[string]struct{}),
		revokedTokens:   make(map[string]time.Time),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory operator accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. The memory store is
// never used in production (postgres is selected when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	pharmacistPwd := envOr("SEED_PHARMACIST_PASSWORD", "pharma123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_PHARMACIST_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"pharmacist", pharmacistPwd, "pharmacist"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	drugs := []domain.Drug{
		{SKU: "DRG-PARA-500", Name: "Paracetamol 500mg", HSNCode: "3004", UnitPricePaise: 2500, TaxRateBP: 1200, Active: true},
		{SKU: "DRG-AMOX-250", Name: "Amoxicillin 250mg", HSNCode: "3004", UnitPricePaise: 8900, TaxRateBP: 1200, ScheduleClass: "H", Active: true},
		{SKU: "DRG-CETRI-10", Name: "Cetirizine 10mg", HSNCode: "3004", UnitPricePaise: 3400, TaxRateBP: 1200, Active: true},
		{SKU: "DRG-ORS-200", Name: "ORS Solution 200ml", HSNCode: "3004", UnitPricePaise: 1800, TaxRateBP: 1200, Active: true},
		{SKU: "DRG-VITC-500", Name: "Vitamin C 500mg", HSNCode: "3004", UnitPricePaise: 5000, TaxRateBP: 1200, Active: true},
		{SKU: "DRG-COUGH-100", Name: "Cough Syrup 100ml", HSNCode: "3004", UnitPricePaise: 11800, TaxRateBP: 1800, Active: true},
	}
	for _, d := range drugs {
		s.drugs[d.SKU] = d
	}

	batches := []domain.Batch{
		{ID: "batch-para-a", StoreID: "main-pharmacy", DrugSKU: "DRG-PARA-500", LotCode: "PARA-A", ExpiryDate: dateOnly(now.AddDate(0, 3, 0)), QtyReceived: 120, QtyOnHand: 120, CostPaise: 1500, ReceivedAt: now.AddDate(0, -2, 0)},
		{ID: "batch-para-b", StoreID: "main-pharmacy", DrugSKU: "DRG-PARA-500", LotCode: "PARA-B", ExpiryDate: dateOnly(now.AddDate(1, 0, 0)), QtyReceived: 200, QtyOnHand: 200, CostPaise: 1400, ReceivedAt: now.AddDate(0, -1, 0)},
		{ID: "batch-amox-a", StoreID: "main-pharmacy", DrugSKU: "DRG-AMOX-250", LotCode: "AMOX-A", ExpiryDate: dateOnly(now.AddDate(0, 6, 0)), QtyReceived: 80, QtyOnHand: 80, CostPaise: 5200, ReceivedAt: now.AddDate(0, -1, 0)},
		{ID: "batch-cetri-a", StoreID: "main-pharmacy", DrugSKU: "DRG-CETRI-10", LotCode: "CETRI-A", ExpiryDate: dateOnly(now.AddDate(0, 9, 0)), QtyReceived: 150, QtyOnHand: 150, CostPaise: 1900, ReceivedAt: now.AddDate(0, -3, 0)},
		{ID: "batch-cough-a", StoreID: "main-pharmacy", DrugSKU: "DRG-COUGH-100", LotCode: "COUGH-A", ExpiryDate: dateOnly(now.AddDate(0, 4, 0)), QtyReceived: 60, QtyOnHand: 60, CostPaise: 7100, ReceivedAt: now.AddDate(0, -1, 0)},
	}
	for i := range batches {
		b := batches[i]
		s.batchesByID[b.ID] = &b
	}

	customer := domain.Customer{
		ID:               "cust-walkin-clinic",
		Name:             "Walk-in Clinic",
		StateCode:        "27",
		CreditLimitPaise: 500000,
		CreatedAt:        now,
	}
	s.customersByID[customer.ID] = &customer

	return s
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Store) CreateDrug(_ context.Context, drug domain.Drug) (*domain.Drug, error) {
	if drug.SKU == "" || drug.Name == "" || drug.UnitPricePaise < 1 {
		return nil, store.ErrInvalidOperation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.drugs[drug.SKU]; exists {
		return nil, store.ErrInvalidOperation
	}
	drug.Active = true
	s.drugs[drug.SKU] = drug
	created := drug
	return &created, nil
}

func (s *Store) GetDrugBySKU(_ context.Context, sku string) (*domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	drug, ok := s.drugs[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := drug
	return &found, nil
}

func (s *Store) ListDrugs(_ context.Context) ([]domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	drugs := make([]domain.Drug, 0, len(s.drugs))
	for _, d := range s.drugs {
		if d.Active {
			drugs = append(drugs, d)
		}
	}
	sort.Slice(drugs, func(i, j int) bool { return drugs[i].SKU < drugs[j].SKU })
	return drugs, nil
}

func (s *Store) GetDrugsBySKUs(_ context.Context, skus []string) (map[string]domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.Drug, len(skus))
	for _, sku := range skus {
		if d, ok := s.drugs[sku]; ok && d.Active {
			result[sku] = d
		}
	}
	return result, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.StoreID == "" || batch.DrugSKU == "" || batch.QtyReceived < 1 || batch.ExpiryDate.IsZero() {
		return nil, store.ErrInvalidOperation
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.LotCode == "" {
		batch.LotCode = "LOT-" + batch.ID
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	if batch.QtyOnHand == 0 {
		batch.QtyOnHand = batch.QtyReceived
	}
	if batch.QtyOnHand < 0 || batch.QtyOnHand > batch.QtyReceived {
		return nil, store.ErrInvalidOperation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batchesByID[batch.ID]; exists {
		return nil, store.ErrInvalidOperation
	}
	stored := batch
	s.batchesByID[batch.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) GetBatchByID(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batchesByID[id]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	found := *batch
	return &found, nil
}

func (s *Store) ListBatches(_ context.Context, storeID string, sku string, includeExpired bool, limit int) ([]domain.Batch, error) {
	if limit < 1 {
		limit = 200
	}
	today := dateOnly(time.Now().UTC())

	s.mu.RLock()
	defer s.mu.RUnlock()
	batches := make([]domain.Batch, 0, limit)
	for _, b := range s.batchesByID {
		if storeID != "" && b.StoreID != storeID {
			continue
		}
		if sku != "" && b.DrugSKU != sku {
			continue
		}
		if !includeExpired && b.ExpiryDate.Before(today) {
			continue
		}
		batches = append(batches, *b)
	}
	sortFEFO(batches)
	if len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

func (s *Store) EligibleBatches(_ context.Context, storeID string, sku string, at time.Time) ([]domain.Batch, error) {
	day := dateOnly(at)
	s.mu.RLock()
	defer s.mu.RUnlock()
	batches := make([]domain.Batch, 0, 8)
	for _, b := range s.batchesByID {
		if b.StoreID != storeID || b.DrugSKU != sku {
			continue
		}
		if b.QtyOnHand < 1 || b.ExpiryDate.Before(day) {
			continue
		}
		batches = append(batches, *b)
	}
	sortFEFO(batches)
	return batches, nil
}

func sortFEFO(batches []domain.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].ExpiryDate.Equal(batches[j].ExpiryDate) {
			return batches[i].ExpiryDate.Before(batches[j].ExpiryDate)
		}
		return batches[i].ReceivedAt.Before(batches[j].ReceivedAt)
	})
}

func (s *Store) FindInvoiceByIdempotency(_ context.Context, key string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoicesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *inv
	return &found, nil
}

func (s *Store) FindInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *inv
	return &found, nil
}

// CommitInvoice holds the store lock for the whole unit of work, which gives
// the memory store the same all-or-nothing behavior as the postgres
// serializable transaction: batch re-validation, number allocation, deduction,
// payments and the credit ledger either all land or none do.
func (s *Store) CommitInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.IdempotencyKey == "" || len(invoice.Lines) == 0 {
		return nil, store.ErrInvalidOperation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.invoicesByIdem[invoice.IdempotencyKey]; ok {
		found := *existing
		found.Duplicate = true
		return &found, nil
	}

	today := dateOnly(invoice.CreatedAt)
	if invoice.CreatedAt.IsZero() {
		today = dateOnly(time.Now().UTC())
	}

	// Re-validate every bound batch before touching anything.
	needed := make(map[string]int, len(invoice.Lines))
	for _, line := range invoice.Lines {
		needed[line.BatchID] += line.Qty
	}
	for batchID, qty := range needed {
		batch, ok := s.batchesByID[batchID]
		if !ok {
			return nil, store.ErrBatchNotFound
		}
		if batch.ExpiryDate.Before(today) {
			return nil, store.ErrBatchExpired
		}
		if batch.QtyOnHand < qty {
			return nil, store.ErrInsufficientStock
		}
	}

	// Credit tender check against the customer's remaining headroom.
	creditPaise := int64(0)
	for _, p := range invoice.Payments {
		if p.Method == "credit" {
			creditPaise += p.AmountPaise
		}
	}
	var customer *domain.Customer
	if creditPaise > 0 {
		if invoice.CustomerID == "" {
			return nil, store.ErrInvalidOperation
		}
		c, ok := s.customersByID[invoice.CustomerID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if c.CreditOwedPaise+creditPaise > c.CreditLimitPaise {
			return nil, store.ErrCreditLimitExceeded
		}
		customer = c
	}

	for batchID, qty := range needed {
		s.batchesByID[batchID].QtyOnHand -= qty
	}

	if invoice.Status == domain.InvoiceStatusIssued {
		s.counters[invoice.SellerGSTIN]++
		invoice.Sequence = s.counters[invoice.SellerGSTIN]
		invoice.InvoiceNumber = fmt.Sprintf("INV-%s-%06d", invoice.SellerGSTIN, invoice.Sequence)
	}

	if customer != nil {
		customer.CreditOwedPaise += creditPaise
		s.ledger = append(s.ledger, domain.CreditLedgerEntry{
			ID:          xid.New("ledg"),
			CustomerID:  customer.ID,
			InvoiceID:   invoice.ID,
			EntryType:   domain.LedgerEntryDebit,
			AmountPaise: creditPaise,
			Note:        "credit sale",
			CreatedAt:   time.Now().UTC(),
		})
	}

	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	stored := invoice
	s.invoicesByID[stored.ID] = &stored
	s.invoicesByIdem[stored.IdempotencyKey] = &stored
	created := stored
	return &created, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.CreditLimitPaise < 0 {
		return nil, store.ErrInvalidOperation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrInvalidOperation
	}
	stored := customer
	s.customersByID[customer.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *customer
	return &found, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, *c)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].ID < customers[j].ID })
	return customers, nil
}

func (s *Store) ApplyCreditPayment(_ context.Context, customerID string, amountPaise int64, idempotencyKey string, reference string) (*domain.CreditLedgerEntry, error) {
	if customerID == "" || amountPaise < 1 || idempotencyKey == "" {
		return nil, store.ErrInvalidOperation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.appliedOps[idempotencyKey]; seen {
		return nil, store.ErrDuplicateOperation
	}
	customer, ok := s.customersByID[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}

	customer.CreditOwedPaise -= amountPaise
	if customer.CreditOwedPaise < 0 {
		customer.CreditOwedPaise = 0
	}
	entry := domain.CreditLedgerEntry{
		ID:          xid.New("ledg"),
		CustomerID:  customerID,
		EntryType:   domain.LedgerEntryCredit,
		AmountPaise: amountPaise,
		Note:        strings.TrimSpace(reference),
		CreatedAt:   time.Now().UTC(),
	}
	s.ledger = append(s.ledger, entry)
	s.appliedOps[idempotencyKey] = entry.ID
	return &entry, nil
}

func (s *Store) ListCreditLedger(_ context.Context, customerID string, limit int) ([]domain.CreditLedgerEntry, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]domain.CreditLedgerEntry, 0, limit)
	for i := len(s.ledger) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.ledger[i].CustomerID == customerID {
			entries = append(entries, s.ledger[i])
		}
	}
	return entries, nil
}

func (s *Store) FindAppliedOperation(_ context.Context, idempotencyKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entityID, ok := s.appliedOps[idempotencyKey]
	if !ok {
		return "", store.ErrNotFound
	}
	return entityID, nil
}

func (s *Store) RecordAppliedOperation(_ context.Context, idempotencyKey string, entityID string) error {
	if idempotencyKey == "" {
		return store.ErrInvalidOperation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.appliedOps[idempotencyKey]; seen {
		return store.ErrDuplicateOperation
	}
	s.appliedOps[idempotencyKey] = entityID
	return nil
}

func (s *Store) CountTokenInvoices(_ context.Context, tokenID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokenInvoices[tokenID]), nil
}

func (s *Store) RecordTokenInvoice(_ context.Context, tokenID string, idempotencyKey string) (bool, error) {
	if tokenID == "" || idempotencyKey == "" {
		return false, store.ErrInvalidOperation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.tokenInvoices[tokenID]
	if !ok {
		keys = make(map[string]struct{})
		s.tokenInvoices[tokenID] = keys
	}
	if _, seen := keys[idempotencyKey]; seen {
		return false, nil
	}
	keys[idempotencyKey] = struct{}{}
	return true, nil
}

func (s *Store) RevokeEntitlement(_ context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return store.ErrInvalidOperation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedTokens[tokenID] = expiresAt
	return nil
}

func (s *Store) IsEntitlementRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, revoked := s.revokedTokens[tokenID]
	return revoked, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidOperation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidOperation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidOperation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
