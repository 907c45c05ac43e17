package store

import (
	"context"
	"time"

	"errors"

	"medipos/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrBatchExpired        = errors.New("batch expired")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrPaymentMismatch     = errors.New("payment mismatch")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrDuplicateOperation  = errors.New("duplicate operation")
)

// Repository is the persistence boundary shared by the in-memory and postgres
// stores. CommitInvoice is the single mutating entry point for issuance: it
// re-validates the allocation plan under exclusive access, allocates the
// gapless invoice number, deducts batches, writes payments and the credit
// ledger, all in one transaction.
type Repository interface {
	CreateDrug(ctx context.Context, drug domain.Drug) (*domain.Drug, error)
	GetDrugBySKU(ctx context.Context, sku string) (*domain.Drug, error)
	ListDrugs(ctx context.Context) ([]domain.Drug, error)
	GetDrugsBySKUs(ctx context.Context, skus []string) (map[string]domain.Drug, error)

	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	GetBatchByID(ctx context.Context, id string) (*domain.Batch, error)
	ListBatches(ctx context.Context, storeID string, sku string, includeExpired bool, limit int) ([]domain.Batch, error)
	// EligibleBatches returns unexpired batches with stock for one drug in
	// FEFO order. It is a read-only snapshot; CommitInvoice re-checks it.
	EligibleBatches(ctx context.Context, storeID string, sku string, at time.Time) ([]domain.Batch, error)

	FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error)
	FindInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)
	CommitInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	// ApplyCreditPayment records a repayment ledger entry and reduces the
	// customer's outstanding balance. Replays with a seen idempotency key
	// return ErrDuplicateOperation without effect.
	ApplyCreditPayment(ctx context.Context, customerID string, amountPaise int64, idempotencyKey string, reference string) (*domain.CreditLedgerEntry, error)
	ListCreditLedger(ctx context.Context, customerID string, limit int) ([]domain.CreditLedgerEntry, error)

	// Applied-operation bookkeeping for queued non-invoice events.
	FindAppliedOperation(ctx context.Context, idempotencyKey string) (entityID string, err error)
	RecordAppliedOperation(ctx context.Context, idempotencyKey string, entityID string) error

	// Cumulative offline-invoice accounting per entitlement token. The count
	// survives across sync requests so a token's invoice cap cannot be reset
	// by splitting a batch. RecordTokenInvoice is idempotent per key and
	// reports whether the key was newly recorded.
	CountTokenInvoices(ctx context.Context, tokenID string) (int, error)
	RecordTokenInvoice(ctx context.Context, tokenID string, idempotencyKey string) (bool, error)

	RevokeEntitlement(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsEntitlementRevoked(ctx context.Context, tokenID string) (bool, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
