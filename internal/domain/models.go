package domain

import (
	"encoding/json"
	"time"
)

type Drug struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	HSNCode        string `json:"hsn_code"`
	UnitPricePaise int64  `json:"unit_price_paise"`
	TaxRateBP      int    `json:"tax_rate_bp"`
	ScheduleClass  string `json:"schedule_class,omitempty"`
	Active         bool   `json:"active"`
}

type DrugCreateRequest struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	HSNCode        string `json:"hsn_code"`
	UnitPricePaise int64  `json:"unit_price_paise"`
	TaxRateBP      int    `json:"tax_rate_bp"`
	ScheduleClass  string `json:"schedule_class,omitempty"`
}

// Batch is a discrete receipt lot of a drug. Zero-quantity batches are kept
// for audit and expiry reporting, never deleted.
type Batch struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	DrugSKU     string    `json:"drug_sku"`
	LotCode     string    `json:"lot_code"`
	ExpiryDate  time.Time `json:"expiry_date"`
	QtyReceived int       `json:"qty_received"`
	QtyOnHand   int       `json:"qty_on_hand"`
	CostPaise   int64     `json:"cost_paise"`
	ReceivedAt  time.Time `json:"received_at"`
}

type BatchReceiveRequest struct {
	StoreID    string `json:"store_id"`
	DrugSKU    string `json:"drug_sku"`
	LotCode    string `json:"lot_code"`
	ExpiryDate string `json:"expiry_date"`
	Qty        int    `json:"qty"`
	CostPaise  int64  `json:"cost_paise"`
}

type BatchListResponse struct {
	Batches []Batch `json:"batches"`
}

// LineItem is the canonical, normalized cart line. Exactly one of BatchID
// (explicit lot) or plain DrugSKU (allocator picks lots) drives stock
// resolution. DiscountPaise is always absolute for the whole line; percentage
// discounts are converted during normalization.
type LineItem struct {
	DrugSKU          string `json:"drug_sku"`
	BatchID          string `json:"batch_id,omitempty"`
	Qty              int    `json:"qty"`
	UnitPricePaise   int64  `json:"unit_price_paise"`
	TaxRateBP        int    `json:"tax_rate_bp"`
	PriceIncludesTax bool   `json:"price_includes_tax"`
	DiscountPaise    int64  `json:"discount_paise"`
}

// CartLine is the inbound, pre-normalization line shape. At most one of
// DiscountPaise / DiscountBP may be set.
type CartLine struct {
	DrugSKU          string `json:"drug_sku"`
	BatchID          string `json:"batch_id,omitempty"`
	Qty              int    `json:"qty"`
	UnitPricePaise   int64  `json:"unit_price_paise,omitempty"`
	TaxRateBP        int    `json:"tax_rate_bp,omitempty"`
	PriceIncludesTax bool   `json:"price_includes_tax"`
	DiscountPaise    int64  `json:"discount_paise,omitempty"`
	DiscountBP       int    `json:"discount_bp,omitempty"`
}

// TaxBreakdown carries per-line tax amounts in paise. For same-jurisdiction
// supplies CGST and SGST are populated; for cross-jurisdiction supplies IGST
// carries the whole amount. TaxablePaise + CGST + SGST + IGST == LineTotalPaise
// always holds; the delta against an advertised tax-inclusive price surfaces in
// ResidualPaise and is rolled into the invoice-level rounding adjustment.
type TaxBreakdown struct {
	DrugSKU        string `json:"drug_sku"`
	TaxRateBP      int    `json:"tax_rate_bp"`
	TaxablePaise   int64  `json:"taxable_paise"`
	CGSTPaise      int64  `json:"cgst_paise"`
	SGSTPaise      int64  `json:"sgst_paise"`
	IGSTPaise      int64  `json:"igst_paise"`
	LineTotalPaise int64  `json:"line_total_paise"`
	ResidualPaise  int64  `json:"residual_paise"`
}

type TaxTotals struct {
	TaxablePaise    int64 `json:"taxable_paise"`
	CGSTPaise       int64 `json:"cgst_paise"`
	SGSTPaise       int64 `json:"sgst_paise"`
	IGSTPaise       int64 `json:"igst_paise"`
	ChargesPaise    int64 `json:"charges_paise"`
	RoundingPaise   int64 `json:"rounding_paise"`
	GrandTotalPaise int64 `json:"grand_total_paise"`
}

// Charge is an invoice-level adjustment (shipping, handling, global discount,
// coupon). Charges are zero-rated and applied after line aggregation; discounts
// and coupons carry negative amounts.
type Charge struct {
	Kind        string `json:"kind"`
	AmountPaise int64  `json:"amount_paise"`
}

type Payment struct {
	Method      string `json:"method"`
	AmountPaise int64  `json:"amount_paise"`
	Reference   string `json:"reference,omitempty"`
}

const (
	InvoiceStatusDraft  = "DRAFT"
	InvoiceStatusIssued = "ISSUED"
)

// InvoiceLine is a committed line bound to a specific batch. A cart line
// satisfied from several batches becomes several invoice lines.
type InvoiceLine struct {
	DrugSKU        string `json:"drug_sku"`
	BatchID        string `json:"batch_id"`
	Qty            int    `json:"qty"`
	UnitPricePaise int64  `json:"unit_price_paise"`
	TaxRateBP      int    `json:"tax_rate_bp"`
	TaxablePaise   int64  `json:"taxable_paise"`
	CGSTPaise      int64  `json:"cgst_paise"`
	SGSTPaise      int64  `json:"sgst_paise"`
	IGSTPaise      int64  `json:"igst_paise"`
	LineTotalPaise int64  `json:"line_total_paise"`
}

type Invoice struct {
	ID             string        `json:"id"`
	StoreID        string        `json:"store_id"`
	SellerGSTIN    string        `json:"seller_gstin"`
	InvoiceNumber  string        `json:"invoice_number,omitempty"`
	Sequence       int64         `json:"sequence,omitempty"`
	Status         string        `json:"status"`
	CustomerID     string        `json:"customer_id,omitempty"`
	BuyerGSTIN     string        `json:"buyer_gstin,omitempty"`
	PlaceOfSupply  string        `json:"place_of_supply"`
	SupplyType     string        `json:"supply_type"`
	Lines          []InvoiceLine `json:"lines"`
	Totals         TaxTotals     `json:"totals"`
	Payments       []Payment     `json:"payments"`
	IdempotencyKey string        `json:"idempotency_key"`
	Duplicate      bool          `json:"duplicate,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type IssueInvoiceRequest struct {
	StoreID        string     `json:"store_id,omitempty"`
	SellerGSTIN    string     `json:"seller_gstin,omitempty"`
	CustomerID     string     `json:"customer_id,omitempty"`
	BuyerStateCode string     `json:"buyer_state_code,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	Lines          []CartLine `json:"lines"`
	Charges        []Charge   `json:"charges,omitempty"`
	Payments       []Payment  `json:"payments"`
}

type InvoiceResponse struct {
	Invoice Invoice `json:"invoice"`
}

type InvoiceLookupResponse struct {
	Found   bool     `json:"found"`
	Invoice *Invoice `json:"invoice,omitempty"`
}

// VerificationPayload is the post-commit artifact handed to receipt printers
// and QR encoders. Failures to build it never roll back the invoice.
type VerificationPayload struct {
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	SellerGSTIN   string `json:"seller_gstin"`
	GrandTotal    int64  `json:"grand_total_paise"`
	QRBase64      string `json:"qr_base64"`
	PreviewText   string `json:"preview_text"`
}

type Customer struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	GSTIN            string    `json:"gstin,omitempty"`
	StateCode        string    `json:"state_code,omitempty"`
	CreditLimitPaise int64     `json:"credit_limit_paise"`
	CreditOwedPaise  int64     `json:"credit_owed_paise"`
	CreatedAt        time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name             string `json:"name"`
	GSTIN            string `json:"gstin,omitempty"`
	StateCode        string `json:"state_code,omitempty"`
	CreditLimitPaise int64  `json:"credit_limit_paise"`
}

const (
	LedgerEntryDebit  = "DEBIT"
	LedgerEntryCredit = "CREDIT"
)

// CreditLedgerEntry is one row in the customer credit ledger. Debits record
// credit sales, credits record repayments.
type CreditLedgerEntry struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	InvoiceID   string    `json:"invoice_id,omitempty"`
	EntryType   string    `json:"entry_type"`
	AmountPaise int64     `json:"amount_paise"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreditPaymentRequest struct {
	AmountPaise    int64  `json:"amount_paise"`
	IdempotencyKey string `json:"idempotency_key"`
	Reference      string `json:"reference,omitempty"`
}

// Entitlement is the decoded offline capability. The raw signed token travels
// with every reconciliation request; the device also caches the decoded form
// for local checks.
type Entitlement struct {
	TokenID            string    `json:"token_id"`
	DeviceID           string    `json:"device_id"`
	TenantID           string    `json:"tenant_id"`
	IssuedAt           time.Time `json:"issued_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	MaxOfflineInvoices int       `json:"max_offline_invoices"`
	Permissions        []string  `json:"permissions"`
}

type EntitlementIssueRequest struct {
	DeviceID           string   `json:"device_id"`
	TenantID           string   `json:"tenant_id,omitempty"`
	TTLHours           int      `json:"ttl_hours,omitempty"`
	MaxOfflineInvoices int      `json:"max_offline_invoices,omitempty"`
	Permissions        []string `json:"permissions,omitempty"`
}

type EntitlementIssueResponse struct {
	Token       string      `json:"token"`
	Entitlement Entitlement `json:"entitlement"`
}

type EntitlementRevokeRequest struct {
	TokenID string `json:"token_id"`
}

// Sync wire contract. Field names are fixed by the client/server protocol and
// must not change.
const (
	SyncStatusSynced      = "SYNCED"
	SyncStatusNeedsReview = "NEEDS_REVIEW"
	SyncStatusFailed      = "FAILED"
)

const (
	EventBatchReceipt  = "batch_receipt"
	EventCreditPayment = "credit_payment"
)

type SyncInvoice struct {
	LocalID        string              `json:"localId"`
	IdempotencyKey string              `json:"idempotencyKey"`
	InvoiceData    IssueInvoiceRequest `json:"invoiceData"`
}

type SyncEvent struct {
	LocalID        string          `json:"localId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	EventType      string          `json:"eventType"`
	EventData      json.RawMessage `json:"eventData"`
}

type SyncRequest struct {
	Token    string        `json:"token"`
	Invoices []SyncInvoice `json:"invoices"`
	Events   []SyncEvent   `json:"events"`
}

// Conflict describes one reason a queued operation cannot be applied against
// live state. All conflicts for an item are collected and returned together.
type Conflict struct {
	Code         string `json:"code"`
	DrugSKU      string `json:"drugSku,omitempty"`
	BatchID      string `json:"batchId,omitempty"`
	RequiredQty  int    `json:"requiredQty,omitempty"`
	AvailableQty int    `json:"availableQty,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

const (
	ConflictBatchNotFound     = "BATCH_NOT_FOUND"
	ConflictBatchExpired      = "BATCH_EXPIRED"
	ConflictInsufficientStock = "INSUFFICIENT_STOCK"
	ConflictCreditExceeded    = "CREDIT_LIMIT_EXCEEDED"
)

type SyncResult struct {
	LocalID         string     `json:"localId"`
	Status          string     `json:"status"`
	ServerInvoiceID string     `json:"serverInvoiceId,omitempty"`
	Conflicts       []Conflict `json:"conflicts,omitempty"`
	Error           string     `json:"error,omitempty"`
}

type SyncSummary struct {
	Total       int `json:"total"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	NeedsReview int `json:"needsReview"`
}

type SyncResponse struct {
	Results []SyncResult `json:"results"`
	Summary SyncSummary  `json:"summary"`
}

// CreditPaymentEvent is the eventData payload for EventCreditPayment.
type CreditPaymentEvent struct {
	CustomerID  string `json:"customerId"`
	AmountPaise int64  `json:"amountPaise"`
	Reference   string `json:"reference,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
