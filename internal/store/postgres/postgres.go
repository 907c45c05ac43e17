package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
	"medipos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateDrug(ctx context.Context, drug domain.Drug) (*domain.Drug, error) {
	if drug.SKU == "" || drug.Name == "" || drug.UnitPricePaise < 1 {
		return nil, store.ErrInvalidOperation
	}
	if drug.TaxRateBP < 0 || drug.TaxRateBP > 10000 {
		return nil, store.ErrInvalidOperation
	}

	drug.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drugs (sku, name, hsn_code, unit_price_paise, tax_rate_bp, schedule_class, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, drug.SKU, drug.Name, drug.HSNCode, drug.UnitPricePaise, drug.TaxRateBP, nullIfEmpty(drug.ScheduleClass), drug.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidOperation
		}
		return nil, err
	}

	created := drug
	return &created, nil
}

func (s *Store) GetDrugBySKU(ctx context.Context, sku string) (*domain.Drug, error) {
	var drug domain.Drug
	var schedule sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, name, hsn_code, unit_price_paise, tax_rate_bp, schedule_class, active
		FROM drugs
		WHERE sku = $1
	`, sku).Scan(&drug.SKU, &drug.Name, &drug.HSNCode, &drug.UnitPricePaise, &drug.TaxRateBP, &schedule, &drug.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if schedule.Valid {
		drug.ScheduleClass = schedule.String
	}
	return &drug, nil
}

func (s *Store) ListDrugs(ctx context.Context) ([]domain.Drug, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, hsn_code, unit_price_paise, tax_rate_bp, schedule_class, active
		FROM drugs
		WHERE active = true
		ORDER BY sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drugs := make([]domain.Drug, 0, 128)
	for rows.Next() {
		var d domain.Drug
		var schedule sql.NullString
		if err := rows.Scan(&d.SKU, &d.Name, &d.HSNCode, &d.UnitPricePaise, &d.TaxRateBP, &schedule, &d.Active); err != nil {
			return nil, err
		}
		if schedule.Valid {
			d.ScheduleClass = schedule.String
		}
		drugs = append(drugs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drugs, nil
}

func (s *Store) GetDrugsBySKUs(ctx context.Context, skus []string) (map[string]domain.Drug, error) {
	result := make(map[string]domain.Drug, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, hsn_code, unit_price_paise, tax_rate_bp, schedule_class, active
		FROM drugs
		WHERE active = true AND sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.Drug
		var schedule sql.NullString
		if err := rows.Scan(&d.SKU, &d.Name, &d.HSNCode, &d.UnitPricePaise, &d.TaxRateBP, &schedule, &d.Active); err != nil {
			return nil, err
		}
		if schedule.Valid {
			d.ScheduleClass = schedule.String
		}
		result[d.SKU] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if strings.TrimSpace(batch.StoreID) == "" || strings.TrimSpace(batch.DrugSKU) == "" || batch.QtyReceived < 1 || batch.ExpiryDate.IsZero() {
		return nil, store.ErrInvalidOperation
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	batch.LotCode = strings.TrimSpace(batch.LotCode)
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, store_id, drug_sku, lot_code, expiry_date, qty_received, qty_on_hand, cost_paise, received_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, batch.ID, batch.StoreID, batch.DrugSKU, batch.LotCode, batch.ExpiryDate, batch.QtyReceived, batch.QtyOnHand, batch.CostPaise, batch.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidOperation
		}
		return nil, err
	}
	created := batch
	return &created, nil
}

func (s *Store) GetBatchByID(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, drug_sku, lot_code, expiry_date, qty_received, qty_on_hand, cost_paise, received_at
		FROM batches
		WHERE id = $1
	`, id).Scan(&batch.ID, &batch.StoreID, &batch.DrugSKU, &batch.LotCode, &batch.ExpiryDate, &batch.QtyReceived, &batch.QtyOnHand, &batch.CostPaise, &batch.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBatchNotFound
		}
		return nil, err
	}
	batch.ExpiryDate = batch.ExpiryDate.UTC()
	batch.ReceivedAt = batch.ReceivedAt.UTC()
	return &batch, nil
}

func (s *Store) ListBatches(ctx context.Context, storeID string, sku string, includeExpired bool, limit int) ([]domain.Batch, error) {
	if limit < 1 {
		limit = 200
	}

	query := `
		SELECT id, store_id, drug_sku, lot_code, expiry_date, qty_received, qty_on_hand, cost_paise, received_at
		FROM batches
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR drug_sku = $2)
	`
	if !includeExpired {
		query += ` AND expiry_date >= CURRENT_DATE`
	}
	query += `
		ORDER BY expiry_date ASC, received_at ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, storeID, sku, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows, limit)
}

func (s *Store) EligibleBatches(ctx context.Context, storeID string, sku string, at time.Time) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, drug_sku, lot_code, expiry_date, qty_received, qty_on_hand, cost_paise, received_at
		FROM batches
		WHERE store_id = $1 AND drug_sku = $2 AND qty_on_hand > 0 AND expiry_date >= $3::date
		ORDER BY expiry_date ASC, received_at ASC
	`, storeID, sku, at.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows, 16)
}

func scanBatches(rows *sql.Rows, hint int) ([]domain.Batch, error) {
	batches := make([]domain.Batch, 0, hint)
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(&b.ID, &b.StoreID, &b.DrugSKU, &b.LotCode, &b.ExpiryDate, &b.QtyReceived, &b.QtyOnHand, &b.CostPaise, &b.ReceivedAt); err != nil {
			return nil, err
		}
		b.ExpiryDate = b.ExpiryDate.UTC()
		b.ReceivedAt = b.ReceivedAt.UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) FindInvoiceByIdempotency(ctx context.Context, key string) (*domain.Invoice, error) {
	return s.findInvoice(ctx, "idempotency_key", key)
}

func (s *Store) FindInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.findInvoice(ctx, "id", id)
}

func (s *Store) findInvoice(ctx context.Context, column string, value string) (*domain.Invoice, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var inv domain.Invoice
	var invoiceNumber sql.NullString
	var sequence sql.NullInt64
	var customerID sql.NullString
	var buyerGSTIN sql.NullString

	query := fmt.Sprintf(`
		SELECT id, store_id, seller_gstin, invoice_number, sequence, status,
			customer_id, buyer_gstin, place_of_supply, supply_type,
			taxable_paise, cgst_paise, sgst_paise, igst_paise,
			charges_paise, rounding_paise, grand_total_paise,
			idempotency_key, created_at
		FROM invoices
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&inv.ID,
		&inv.StoreID,
		&inv.SellerGSTIN,
		&invoiceNumber,
		&sequence,
		&inv.Status,
		&customerID,
		&buyerGSTIN,
		&inv.PlaceOfSupply,
		&inv.SupplyType,
		&inv.Totals.TaxablePaise,
		&inv.Totals.CGSTPaise,
		&inv.Totals.SGSTPaise,
		&inv.Totals.IGSTPaise,
		&inv.Totals.ChargesPaise,
		&inv.Totals.RoundingPaise,
		&inv.Totals.GrandTotalPaise,
		&inv.IdempotencyKey,
		&inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if invoiceNumber.Valid {
		inv.InvoiceNumber = invoiceNumber.String
	}
	if sequence.Valid {
		inv.Sequence = sequence.Int64
	}
	if customerID.Valid {
		inv.CustomerID = customerID.String
	}
	if buyerGSTIN.Valid {
		inv.BuyerGSTIN = buyerGSTIN.String
	}
	inv.CreatedAt = inv.CreatedAt.UTC()

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT drug_sku, batch_id, qty, unit_price_paise, tax_rate_bp,
			taxable_paise, cgst_paise, sgst_paise, igst_paise, line_total_paise
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY id ASC
	`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	lines := make([]domain.InvoiceLine, 0, 8)
	for lineRows.Next() {
		var line domain.InvoiceLine
		if err := lineRows.Scan(&line.DrugSKU, &line.BatchID, &line.Qty, &line.UnitPricePaise, &line.TaxRateBP,
			&line.TaxablePaise, &line.CGSTPaise, &line.SGSTPaise, &line.IGSTPaise, &line.LineTotalPaise); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}
	inv.Lines = lines

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT method, amount_paise, reference
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY id ASC
	`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()

	payments := make([]domain.Payment, 0, 2)
	for paymentRows.Next() {
		var p domain.Payment
		var reference sql.NullString
		if err := paymentRows.Scan(&p.Method, &p.AmountPaise, &reference); err != nil {
			return nil, err
		}
		if reference.Valid {
			p.Reference = reference.String
		}
		payments = append(payments, p)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}
	inv.Payments = payments

	return &inv, nil
}

// CommitInvoice runs the whole issuance unit of work in one serializable
// transaction. Batch rows and the counter row are locked with FOR UPDATE, so
// concurrent issuances serialize on exactly the rows they contend for. A
// rolled-back transaction never touches the counter, which keeps numbering
// gapless.
func (s *Store) CommitInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.IdempotencyKey == "" || len(invoice.Lines) == 0 {
		return nil, store.ErrInvalidOperation
	}
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var existingID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id FROM invoices WHERE idempotency_key = $1
	`, invoice.IdempotencyKey).Scan(&existingID)
	if err == nil {
		existing, lookupErr := s.FindInvoiceByID(ctx, existingID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		existing.Duplicate = true
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	needed := make(map[string]int, len(invoice.Lines))
	batchIDs := make([]string, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		if _, seen := needed[line.BatchID]; !seen {
			batchIDs = append(batchIDs, line.BatchID)
		}
		needed[line.BatchID] += line.Qty
	}

	// Lock and re-validate every batch the plan touches. Selection happened
	// outside this transaction; stock or expiry may have moved since.
	batchRows, err := pgTx.QueryContext(ctx, `
		SELECT id, expiry_date, qty_on_hand
		FROM batches
		WHERE id = ANY($1)
		FOR UPDATE
	`, batchIDs)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]struct {
		expiry    time.Time
		available int
	}, len(batchIDs))
	for batchRows.Next() {
		var id string
		var expiry time.Time
		var available int
		if err := batchRows.Scan(&id, &expiry, &available); err != nil {
			_ = batchRows.Close()
			return nil, err
		}
		locked[id] = struct {
			expiry    time.Time
			available int
		}{expiry: expiry.UTC(), available: available}
	}
	if err := batchRows.Err(); err != nil {
		_ = batchRows.Close()
		return nil, err
	}
	_ = batchRows.Close()

	today := dateOnly(invoice.CreatedAt)
	for _, batchID := range batchIDs {
		state, ok := locked[batchID]
		if !ok {
			return nil, store.ErrBatchNotFound
		}
		if dateOnly(state.expiry).Before(today) {
			return nil, store.ErrBatchExpired
		}
		if state.available < needed[batchID] {
			return nil, store.ErrInsufficientStock
		}
	}

	creditPaise := int64(0)
	for _, p := range invoice.Payments {
		if p.Method == "credit" {
			creditPaise += p.AmountPaise
		}
	}
	if creditPaise > 0 {
		if invoice.CustomerID == "" {
			return nil, store.ErrInvalidOperation
		}
		var limit, owed int64
		err = pgTx.QueryRowContext(ctx, `
			SELECT credit_limit_paise, credit_owed_paise
			FROM customers
			WHERE id = $1
			FOR UPDATE
		`, invoice.CustomerID).Scan(&limit, &owed)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if owed+creditPaise > limit {
			return nil, store.ErrCreditLimitExceeded
		}
	}

	for _, batchID := range batchIDs {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE batches
			SET qty_on_hand = qty_on_hand - $1, updated_at = now()
			WHERE id = $2
		`, needed[batchID], batchID)
		if err != nil {
			return nil, err
		}
	}

	if invoice.Status == domain.InvoiceStatusIssued {
		err = pgTx.QueryRowContext(ctx, `
			INSERT INTO invoice_counters (seller_gstin, next_seq)
			VALUES ($1, 1)
			ON CONFLICT (seller_gstin)
			DO UPDATE SET next_seq = invoice_counters.next_seq + 1
			RETURNING next_seq
		`, invoice.SellerGSTIN).Scan(&invoice.Sequence)
		if err != nil {
			return nil, err
		}
		invoice.InvoiceNumber = fmt.Sprintf("INV-%s-%06d", invoice.SellerGSTIN, invoice.Sequence)
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, store_id, seller_gstin, invoice_number, sequence, status,
			customer_id, buyer_gstin, place_of_supply, supply_type,
			taxable_paise, cgst_paise, sgst_paise, igst_paise,
			charges_paise, rounding_paise, grand_total_paise,
			idempotency_key, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, invoice.ID, invoice.StoreID, invoice.SellerGSTIN, nullIfEmpty(invoice.InvoiceNumber), nullIfZero(invoice.Sequence),
		invoice.Status, nullIfEmpty(invoice.CustomerID), nullIfEmpty(invoice.BuyerGSTIN), invoice.PlaceOfSupply,
		invoice.SupplyType, invoice.Totals.TaxablePaise, invoice.Totals.CGSTPaise, invoice.Totals.SGSTPaise,
		invoice.Totals.IGSTPaise, invoice.Totals.ChargesPaise, invoice.Totals.RoundingPaise,
		invoice.Totals.GrandTotalPaise, invoice.IdempotencyKey, invoice.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindInvoiceByIdempotency(ctx, invoice.IdempotencyKey)
			if lookupErr == nil {
				existing.Duplicate = true
				return existing, nil
			}
		}
		return nil, err
	}

	for _, line := range invoice.Lines {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO invoice_lines (invoice_id, drug_sku, batch_id, qty, unit_price_paise, tax_rate_bp,
				taxable_paise, cgst_paise, sgst_paise, igst_paise, line_total_paise)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, invoice.ID, line.DrugSKU, line.BatchID, line.Qty, line.UnitPricePaise, line.TaxRateBP,
			line.TaxablePaise, line.CGSTPaise, line.SGSTPaise, line.IGSTPaise, line.LineTotalPaise)
		if err != nil {
			return nil, err
		}
	}

	for _, payment := range invoice.Payments {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO invoice_payments (invoice_id, method, amount_paise, reference)
			VALUES ($1,$2,$3,$4)
		`, invoice.ID, payment.Method, payment.AmountPaise, nullIfEmpty(payment.Reference))
		if err != nil {
			return nil, err
		}
	}

	if creditPaise > 0 {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE customers
			SET credit_owed_paise = credit_owed_paise + $1, updated_at = now()
			WHERE id = $2
		`, creditPaise, invoice.CustomerID)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO credit_ledger (id, customer_id, invoice_id, entry_type, amount_paise, note, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,now())
		`, xid.New("ledg"), invoice.CustomerID, invoice.ID, domain.LedgerEntryDebit, creditPaise, "credit sale")
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &invoice, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.CreditLimitPaise < 0 {
		return nil, store.ErrInvalidOperation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, gstin, state_code, credit_limit_paise, credit_owed_paise, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, customer.ID, customer.Name, nullIfEmpty(customer.GSTIN), nullIfEmpty(customer.StateCode), customer.CreditLimitPaise, customer.CreditOwedPaise, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidOperation
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	var gstin, stateCode sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, gstin, state_code, credit_limit_paise, credit_owed_paise, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &gstin, &stateCode, &customer.CreditLimitPaise, &customer.CreditOwedPaise, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if gstin.Valid {
		customer.GSTIN = gstin.String
	}
	if stateCode.Valid {
		customer.StateCode = stateCode.String
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, gstin, state_code, credit_limit_paise, credit_owed_paise, created_at
		FROM customers
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		var gstin, stateCode sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &gstin, &stateCode, &c.CreditLimitPaise, &c.CreditOwedPaise, &c.CreatedAt); err != nil {
			return nil, err
		}
		if gstin.Valid {
			c.GSTIN = gstin.String
		}
		if stateCode.Valid {
			c.StateCode = stateCode.String
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) ApplyCreditPayment(ctx context.Context, customerID string, amountPaise int64, idempotencyKey string, reference string) (*domain.CreditLedgerEntry, error) {
	if customerID == "" || amountPaise < 1 || idempotencyKey == "" {
		return nil, store.ErrInvalidOperation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	entry := domain.CreditLedgerEntry{
		ID:          xid.New("ledg"),
		CustomerID:  customerID,
		EntryType:   domain.LedgerEntryCredit,
		AmountPaise: amountPaise,
		Note:        strings.TrimSpace(reference),
		CreatedAt:   time.Now().UTC(),
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO applied_operations (idempotency_key, entity_id, applied_at)
		VALUES ($1,$2,now())
	`, idempotencyKey, entry.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateOperation
		}
		return nil, err
	}

	res, err := pgTx.ExecContext(ctx, `
		UPDATE customers
		SET credit_owed_paise = GREATEST(credit_owed_paise - $1, 0), updated_at = now()
		WHERE id = $2
	`, amountPaise, customerID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, customer_id, invoice_id, entry_type, amount_paise, note, created_at)
		VALUES ($1,$2,NULL,$3,$4,$5,$6)
	`, entry.ID, entry.CustomerID, entry.EntryType, entry.AmountPaise, nullIfEmpty(entry.Note), entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListCreditLedger(ctx context.Context, customerID string, limit int) ([]domain.CreditLedgerEntry, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, invoice_id, entry_type, amount_paise, note, created_at
		FROM credit_ledger
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CreditLedgerEntry, 0, limit)
	for rows.Next() {
		var entry domain.CreditLedgerEntry
		var invoiceID, note sql.NullString
		if err := rows.Scan(&entry.ID, &entry.CustomerID, &invoiceID, &entry.EntryType, &entry.AmountPaise, &note, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if invoiceID.Valid {
			entry.InvoiceID = invoiceID.String
		}
		if note.Valid {
			entry.Note = note.String
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) FindAppliedOperation(ctx context.Context, idempotencyKey string) (string, error) {
	var entityID string
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id FROM applied_operations WHERE idempotency_key = $1
	`, idempotencyKey).Scan(&entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return entityID, nil
}

func (s *Store) RecordAppliedOperation(ctx context.Context, idempotencyKey string, entityID string) error {
	if idempotencyKey == "" {
		return store.ErrInvalidOperation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applied_operations (idempotency_key, entity_id, applied_at)
		VALUES ($1,$2,now())
	`, idempotencyKey, entityID)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicateOperation
	}
	return err
}

func (s *Store) CountTokenInvoices(ctx context.Context, tokenID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entitlement_invoices WHERE token_id = $1
	`, tokenID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) RecordTokenInvoice(ctx context.Context, tokenID string, idempotencyKey string) (bool, error) {
	if tokenID == "" || idempotencyKey == "" {
		return false, store.ErrInvalidOperation
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlement_invoices (token_id, idempotency_key, created_at)
		VALUES ($1,$2,now())
		ON CONFLICT (token_id, idempotency_key) DO NOTHING
	`, tokenID, idempotencyKey)
	if err != nil {
		return false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

func (s *Store) RevokeEntitlement(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return store.ErrInvalidOperation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_entitlements (token_id, expires_at, revoked_at)
		VALUES ($1,$2,now())
		ON CONFLICT (token_id) DO NOTHING
	`, tokenID, expiresAt)
	return err
}

func (s *Store) IsEntitlementRevoked(ctx context.Context, tokenID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM revoked_entitlements WHERE token_id = $1
	`, tokenID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidOperation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidOperation
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidOperation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func nullIfZero(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
