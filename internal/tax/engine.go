package tax

import (
	"errors"
	"fmt"

	"medipos/backend/internal/domain"
)

// Supply classification. Same-jurisdiction sales split the rate into equal
// CGST and SGST halves; cross-jurisdiction sales charge IGST at the full rate.
const (
	SupplySameJurisdiction  = "SAME_JURISDICTION"
	SupplyCrossJurisdiction = "CROSS_JURISDICTION"
)

var (
	ErrInvalidJurisdiction = errors.New("invalid jurisdiction")
	ErrInvalidLineItem     = errors.New("invalid line item")
)

// Jurisdiction is the seller/buyer tax context for one invoice. An empty
// BuyerStateCode means an unregistered walk-in buyer; those sales use the
// seller's own state as the place of supply.
type Jurisdiction struct {
	SellerStateCode string
	BuyerStateCode  string
}

// PlaceOfSupply resolves the state code tax is owed to.
func (j Jurisdiction) PlaceOfSupply() string {
	if j.BuyerStateCode == "" {
		return j.SellerStateCode
	}
	return j.BuyerStateCode
}

// Classify decides the supply type for a jurisdiction context.
func Classify(j Jurisdiction) (string, error) {
	if !validStateCode(j.SellerStateCode) {
		return "", fmt.Errorf("%w: seller state %q", ErrInvalidJurisdiction, j.SellerStateCode)
	}
	if j.BuyerStateCode != "" && !validStateCode(j.BuyerStateCode) {
		return "", fmt.Errorf("%w: buyer state %q", ErrInvalidJurisdiction, j.BuyerStateCode)
	}
	if j.PlaceOfSupply() == j.SellerStateCode {
		return SupplySameJurisdiction, nil
	}
	return SupplyCrossJurisdiction, nil
}

// GST state codes are two decimal digits ("01".."38").
func validStateCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return code != "00"
}

// ComputeLine turns one normalized line item into its tax breakdown. All
// arithmetic is in integer paise; division rounds half away from zero.
func ComputeLine(line domain.LineItem, j Jurisdiction) (domain.TaxBreakdown, error) {
	supply, err := Classify(j)
	if err != nil {
		return domain.TaxBreakdown{}, err
	}
	if err := validateLine(line); err != nil {
		return domain.TaxBreakdown{}, err
	}

	gross := int64(line.Qty)*line.UnitPricePaise - line.DiscountPaise
	rate := int64(line.TaxRateBP)

	var taxable int64
	if line.PriceIncludesTax {
		// Back the tax out of the advertised gross price.
		taxable = roundDiv(gross*10000, 10000+rate)
	} else {
		taxable = gross
	}

	breakdown := domain.TaxBreakdown{
		DrugSKU:      line.DrugSKU,
		TaxRateBP:    line.TaxRateBP,
		TaxablePaise: taxable,
	}

	switch supply {
	case SupplyCrossJurisdiction:
		breakdown.IGSTPaise = roundDiv(taxable*rate, 10000)
	default:
		// Each half is rounded on its own; the pair may differ from the
		// full-rate amount by one paise and that difference is kept.
		breakdown.CGSTPaise = roundDiv(taxable*rate, 20000)
		breakdown.SGSTPaise = roundDiv(taxable*rate, 20000)
	}

	breakdown.LineTotalPaise = breakdown.TaxablePaise + breakdown.CGSTPaise + breakdown.SGSTPaise + breakdown.IGSTPaise
	if line.PriceIncludesTax {
		breakdown.ResidualPaise = gross - breakdown.LineTotalPaise
	}

	return breakdown, nil
}

// ComputeInvoice computes every line plus invoice totals. Invoice-level
// charges (shipping, handling, global discount, coupon) are zero-rated
// adjustments applied after line aggregation; they never redistribute into
// per-line taxable values. Residual paise from tax-inclusive lines accumulate
// into the single rounding adjustment so the customer pays exactly the
// advertised price.
func ComputeInvoice(lines []domain.LineItem, j Jurisdiction, charges []domain.Charge) ([]domain.TaxBreakdown, domain.TaxTotals, error) {
	if len(lines) == 0 {
		return nil, domain.TaxTotals{}, fmt.Errorf("%w: empty cart", ErrInvalidLineItem)
	}

	breakdowns := make([]domain.TaxBreakdown, 0, len(lines))
	var totals domain.TaxTotals
	for _, line := range lines {
		b, err := ComputeLine(line, j)
		if err != nil {
			return nil, domain.TaxTotals{}, err
		}
		breakdowns = append(breakdowns, b)
		totals.TaxablePaise += b.TaxablePaise
		totals.CGSTPaise += b.CGSTPaise
		totals.SGSTPaise += b.SGSTPaise
		totals.IGSTPaise += b.IGSTPaise
		totals.RoundingPaise += b.ResidualPaise
	}

	for _, charge := range charges {
		totals.ChargesPaise += charge.AmountPaise
	}

	totals.GrandTotalPaise = totals.TaxablePaise + totals.CGSTPaise + totals.SGSTPaise + totals.IGSTPaise + totals.ChargesPaise + totals.RoundingPaise
	if totals.GrandTotalPaise < 0 {
		return nil, domain.TaxTotals{}, fmt.Errorf("%w: charges exceed invoice value", ErrInvalidLineItem)
	}

	return breakdowns, totals, nil
}

func validateLine(line domain.LineItem) error {
	if line.DrugSKU == "" {
		return fmt.Errorf("%w: missing drug sku", ErrInvalidLineItem)
	}
	if line.Qty < 1 {
		return fmt.Errorf("%w: qty %d for %s", ErrInvalidLineItem, line.Qty, line.DrugSKU)
	}
	if line.UnitPricePaise < 1 {
		return fmt.Errorf("%w: unit price %d for %s", ErrInvalidLineItem, line.UnitPricePaise, line.DrugSKU)
	}
	if line.TaxRateBP < 0 || line.TaxRateBP > 10000 {
		return fmt.Errorf("%w: tax rate %dbp for %s", ErrInvalidLineItem, line.TaxRateBP, line.DrugSKU)
	}
	if line.DiscountPaise < 0 || line.DiscountPaise > int64(line.Qty)*line.UnitPricePaise {
		return fmt.Errorf("%w: discount %d for %s", ErrInvalidLineItem, line.DiscountPaise, line.DrugSKU)
	}
	return nil
}

// roundDiv divides n by d rounding half away from zero. n is non-negative in
// every call site; d is always positive.
func roundDiv(n int64, d int64) int64 {
	return (n + d/2) / d
}
