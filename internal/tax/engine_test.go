package tax

import (
	"errors"
	"testing"

	"medipos/backend/internal/domain"
)

var sameState = Jurisdiction{SellerStateCode: "29", BuyerStateCode: "29"}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		j      Jurisdiction
		want   string
		hasErr bool
	}{
		{name: "same state", j: Jurisdiction{SellerStateCode: "29", BuyerStateCode: "29"}, want: SupplySameJurisdiction},
		{name: "cross state", j: Jurisdiction{SellerStateCode: "29", BuyerStateCode: "27"}, want: SupplyCrossJurisdiction},
		{name: "walk-in defaults to seller state", j: Jurisdiction{SellerStateCode: "29"}, want: SupplySameJurisdiction},
		{name: "invalid seller", j: Jurisdiction{SellerStateCode: "XX", BuyerStateCode: "29"}, hasErr: true},
		{name: "zero code invalid", j: Jurisdiction{SellerStateCode: "00"}, hasErr: true},
		{name: "invalid buyer", j: Jurisdiction{SellerStateCode: "29", BuyerStateCode: "5"}, hasErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify(tc.j)
			if tc.hasErr {
				if !errors.Is(err, ErrInvalidJurisdiction) {
					t.Fatalf("err = %v, want ErrInvalidJurisdiction", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if got != tc.want {
				t.Fatalf("supply = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestComputeLineExclusiveSameJurisdiction(t *testing.T) {
	b, err := ComputeLine(domain.LineItem{
		DrugSKU:        "DRG-A",
		Qty:            2,
		UnitPricePaise: 5000,
		TaxRateBP:      1200,
	}, sameState)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if b.TaxablePaise != 10000 {
		t.Fatalf("taxable = %d, want 10000", b.TaxablePaise)
	}
	if b.CGSTPaise != 600 || b.SGSTPaise != 600 || b.IGSTPaise != 0 {
		t.Fatalf("taxes = %d/%d/%d, want 600/600/0", b.CGSTPaise, b.SGSTPaise, b.IGSTPaise)
	}
	if b.LineTotalPaise != 11200 || b.ResidualPaise != 0 {
		t.Fatalf("line total/residual = %d/%d, want 11200/0", b.LineTotalPaise, b.ResidualPaise)
	}
}

func TestComputeLineCrossJurisdictionFullRateIGST(t *testing.T) {
	b, err := ComputeLine(domain.LineItem{
		DrugSKU:        "DRG-A",
		Qty:            1,
		UnitPricePaise: 10000,
		TaxRateBP:      1800,
	}, Jurisdiction{SellerStateCode: "29", BuyerStateCode: "27"})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if b.IGSTPaise != 1800 || b.CGSTPaise != 0 || b.SGSTPaise != 0 {
		t.Fatalf("taxes = %d/%d/%d, want 0/0/1800", b.CGSTPaise, b.SGSTPaise, b.IGSTPaise)
	}
	if b.LineTotalPaise != 11800 {
		t.Fatalf("line total = %d, want 11800", b.LineTotalPaise)
	}
}

func TestComputeLineInclusiveBacksOutTax(t *testing.T) {
	b, err := ComputeLine(domain.LineItem{
		DrugSKU:          "DRG-A",
		Qty:              1,
		UnitPricePaise:   11200,
		TaxRateBP:        1200,
		PriceIncludesTax: true,
	}, sameState)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if b.TaxablePaise != 10000 {
		t.Fatalf("taxable = %d, want 10000", b.TaxablePaise)
	}
	if b.CGSTPaise != 600 || b.SGSTPaise != 600 {
		t.Fatalf("cgst/sgst = %d/%d, want 600/600", b.CGSTPaise, b.SGSTPaise)
	}
	if b.ResidualPaise != 0 {
		t.Fatalf("residual = %d, want 0", b.ResidualPaise)
	}
}

func TestComputeLineInclusiveResidualStaysWithinOnePaisa(t *testing.T) {
	// Awkward advertised price that does not divide cleanly.
	b, err := ComputeLine(domain.LineItem{
		DrugSKU:          "DRG-A",
		Qty:              1,
		UnitPricePaise:   9999,
		TaxRateBP:        1200,
		PriceIncludesTax: true,
	}, sameState)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if b.TaxablePaise != 8928 || b.CGSTPaise != 536 || b.SGSTPaise != 536 {
		t.Fatalf("breakdown = %d/%d/%d, want 8928/536/536", b.TaxablePaise, b.CGSTPaise, b.SGSTPaise)
	}
	if b.ResidualPaise != -1 {
		t.Fatalf("residual = %d, want -1", b.ResidualPaise)
	}
	if b.LineTotalPaise+b.ResidualPaise != 9999 {
		t.Fatalf("line total %d + residual %d != advertised 9999", b.LineTotalPaise, b.ResidualPaise)
	}
}

func TestComputeLineDiscountReducesGross(t *testing.T) {
	b, err := ComputeLine(domain.LineItem{
		DrugSKU:        "DRG-A",
		Qty:            4,
		UnitPricePaise: 2500,
		TaxRateBP:      1200,
		DiscountPaise:  1000,
	}, sameState)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if b.TaxablePaise != 9000 {
		t.Fatalf("taxable = %d, want 9000", b.TaxablePaise)
	}
	if b.CGSTPaise != 540 || b.SGSTPaise != 540 {
		t.Fatalf("cgst/sgst = %d/%d, want 540/540", b.CGSTPaise, b.SGSTPaise)
	}
}

func TestComputeLineRejectsBadInput(t *testing.T) {
	bad := []domain.LineItem{
		{DrugSKU: "", Qty: 1, UnitPricePaise: 100},
		{DrugSKU: "DRG-A", Qty: 0, UnitPricePaise: 100},
		{DrugSKU: "DRG-A", Qty: 1, UnitPricePaise: 0},
		{DrugSKU: "DRG-A", Qty: 1, UnitPricePaise: 100, TaxRateBP: 10001},
		{DrugSKU: "DRG-A", Qty: 1, UnitPricePaise: 100, DiscountPaise: 101},
		{DrugSKU: "DRG-A", Qty: 1, UnitPricePaise: 100, DiscountPaise: -1},
	}
	for i, line := range bad {
		if _, err := ComputeLine(line, sameState); !errors.Is(err, ErrInvalidLineItem) {
			t.Fatalf("case %d: err = %v, want ErrInvalidLineItem", i, err)
		}
	}
}

func TestComputeInvoiceAggregatesAndAppliesCharges(t *testing.T) {
	lines := []domain.LineItem{
		{DrugSKU: "DRG-A", Qty: 2, UnitPricePaise: 5000, TaxRateBP: 1200},
		{DrugSKU: "DRG-B", Qty: 1, UnitPricePaise: 1000, TaxRateBP: 1800},
	}
	charges := []domain.Charge{
		{Kind: "shipping", AmountPaise: 500},
		{Kind: "coupon", AmountPaise: -300},
	}

	breakdowns, totals, err := ComputeInvoice(lines, sameState, charges)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(breakdowns) != 2 {
		t.Fatalf("breakdown count = %d", len(breakdowns))
	}
	if totals.TaxablePaise != 11000 {
		t.Fatalf("taxable = %d, want 11000", totals.TaxablePaise)
	}
	if totals.CGSTPaise != 690 || totals.SGSTPaise != 690 {
		t.Fatalf("cgst/sgst = %d/%d, want 690/690", totals.CGSTPaise, totals.SGSTPaise)
	}
	if totals.ChargesPaise != 200 {
		t.Fatalf("charges = %d, want 200", totals.ChargesPaise)
	}
	if totals.GrandTotalPaise != 12580 {
		t.Fatalf("grand total = %d, want 12580", totals.GrandTotalPaise)
	}
}

func TestComputeInvoiceDeterministic(t *testing.T) {
	lines := []domain.LineItem{
		{DrugSKU: "DRG-A", Qty: 3, UnitPricePaise: 3333, TaxRateBP: 1200, PriceIncludesTax: true},
		{DrugSKU: "DRG-B", Qty: 7, UnitPricePaise: 719, TaxRateBP: 500},
	}

	_, first, err := ComputeInvoice(lines, sameState, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for i := 0; i < 100; i++ {
		_, again, err := ComputeInvoice(lines, sameState, nil)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if again != first {
			t.Fatalf("totals changed across identical runs: %+v vs %+v", again, first)
		}
	}
}

func TestComputeInvoiceRejectsChargesBelowZeroTotal(t *testing.T) {
	lines := []domain.LineItem{{DrugSKU: "DRG-A", Qty: 1, UnitPricePaise: 100, TaxRateBP: 0}}
	charges := []domain.Charge{{Kind: "coupon", AmountPaise: -500}}
	if _, _, err := ComputeInvoice(lines, sameState, charges); !errors.Is(err, ErrInvalidLineItem) {
		t.Fatalf("err = %v, want ErrInvalidLineItem", err)
	}
}

func TestComputeInvoiceEmptyCart(t *testing.T) {
	if _, _, err := ComputeInvoice(nil, sameState, nil); !errors.Is(err, ErrInvalidLineItem) {
		t.Fatalf("err = %v, want ErrInvalidLineItem", err)
	}
}
