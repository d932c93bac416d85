package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tolerance is the largest accepted drift between the stored total and its
// recomputation from the components.
var Tolerance = decimal.New(1, -2)

type Totals struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
}

// PriceLines fills TotalPrice on every line and returns the subtotal.
func PriceLines(lines []OrderLine) decimal.Decimal {
	subtotal := decimal.Zero
	for i := range lines {
		lines[i].TotalPrice = lines[i].UnitPrice.Mul(decimal.NewFromInt(int64(lines[i].Quantity)))
		subtotal = subtotal.Add(lines[i].TotalPrice)
	}
	return subtotal
}

// ComputeTotals prices lines and applies tax, shipping and discount. Tax is
// rounded half-up to cents.
func ComputeTotals(lines []OrderLine, vatRate, shipping, discount decimal.Decimal) (Totals, error) {
	if shipping.IsNegative() {
		return Totals{}, fmt.Errorf("%w: negative shipping cost", ErrInvalidAmount)
	}
	if discount.IsNegative() {
		return Totals{}, fmt.Errorf("%w: negative discount", ErrInvalidAmount)
	}

	subtotal := PriceLines(lines)
	tax := subtotal.Mul(vatRate).Round(2)
	gross := subtotal.Add(tax).Add(shipping)
	if discount.GreaterThan(gross) {
		return Totals{}, fmt.Errorf("%w: discount exceeds order value", ErrInvalidAmount)
	}

	return Totals{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shipping,
		Discount:     discount,
		Total:        gross.Sub(discount),
	}, nil
}

// Consistent reports whether o's stored amounts agree with each other.
func (o *Order) Consistent() bool {
	sum := decimal.Zero
	for _, l := range o.Items {
		sum = sum.Add(l.TotalPrice)
	}
	if !sum.Equal(o.Subtotal) {
		return false
	}
	want := o.Subtotal.Add(o.Tax).Add(o.ShippingCost).Sub(o.Discount)
	return want.Sub(o.Total).Abs().LessThanOrEqual(Tolerance)
}
