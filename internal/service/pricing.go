package service

import (
	"github.com/shopspring/decimal"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

// Pricing computes order totals. Shipping is a flat fee and insurance a
// rate on the subtotal; both apply to delivery orders only. There is no
// tax engine.
type Pricing struct {
	ShippingFlat  decimal.Decimal
	InsuranceRate decimal.Decimal
}

// Totals is the price breakdown of a cart.
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Insurance decimal.Decimal `json:"insurance"`
	Total     decimal.Decimal `json:"total"`
}

// Compute returns the totals for instruments delivered by method.
func (p Pricing) Compute(instruments []model.Instrument, method model.DeliveryMethod) Totals {
	subtotal := decimal.Zero
	for _, inst := range instruments {
		subtotal = subtotal.Add(inst.Price)
	}
	t := Totals{Subtotal: subtotal.Round(2), Shipping: decimal.Zero, Insurance: decimal.Zero}
	if method == model.DeliveryShip && len(instruments) > 0 {
		t.Shipping = p.ShippingFlat.Round(2)
		t.Insurance = subtotal.Mul(p.InsuranceRate).Round(2)
	}
	t.Total = t.Subtotal.Add(t.Shipping).Add(t.Insurance)
	return t
}

// WithinTolerance reports whether a client-submitted total is close
// enough to the recomputed one.
func WithinTolerance(submitted, computed, tolerance decimal.Decimal) bool {
	return submitted.Sub(computed).Abs().LessThanOrEqual(tolerance)
}
