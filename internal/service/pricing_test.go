package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

func TestPricingCompute(t *testing.T) {
	p := Pricing{ShippingFlat: decimal.NewFromInt(40), InsuranceRate: decimal.RequireFromString("0.015")}
	insts := []model.Instrument{
		{Price: decimal.RequireFromString("1000.00")},
		{Price: decimal.RequireFromString("333.33")},
	}

	tests := []struct {
		name   string
		method model.DeliveryMethod
		insts  []model.Instrument
		want   string
	}{
		{"pickup has no extras", model.DeliveryPickup, insts, "1333.33"},
		{"delivery adds shipping and insurance", model.DeliveryShip, insts, "1393.33"},
		{"empty cart is free", model.DeliveryShip, nil, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Compute(tt.insts, tt.method)
			assert.Equal(t, tt.want, got.Total.StringFixed(2))
		})
	}
}

func TestWithinTolerance(t *testing.T) {
	one := decimal.NewFromInt(1)
	assert.True(t, WithinTolerance(decimal.RequireFromString("99.00"), decimal.NewFromInt(100), one))
	assert.True(t, WithinTolerance(decimal.RequireFromString("101"), decimal.NewFromInt(100), one))
	assert.False(t, WithinTolerance(decimal.RequireFromString("101.01"), decimal.NewFromInt(100), one))
}

func TestUniqueIDs(t *testing.T) {
	got := uniqueIDs([]CartItem{{InstrumentID: 5}, {InstrumentID: 2}, {InstrumentID: 5}})
	assert.Equal(t, []uint64{2, 5}, got)
}
