package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/service"
)

func TestCreateReservation_Pickup(t *testing.T) {
	f := newFixture(t, service.Pricing{ShippingFlat: dec("50"), InsuranceRate: dec("0.01")}, 2)
	violin := f.addInstrument("violin-1", "1200.00")

	res, err := f.res.Create(context.Background(), pickup("Clara@Example.com", "1200", violin.ID), nil)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPendingPayment, res.Status)
	assert.Regexp(t, `^SI-[0-9A-Z]+-[0-9A-Z]{4}$`, res.ReservationNumber)
	assert.Equal(t, "1200.00", res.Total.StringFixed(2))

	orders := f.store.Orders()
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Nil(t, o.CustomerID)
	require.NotNil(t, o.GuestEmail)
	assert.Equal(t, "clara@example.com", *o.GuestEmail)
	assert.Nil(t, o.ShippingAddress)
	assert.True(t, o.Shipping.IsZero())
	require.Len(t, o.Items, 1)
	assert.Equal(t, "violin-1", o.Items[0].Title)

	inst, _ := f.store.Instrument(violin.ID)
	assert.Equal(t, model.InstrumentReserved, inst.Status)
	assert.Equal(t, 1, inst.Stock)

	assert.Equal(t, []string{model.JobReservationConfirmation, model.JobOwnerNotification}, f.store.OutboxKinds())
}

func TestCreateReservation_DeliveryPricing(t *testing.T) {
	f := newFixture(t, service.Pricing{ShippingFlat: dec("50"), InsuranceRate: dec("0.01")}, 2)
	a := f.addInstrument("cello", "3000")

	in := pickup("buyer@example.com", "3080", a.ID)
	in.DeliveryMethod = model.DeliveryShip
	in.Street, in.City, in.State, in.Zip, in.Country = "Hauptstr. 1", "Berlin", "BE", "10115", "DE"

	res, err := f.res.Create(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, "3080.00", res.Total.StringFixed(2))
	o := f.store.Orders()[0]
	assert.Equal(t, "50.00", o.Shipping.StringFixed(2))
	assert.Equal(t, "30.00", o.Insurance.StringFixed(2))
	require.NotNil(t, o.ShippingAddress)
	assert.Equal(t, "Berlin", o.ShippingAddress.City)
}

func TestCreateReservation_DeliveryNeedsAddress(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	a := f.addInstrument("viola", "900")
	in := pickup("buyer@example.com", "900", a.ID)
	in.DeliveryMethod = model.DeliveryShip

	_, err := f.res.Create(context.Background(), in, nil)
	se := requireCode(t, err, service.CodeInvalidRequest)
	fields := se.Details["fields"].(map[string]string)
	for _, name := range []string{"street", "city", "state", "zip", "country"} {
		assert.Contains(t, fields, name)
	}
	assert.Empty(t, f.store.Orders())
}

func TestCreateReservation_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture) service.ReservationInput
		code  string
	}{
		{
			name: "missing instrument",
			setup: func(f *fixture) service.ReservationInput {
				return pickup("a@example.com", "0", 999)
			},
			code: service.CodeInstrumentNotFound,
		},
		{
			name: "reserved instrument",
			setup: func(f *fixture) service.ReservationInput {
				inst := f.store.AddInstrument(model.Instrument{Slug: "x", Title: "x", Price: dec("10"), Status: model.InstrumentReserved, Stock: 1})
				return pickup("a@example.com", "10", inst.ID)
			},
			code: service.CodeInstrumentUnavailable,
		},
		{
			name: "no stock",
			setup: func(f *fixture) service.ReservationInput {
				inst := f.store.AddInstrument(model.Instrument{Slug: "x", Title: "x", Price: dec("10"), Status: model.InstrumentAvailable, Stock: 0})
				return pickup("a@example.com", "10", inst.ID)
			},
			code: service.CodeInstrumentUnavailable,
		},
		{
			name: "stale total",
			setup: func(f *fixture) service.ReservationInput {
				inst := f.addInstrument("guitar", "500")
				return pickup("a@example.com", "450", inst.ID)
			},
			code: service.CodePriceMismatch,
		},
		{
			name: "empty cart",
			setup: func(f *fixture) service.ReservationInput {
				return pickup("a@example.com", "0")
			},
			code: service.CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, service.Pricing{}, 2)
			_, err := f.res.Create(context.Background(), tt.setup(f), nil)
			requireCode(t, err, tt.code)
			assert.Empty(t, f.store.Orders())
			assert.Empty(t, f.store.Outbox())
		})
	}
}

func TestCreateReservation_PriceWithinTolerance(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	a := f.addInstrument("mandolin", "500")
	_, err := f.res.Create(context.Background(), pickup("a@example.com", "500.99", a.ID), nil)
	require.NoError(t, err)
}

func TestCreateReservation_ToleranceBoundaries(t *testing.T) {
	tests := []struct {
		total string
		ok    bool
	}{
		{"3499", true},
		{"3501", true},
		{"3498.99", false},
		{"3501.01", false},
	}
	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			f := newFixture(t, service.Pricing{}, 2)
			a := f.addInstrument("cello", "3500")
			res, err := f.res.Create(context.Background(), pickup("a@example.com", tt.total, a.ID), nil)
			if !tt.ok {
				requireCode(t, err, service.CodePriceMismatch)
				assert.Empty(t, f.store.Orders())
				return
			}
			require.NoError(t, err)
			o, err := f.ord.Get(context.Background(), res.OrderID)
			require.NoError(t, err)
			assert.True(t, dec("3500").Equal(o.Total), "order total is the recomputed one, got %s", o.Total)
		})
	}
}

func TestCreateReservation_ItemPriceSurvivesCatalogEdit(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	catalog := service.NewCatalogService(f.store.InstrumentRepo(), f.store, "en", nil, zap.NewNop())
	a := f.addInstrument("viola", "3500")
	res, err := f.res.Create(context.Background(), pickup("a@example.com", "3500", a.ID), nil)
	require.NoError(t, err)

	_, err = catalog.Update(context.Background(), a.ID, service.InstrumentInput{
		Slug:   "viola",
		Type:   "viola",
		Title:  "Viola, revised",
		Price:  dec("4200"),
		Status: model.InstrumentReserved,
		Stock:  1,
	}, service.SaveOptions{SkipAutoTranslate: true})
	require.NoError(t, err)

	o, err := f.ord.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "viola", o.Items[0].Title)
	assert.True(t, dec("3500").Equal(o.Items[0].Price), "item price %s", o.Items[0].Price)
	assert.True(t, dec("3500").Equal(o.Subtotal), "subtotal %s", o.Subtotal)
	assert.True(t, dec("3500").Equal(o.Total), "total %s", o.Total)
}

func TestCreateReservation_PriceMismatchReportsExpected(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	a := f.addInstrument("mandolin", "500")
	_, err := f.res.Create(context.Background(), pickup("a@example.com", "498", a.ID), nil)
	se := requireCode(t, err, service.CodePriceMismatch)
	assert.Contains(t, se.Details, "expectedTotal")
	inst, _ := f.store.Instrument(a.ID)
	assert.Equal(t, model.InstrumentAvailable, inst.Status)
}

func TestCreateReservation_LimitPerGuestEmail(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	a := f.addInstrument("a", "10")
	b := f.addInstrument("b", "10")
	c := f.addInstrument("c", "10")
	ctx := context.Background()

	_, err := f.res.Create(ctx, pickup("same@example.com", "10", a.ID), nil)
	require.NoError(t, err)
	_, err = f.res.Create(ctx, pickup("SAME@example.com", "10", b.ID), nil)
	require.NoError(t, err)
	_, err = f.res.Create(ctx, pickup("same@example.com", "10", c.ID), nil)
	se := requireCode(t, err, service.CodeReservationLimit)
	assert.Equal(t, 2, se.Details["limit"])

	inst, _ := f.store.Instrument(c.ID)
	assert.Equal(t, model.InstrumentAvailable, inst.Status)

	// A different buyer is not affected.
	_, err = f.res.Create(ctx, pickup("other@example.com", "10", c.ID), nil)
	require.NoError(t, err)
}

func TestCreateReservation_LimitPerCustomer(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 1)
	a := f.addInstrument("a", "10")
	b := f.addInstrument("b", "10")
	actor := &service.Actor{UserID: 42, Email: "member@example.com", Role: model.RoleCustomer}
	ctx := context.Background()

	_, err := f.res.Create(ctx, pickup("member@example.com", "10", a.ID), actor)
	require.NoError(t, err)
	o := f.store.Orders()[0]
	require.NotNil(t, o.CustomerID)
	assert.Equal(t, uint64(42), *o.CustomerID)
	assert.Nil(t, o.GuestEmail)

	// Another contact email does not get around the customer limit.
	_, err = f.res.Create(ctx, pickup("alias@example.com", "10", b.ID), actor)
	requireCode(t, err, service.CodeReservationLimit)
}

func TestCreateReservation_CancelledOrdersDoNotCount(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 1)
	a := f.addInstrument("a", "10")
	b := f.addInstrument("b", "10")
	ctx := context.Background()

	res, err := f.res.Create(ctx, pickup("g@example.com", "10", a.ID), nil)
	require.NoError(t, err)
	_, err = f.ord.UpdateStatus(ctx, res.OrderID, service.StatusUpdate{Status: model.OrderCancelled})
	require.NoError(t, err)
	_, err = f.res.Create(ctx, pickup("g@example.com", "10", b.ID), nil)
	require.NoError(t, err)
}

func TestCreateReservation_SameInstrumentTwice(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 5)
	a := f.addInstrument("a", "10")
	ctx := context.Background()

	_, err := f.res.Create(ctx, pickup("one@example.com", "10", a.ID), nil)
	require.NoError(t, err)
	_, err = f.res.Create(ctx, pickup("two@example.com", "10", a.ID), nil)
	requireCode(t, err, service.CodeInstrumentUnavailable)
	assert.Len(t, f.store.Orders(), 1)
}

func TestCreateReservation_DuplicateCartLinesCollapse(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	a := f.addInstrument("a", "10")
	res, err := f.res.Create(context.Background(), pickup("d@example.com", "10", a.ID, a.ID), nil)
	require.NoError(t, err)
	assert.Len(t, res.Order.Items, 1)
}

func TestCreateReservation_LockBusy(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	a := f.addInstrument("a", "10")
	f.res = service.NewReservationService(f.store, f.store.InstrumentRepo(), busyLocker{}, service.Pricing{},
		service.ReservationConfig{Limit: 2, Tolerance: dec("1")}, zap.NewNop())

	_, err := f.res.Create(context.Background(), pickup("a@example.com", "10", a.ID), nil)
	requireCode(t, err, service.CodeReservationInProgress)
	assert.Empty(t, f.store.Orders())
}

func TestCreateReservation_OutboxFailureRollsBack(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	a := f.addInstrument("a", "10")
	f.store.EnqueueErr = errors.New("disk full")

	_, err := f.res.Create(context.Background(), pickup("a@example.com", "10", a.ID), nil)
	require.Error(t, err)
	assert.Empty(t, f.store.Orders())
	inst, _ := f.store.Instrument(a.ID)
	assert.Equal(t, model.InstrumentAvailable, inst.Status)
}

func TestQuote(t *testing.T) {
	f := newFixture(t, service.Pricing{ShippingFlat: dec("25"), InsuranceRate: dec("0.02")}, 2)
	a := f.addInstrument("a", "100")
	b := f.store.AddInstrument(model.Instrument{Slug: "b", Title: "b", Price: dec("50"), Status: model.InstrumentSold})

	q, err := f.res.Quote(context.Background(), service.QuoteInput{
		Items:          []service.CartItem{{InstrumentID: a.ID}, {InstrumentID: b.ID}, {InstrumentID: 404}},
		DeliveryMethod: model.DeliveryShip,
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{b.ID}, q.Unavailable)
	assert.Equal(t, []uint64{404}, q.Missing)
	assert.Len(t, q.Lines, 2)
	assert.Equal(t, "100.00", q.Subtotal.StringFixed(2))
	assert.Equal(t, "127.00", q.Total.StringFixed(2))
	assert.Empty(t, f.store.Orders())
}
