package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/lock"
	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/service"
	"github.com/iliyamo/luthier-storefront/internal/testutil"
)

// busyLocker reports every lock as held by someone else.
type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, lock.ErrNotAcquired
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireCode(t *testing.T, err error, code string) *service.Error {
	t.Helper()
	require.Error(t, err)
	se, ok := service.AsError(err)
	require.True(t, ok, "expected *service.Error, got %v", err)
	assert.Equal(t, code, se.Code)
	return se
}

type fixture struct {
	store *testutil.Store
	res   *service.ReservationService
	ord   *service.OrderService
}

func newFixture(t *testing.T, pricing service.Pricing, limit int) *fixture {
	t.Helper()
	store := testutil.NewStore("en")
	log := zap.NewNop()
	return &fixture{
		store: store,
		res: service.NewReservationService(store, store.InstrumentRepo(), lock.Noop{}, pricing,
			service.ReservationConfig{Limit: limit, Tolerance: dec("1")}, log),
		ord: service.NewOrderService(store, store.OrderRepo(), log),
	}
}

func (f *fixture) addInstrument(title, price string) model.Instrument {
	return f.store.AddInstrument(model.Instrument{
		Slug:   title,
		Type:   "violin",
		Title:  title,
		Price:  dec(price),
		Status: model.InstrumentAvailable,
		Stock:  1,
	})
}

func pickup(email string, total string, ids ...uint64) service.ReservationInput {
	in := service.ReservationInput{
		FirstName:      "Clara",
		LastName:       "Wieck",
		Email:          email,
		Phone:          "+49 30 1234",
		DeliveryMethod: model.DeliveryPickup,
		Total:          dec(total),
	}
	for _, id := range ids {
		in.Items = append(in.Items, service.CartItem{InstrumentID: id})
	}
	return in
}
