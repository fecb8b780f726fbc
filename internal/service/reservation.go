package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/lock"
	"github.com/iliyamo/luthier-storefront/internal/metrics"
	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/repository"
	"github.com/iliyamo/luthier-storefront/internal/utils"
)

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(repository.Tx) error) error
}

// InstrumentReader reads catalog rows without locking them.
type InstrumentReader interface {
	GetByIDs(ctx context.Context, ids []uint64, locale string) ([]model.Instrument, error)
}

// Actor is the authenticated caller, taken from the access token.
type Actor struct {
	UserID uint64
	Email  string
	Role   string
}

// ReservationConfig holds the business limits of checkout.
type ReservationConfig struct {
	Limit     int             // max pending_payment orders per customer or guest email
	Tolerance decimal.Decimal // max accepted |submitted − recomputed| total
	LockTTL   time.Duration
}

// CartItem is one line of the client-side cart.
type CartItem struct {
	InstrumentID uint64 `json:"instrumentId" validate:"required"`
}

// QuoteInput reprices a cart.
type QuoteInput struct {
	Items          []CartItem           `json:"items" validate:"required,min=1,dive"`
	DeliveryMethod model.DeliveryMethod `json:"deliveryMethod" validate:"required,oneof=delivery pickup"`
	Locale         string               `json:"locale"`
}

// QuoteLine is a repriced cart line.
type QuoteLine struct {
	InstrumentID uint64          `json:"instrumentId"`
	Title        string          `json:"title"`
	Price        decimal.Decimal `json:"price"`
	Available    bool            `json:"available"`
}

// Quote is the live price of a cart. Unavailable lists ids that exist but
// cannot be reserved now; Missing lists ids that do not exist.
type Quote struct {
	Lines       []QuoteLine `json:"lines"`
	Unavailable []uint64    `json:"unavailable"`
	Missing     []uint64    `json:"missing"`
	Totals
}

// ReservationInput is the checkout form. Address fields are required only
// for delivery orders.
type ReservationInput struct {
	Items          []CartItem           `json:"items" validate:"required,min=1,max=20,dive"`
	FirstName      string               `json:"firstName" validate:"required,max=100"`
	LastName       string               `json:"lastName" validate:"required,max=100"`
	Email          string               `json:"email" validate:"required,email,max=255"`
	Phone          string               `json:"phone" validate:"required,max=50"`
	DeliveryMethod model.DeliveryMethod `json:"deliveryMethod" validate:"required,oneof=delivery pickup"`
	Street         string               `json:"street" validate:"required_if=DeliveryMethod delivery,max=255"`
	City           string               `json:"city" validate:"required_if=DeliveryMethod delivery,max=100"`
	State          string               `json:"state" validate:"required_if=DeliveryMethod delivery,max=100"`
	Zip            string               `json:"zip" validate:"required_if=DeliveryMethod delivery,max=20"`
	Country        string               `json:"country" validate:"required_if=DeliveryMethod delivery,max=100"`
	Total          decimal.Decimal      `json:"total"`
	Notes          string               `json:"notes" validate:"max=2000"`
}

// ReservationResult is returned to the buyer after a successful checkout.
type ReservationResult struct {
	ReservationNumber string            `json:"reservationNumber"`
	OrderID           uint64            `json:"orderId"`
	Total             decimal.Decimal   `json:"total"`
	Status            model.OrderStatus `json:"status"`
	Order             *model.Order      `json:"-"`
}

// ReservationService creates pending_payment orders from carts.
type ReservationService struct {
	store     TxRunner
	catalog   InstrumentReader
	locker    lock.Locker
	pricing   Pricing
	cfg       ReservationConfig
	validator *Validator
	log       *zap.Logger
	now       func() time.Time
}

func NewReservationService(store TxRunner, catalog InstrumentReader, locker lock.Locker, pricing Pricing, cfg ReservationConfig, log *zap.Logger) *ReservationService {
	if locker == nil {
		locker = lock.Noop{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &ReservationService{
		store:     store,
		catalog:   catalog,
		locker:    locker,
		pricing:   pricing,
		cfg:       cfg,
		validator: NewValidator(),
		log:       log,
		now:       time.Now,
	}
}

// uniqueIDs returns the distinct instrument ids of a cart in ascending
// order. One instrument is one unit, so duplicates collapse.
func uniqueIDs(items []CartItem) []uint64 {
	seen := make(map[uint64]bool, len(items))
	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		if !seen[it.InstrumentID] {
			seen[it.InstrumentID] = true
			ids = append(ids, it.InstrumentID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Quote reprices a cart against the live catalog. It never writes.
func (s *ReservationService) Quote(ctx context.Context, in QuoteInput) (*Quote, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	ids := uniqueIDs(in.Items)
	insts, err := s.catalog.GetByIDs(ctx, ids, in.Locale)
	if err != nil {
		return nil, fmt.Errorf("load cart instruments: %w", err)
	}
	byID := make(map[uint64]model.Instrument, len(insts))
	for _, inst := range insts {
		byID[inst.ID] = inst
	}
	q := &Quote{Lines: []QuoteLine{}, Unavailable: []uint64{}, Missing: []uint64{}}
	var priced []model.Instrument
	for _, id := range ids {
		inst, ok := byID[id]
		if !ok {
			q.Missing = append(q.Missing, id)
			continue
		}
		line := QuoteLine{InstrumentID: id, Title: inst.Title, Price: inst.Price, Available: inst.Reservable()}
		if !line.Available {
			q.Unavailable = append(q.Unavailable, id)
		} else {
			priced = append(priced, inst)
		}
		q.Lines = append(q.Lines, line)
	}
	q.Totals = s.pricing.Compute(priced, in.DeliveryMethod)
	return q, nil
}

// Create validates a checkout and, inside one transaction holding row
// locks on the cart's instruments and on the buyer's pending orders,
// creates a pending_payment order, reserves the instruments and queues
// the confirmation emails.
//
// Checks run in order: form fields, instrument existence and
// availability, price consistency, reservation limit. A failed check
// writes nothing.
func (s *ReservationService) Create(ctx context.Context, in ReservationInput, actor *Actor) (res *ReservationResult, err error) {
	defer func() {
		result := "created"
		if err != nil {
			result = "error"
			if se, ok := AsError(err); ok {
				result = se.Code
			}
		}
		metrics.Reservations.WithLabelValues(result).Inc()
	}()

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DeliveryMethod = model.DeliveryMethod(strings.ToLower(strings.TrimSpace(string(in.DeliveryMethod))))
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	ids := uniqueIDs(in.Items)

	var (
		customerID *uint64
		guestEmail string
		lockKey    string
	)
	if actor != nil && actor.UserID != 0 {
		id := actor.UserID
		customerID = &id
		lockKey = "reservation:customer:" + strconv.FormatUint(id, 10)
	} else {
		guestEmail = in.Email
		lockKey = "reservation:guest:" + guestEmail
	}

	release, err := s.locker.Acquire(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, newError(http.StatusConflict, CodeReservationInProgress, "another reservation for this customer is being processed")
		}
		// Redis trouble must not block checkout; row locks still apply.
		s.log.Warn("reservation lock unavailable", zap.String("key", lockKey), zap.Error(err))
		release = func() {}
	}
	defer release()

	var order *model.Order
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		insts, err := tx.InstrumentsForUpdate(ctx, ids)
		if err != nil {
			return fmt.Errorf("lock instruments: %w", err)
		}
		if missing := missingIDs(ids, insts); len(missing) > 0 {
			return newError(http.StatusBadRequest, CodeInstrumentNotFound, "some instruments in the cart no longer exist").
				With("missing", missing)
		}
		var unavailable []uint64
		for _, inst := range insts {
			if !inst.Reservable() {
				unavailable = append(unavailable, inst.ID)
			}
		}
		if len(unavailable) > 0 {
			return newError(http.StatusBadRequest, CodeInstrumentUnavailable, "some instruments in the cart are no longer available").
				With("unavailable", unavailable)
		}

		totals := s.pricing.Compute(insts, in.DeliveryMethod)
		if !WithinTolerance(in.Total, totals.Total, s.cfg.Tolerance) {
			return newError(http.StatusBadRequest, CodePriceMismatch, "prices have changed, please review your cart").
				With("expectedTotal", totals.Total)
		}

		pending, err := tx.CountPendingOrders(ctx, customerID, guestEmail)
		if err != nil {
			return fmt.Errorf("count pending orders: %w", err)
		}
		if pending >= s.cfg.Limit {
			return newError(http.StatusBadRequest, CodeReservationLimit, "you already have the maximum number of open reservations").
				With("limit", s.cfg.Limit)
		}

		number, err := utils.NewOrderNumber(s.now())
		if err != nil {
			return fmt.Errorf("order number: %w", err)
		}
		o := &model.Order{
			OrderNumber:    number,
			CustomerID:     customerID,
			Status:         model.OrderPendingPayment,
			DeliveryMethod: in.DeliveryMethod,
			Contact: model.Contact{
				FirstName: strings.TrimSpace(in.FirstName),
				LastName:  strings.TrimSpace(in.LastName),
				Email:     in.Email,
				Phone:     strings.TrimSpace(in.Phone),
			},
			Subtotal:      totals.Subtotal,
			Shipping:      totals.Shipping,
			Insurance:     totals.Insurance,
			Total:         totals.Total,
			CustomerNotes: strings.TrimSpace(in.Notes),
		}
		if customerID == nil {
			ge := guestEmail
			o.GuestEmail = &ge
		}
		if in.DeliveryMethod == model.DeliveryShip {
			o.ShippingAddress = &model.Address{
				Street: strings.TrimSpace(in.Street), City: strings.TrimSpace(in.City),
				State: strings.TrimSpace(in.State), Zip: strings.TrimSpace(in.Zip),
				Country: strings.TrimSpace(in.Country),
			}
		}
		for _, inst := range insts {
			o.Items = append(o.Items, model.OrderItem{InstrumentID: inst.ID, Title: inst.Title, Price: inst.Price})
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for _, inst := range insts {
			if err := tx.UpdateInstrumentState(ctx, inst.ID, model.InstrumentReserved, inst.Stock); err != nil {
				return fmt.Errorf("reserve instrument %d: %w", inst.ID, err)
			}
		}

		msgs, err := orderEmails(o, model.JobReservationConfirmation, model.JobOwnerNotification)
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, msgs...); err != nil {
			return fmt.Errorf("enqueue emails: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reservation created",
		zap.String("order_number", order.OrderNumber),
		zap.Uint64("order_id", order.ID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total.StringFixed(2)))
	return &ReservationResult{
		ReservationNumber: order.OrderNumber,
		OrderID:           order.ID,
		Total:             order.Total,
		Status:            order.Status,
		Order:             order,
	}, nil
}

func missingIDs(want []uint64, got []model.Instrument) []uint64 {
	have := make(map[uint64]bool, len(got))
	for _, inst := range got {
		have[inst.ID] = true
	}
	var missing []uint64
	for _, id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// orderEmails builds one outbox message per kind carrying o's snapshot.
func orderEmails(o *model.Order, kinds ...string) ([]model.OutboxMessage, error) {
	msgs := make([]model.OutboxMessage, 0, len(kinds))
	for _, kind := range kinds {
		m, err := model.NewOutboxMessage(kind, model.OrderEmailPayload{Order: *o})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
