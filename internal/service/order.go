package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/metrics"
	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/repository"
)

// OrderReader reads orders without locking.
type OrderReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Order, error)
	GetByNumber(ctx context.Context, number string) (*model.Order, error)
	List(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error)
	ListForCustomer(ctx context.Context, customerID uint64, email string) ([]model.Order, error)
}

// StatusUpdate is an admin request to move an order to another status.
// Tracking fields and the note are stored whenever they are non-nil.
type StatusUpdate struct {
	Status         model.OrderStatus `json:"status" validate:"required"`
	TrackingNumber *string           `json:"trackingNumber" validate:"omitempty,max=128"`
	Carrier        *string           `json:"carrier" validate:"omitempty,max=64"`
	AdminNote      *string           `json:"adminNote" validate:"omitempty,max=2000"`
}

// OrderPage is one page of the admin order list.
type OrderPage struct {
	Orders []model.Order `json:"orders"`
	Total  int           `json:"total"`
	Page   int           `json:"page"`
	Limit  int           `json:"limit"`
}

// OrderService owns the order lifecycle.
type OrderService struct {
	store     TxRunner
	orders    OrderReader
	validator *Validator
	log       *zap.Logger
	now       func() time.Time
}

func NewOrderService(store TxRunner, orders OrderReader, log *zap.Logger) *OrderService {
	return &OrderService{store: store, orders: orders, validator: NewValidator(), log: log, now: time.Now}
}

// UpdateStatus applies an admin status change following the transition
// table. A request for the current status only updates the tracking
// fields and note; it has no side effects. The status write, instrument
// updates and queued emails commit together.
func (s *OrderService) UpdateStatus(ctx context.Context, id uint64, in StatusUpdate) (*model.Order, error) {
	in.Status = model.OrderStatus(strings.ToLower(strings.TrimSpace(string(in.Status))))
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if !in.Status.Valid() {
		return nil, newError(http.StatusBadRequest, CodeInvalidStatus, "unknown order status").With("status", in.Status)
	}

	var (
		updated *model.Order
		from    model.OrderStatus
	)
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.OrderForUpdate(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return errOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		from = o.Status
		applyFulfilment(o, in)

		if o.Status == in.Status {
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return fmt.Errorf("update order: %w", err)
			}
			updated = o
			return nil
		}
		if !o.Status.CanTransitionTo(in.Status) {
			return newError(http.StatusConflict, CodeInvalidTransition,
				fmt.Sprintf("cannot move an order from %s to %s", o.Status, in.Status)).
				With("from", o.Status).With("to", in.Status)
		}

		now := s.now().UTC()
		o.Status = in.Status
		switch in.Status {
		case model.OrderPaid:
			o.PaidAt = &now
		case model.OrderShipped:
			o.ShippedAt = &now
		case model.OrderDelivered:
			o.DeliveredAt = &now
		case model.OrderCancelled:
			o.CancelledAt = &now
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if err := s.transitionEffects(ctx, tx, o, from); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from != updated.Status {
		metrics.OrderTransitions.WithLabelValues(string(from), string(updated.Status)).Inc()
		s.log.Info("order status changed",
			zap.String("order_number", updated.OrderNumber),
			zap.String("from", string(from)),
			zap.String("to", string(updated.Status)))
	}
	return updated, nil
}

func applyFulfilment(o *model.Order, in StatusUpdate) {
	if in.TrackingNumber != nil {
		o.TrackingNumber = trimmedOrNil(*in.TrackingNumber)
	}
	if in.Carrier != nil {
		o.Carrier = trimmedOrNil(*in.Carrier)
	}
	if in.AdminNote != nil {
		o.AdminNote = trimmedOrNil(*in.AdminNote)
	}
}

func trimmedOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// transitionEffects runs the side effects of entering o.Status from prev.
func (s *OrderService) transitionEffects(ctx context.Context, tx repository.Tx, o *model.Order, prev model.OrderStatus) error {
	switch o.Status {
	case model.OrderPaid:
		if err := s.setInstruments(ctx, tx, o, model.InstrumentSold); err != nil {
			return err
		}
		return enqueueOrderEmail(ctx, tx, o, model.JobPaymentReceived)

	case model.OrderShipped:
		if o.DeliveryMethod != model.DeliveryShip {
			return nil
		}
		return enqueueOrderEmail(ctx, tx, o, model.JobShippingNotification)

	case model.OrderCancelled, model.OrderRefunded:
		// Delivered instruments are with the buyer; they stay sold.
		if prev == model.OrderDelivered {
			return nil
		}
		return s.setInstruments(ctx, tx, o, model.InstrumentAvailable)
	}
	return nil
}

// setInstruments moves the order's instruments to status. Instruments
// that were released earlier or changed by hand since are left alone.
func (s *OrderService) setInstruments(ctx context.Context, tx repository.Tx, o *model.Order, status model.InstrumentStatus) error {
	insts, err := tx.InstrumentsForUpdate(ctx, o.InstrumentIDs())
	if err != nil {
		return fmt.Errorf("lock instruments: %w", err)
	}
	for _, inst := range insts {
		var stock int
		switch status {
		case model.InstrumentSold:
			if inst.Status != model.InstrumentReserved && inst.Status != model.InstrumentAvailable {
				continue
			}
			stock = 0
		case model.InstrumentAvailable:
			if inst.Status != model.InstrumentReserved && inst.Status != model.InstrumentSold {
				continue
			}
			stock = inst.Stock
			if stock < 1 {
				stock = 1
			}
		default:
			continue
		}
		if err := tx.UpdateInstrumentState(ctx, inst.ID, status, stock); err != nil {
			return fmt.Errorf("update instrument %d: %w", inst.ID, err)
		}
	}
	return nil
}

func enqueueOrderEmail(ctx context.Context, tx repository.Tx, o *model.Order, kind string) error {
	msgs, err := orderEmails(o, kind)
	if err != nil {
		return err
	}
	if err := tx.Enqueue(ctx, msgs...); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// Get returns an order for the admin views.
func (s *OrderService) Get(ctx context.Context, id uint64) (*model.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errOrderNotFound
	}
	return o, err
}

// List returns one page of orders for the admin views.
func (s *OrderService) List(ctx context.Context, f model.OrderFilter) (*OrderPage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, newError(http.StatusBadRequest, CodeInvalidStatus, "unknown order status").With("status", f.Status)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// ListForCustomer returns the caller's orders, including guest orders
// placed with the caller's email.
func (s *OrderService) ListForCustomer(ctx context.Context, actor Actor) ([]model.Order, error) {
	return s.orders.ListForCustomer(ctx, actor.UserID, actor.Email)
}

// GetForCustomer returns one of the caller's orders by number. Orders
// of other customers look exactly like missing ones.
func (s *OrderService) GetForCustomer(ctx context.Context, actor Actor, number string) (*model.Order, error) {
	o, err := s.orders.GetByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if !ownsOrder(actor, o) {
		return nil, errOrderNotFound
	}
	return o, nil
}

func ownsOrder(actor Actor, o *model.Order) bool {
	if o.CustomerID != nil {
		return *o.CustomerID == actor.UserID
	}
	return o.GuestEmail != nil && actor.Email != "" && strings.EqualFold(*o.GuestEmail, actor.Email)
}
