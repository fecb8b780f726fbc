package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderProcessing     OrderStatus = "processing"
	OrderShipped        OrderStatus = "shipped"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
	OrderRefunded       OrderStatus = "refunded"
)

// orderTransitions lists, for each status, the statuses an admin may
// move an order into. Cancelled and refunded are terminal and reachable
// from every other status.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPendingPayment: {OrderPaid, OrderProcessing, OrderCancelled, OrderRefunded},
	OrderPaid:           {OrderProcessing, OrderShipped, OrderCancelled, OrderRefunded},
	OrderProcessing:     {OrderShipped, OrderCancelled, OrderRefunded},
	OrderShipped:        {OrderDelivered, OrderCancelled, OrderRefunded},
	OrderDelivered:      {OrderCancelled, OrderRefunded},
	OrderCancelled:      nil,
	OrderRefunded:       nil,
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo reports whether an order in status s may be moved to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// DeliveryMethod selects between shipping and in-workshop pickup.
type DeliveryMethod string

const (
	DeliveryShip   DeliveryMethod = "delivery"
	DeliveryPickup DeliveryMethod = "pickup"
)

// Contact is the buyer contact block captured at checkout.
type Contact struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Address is a postal address. It is required on orders only when the
// delivery method is DeliveryShip.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// OrderItem is the immutable snapshot of an instrument taken when the
// order was created. Later catalog edits never change it.
type OrderItem struct {
	ID           uint64          `json:"id"`
	OrderID      uint64          `json:"orderId"`
	InstrumentID uint64          `json:"instrumentId"`
	Title        string          `json:"title"`
	Price        decimal.Decimal `json:"price"`
}

// Order is a reservation or purchase. Exactly one of CustomerID and
// GuestEmail is set: authenticated checkouts carry the customer id,
// guest checkouts carry the lowercased contact email.
type Order struct {
	ID              uint64          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	CustomerID      *uint64         `json:"customerId,omitempty"`
	GuestEmail      *string         `json:"guestEmail,omitempty"`
	Status          OrderStatus     `json:"status"`
	DeliveryMethod  DeliveryMethod  `json:"deliveryMethod"`
	Contact         Contact         `json:"contact"`
	ShippingAddress *Address        `json:"shippingAddress,omitempty"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Insurance       decimal.Decimal `json:"insurance"`
	Total           decimal.Decimal `json:"total"`
	CustomerNotes   string          `json:"customerNotes,omitempty"`
	TrackingNumber  *string         `json:"trackingNumber,omitempty"`
	Carrier         *string         `json:"carrier,omitempty"`
	AdminNote       *string         `json:"adminNote,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	ShippedAt       *time.Time      `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// InstrumentIDs returns the ids of the instruments snapshotted in o.
func (o Order) InstrumentIDs() []uint64 {
	ids := make([]uint64, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.InstrumentID)
	}
	return ids
}

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	Status OrderStatus
	Page   int
	Limit  int
}
