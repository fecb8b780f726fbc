package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

// OrderRepo persists orders and their item snapshots (orders_items).
// All timestamps are stored in UTC.
type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, order_number, customer_id, guest_email, status, delivery_method,
	first_name, last_name, email, phone, street, city, state, zip, country,
	subtotal, shipping, insurance, total, customer_notes, tracking_number, carrier, admin_note,
	paid_at, shipped_at, delivered_at, cancelled_at, created_at, updated_at`

func scanOrder(s rowScanner) (*model.Order, error) {
	var (
		o                                   model.Order
		customerID                          sql.NullInt64
		guestEmail                          sql.NullString
		street, city, state, zip, country   sql.NullString
		notes, tracking, carrier, adminNote sql.NullString
		paidAt, shippedAt, deliveredAt      sql.NullTime
		cancelledAt                         sql.NullTime
	)
	err := s.Scan(&o.ID, &o.OrderNumber, &customerID, &guestEmail, &o.Status, &o.DeliveryMethod,
		&o.Contact.FirstName, &o.Contact.LastName, &o.Contact.Email, &o.Contact.Phone,
		&street, &city, &state, &zip, &country,
		&o.Subtotal, &o.Shipping, &o.Insurance, &o.Total, &notes, &tracking, &carrier, &adminNote,
		&paidAt, &shippedAt, &deliveredAt, &cancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		id := uint64(customerID.Int64)
		o.CustomerID = &id
	}
	o.GuestEmail = stringPtr(guestEmail)
	if street.Valid {
		o.ShippingAddress = &model.Address{
			Street: street.String, City: city.String, State: state.String,
			Zip: zip.String, Country: country.String,
		}
	}
	o.CustomerNotes = notes.String
	o.TrackingNumber = stringPtr(tracking)
	o.Carrier = stringPtr(carrier)
	o.AdminNote = stringPtr(adminNote)
	o.PaidAt = timePtr(paidAt)
	o.ShippedAt = timePtr(shippedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.CancelledAt = timePtr(cancelledAt)
	o.Items = []model.OrderItem{}
	return &o, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// CreateTx inserts o and its item snapshots within tx and populates the
// generated ids and timestamps.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	var customerID sql.NullInt64
	if o.CustomerID != nil {
		customerID = sql.NullInt64{Int64: int64(*o.CustomerID), Valid: true}
	}
	var street, city, state, zip, country sql.NullString
	if a := o.ShippingAddress; a != nil {
		street = sql.NullString{String: a.Street, Valid: true}
		city = sql.NullString{String: a.City, Valid: true}
		state = sql.NullString{String: a.State, Valid: true}
		zip = sql.NullString{String: a.Zip, Valid: true}
		country = sql.NullString{String: a.Country, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO orders
		(order_number, customer_id, guest_email, status, delivery_method,
		 first_name, last_name, email, phone, street, city, state, zip, country,
		 subtotal, shipping, insurance, total, customer_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderNumber, customerID, nullString(o.GuestEmail), o.Status, o.DeliveryMethod,
		o.Contact.FirstName, o.Contact.LastName, o.Contact.Email, o.Contact.Phone,
		street, city, state, zip, country,
		o.Subtotal, o.Shipping, o.Insurance, o.Total, o.CustomerNotes)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)

	if len(o.Items) > 0 {
		query := `INSERT INTO orders_items (order_id, instrument_id, title, price) VALUES `
		args := make([]any, 0, len(o.Items)*4)
		for i, it := range o.Items {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?)"
			args = append(args, o.ID, it.InstrumentID, it.Title, it.Price)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return translate(err)
		}
	}

	// Query back the row to pick up ids and timestamps set by the server.
	created, err := r.getTx(ctx, tx, o.ID, false)
	if err != nil {
		return err
	}
	*o = *created
	return nil
}

// CountPendingTx counts pending_payment orders for a customer id, or for
// a guest email when customerID is nil, and locks them.
func (r *OrderRepo) CountPendingTx(ctx context.Context, tx *sql.Tx, customerID *uint64, guestEmail string) (int, error) {
	var (
		query string
		arg   any
	)
	if customerID != nil {
		query = `SELECT id FROM orders WHERE customer_id = ? AND status = 'pending_payment' FOR UPDATE`
		arg = *customerID
	} else {
		query = `SELECT id FROM orders WHERE guest_email = ? AND status = 'pending_payment' FOR UPDATE`
		arg = strings.ToLower(strings.TrimSpace(guestEmail))
	}
	rows, err := tx.QueryContext(ctx, query, arg)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

// ForUpdateTx loads an order with its items and locks the order row.
func (r *OrderRepo) ForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Order, error) {
	return r.getTx(ctx, tx, id, true)
}

func (r *OrderRepo) getTx(ctx context.Context, q dbtx, id uint64, lock bool) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	if err := r.loadItems(ctx, q, []*model.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateTx writes the mutable lifecycle columns of o.
func (r *OrderRepo) UpdateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	_, err := tx.ExecContext(ctx, `UPDATE orders SET
		status = ?, tracking_number = ?, carrier = ?, admin_note = ?,
		paid_at = ?, shipped_at = ?, delivered_at = ?, cancelled_at = ?
		WHERE id = ?`,
		o.Status, nullString(o.TrackingNumber), nullString(o.Carrier), nullString(o.AdminNote),
		nullTime(o.PaidAt), nullTime(o.ShippedAt), nullTime(o.DeliveredAt), nullTime(o.CancelledAt),
		o.ID)
	return translate(err)
}

// GetByID returns an order with its items or ErrNotFound.
func (r *OrderRepo) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	return r.getTx(ctx, r.db, id, false)
}

// GetByNumber returns an order by its public reservation number.
func (r *OrderRepo) GetByNumber(ctx context.Context, number string) (*model.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = ? LIMIT 1`, number))
	if err != nil {
		return nil, translate(err)
	}
	if err := r.loadItems(ctx, r.db, []*model.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns one page of orders, newest first, and the total count of
// orders matching f.
func (r *OrderRepo) List(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, (page-1)*limit)
	orders, err := r.queryMany(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListForCustomer returns the orders placed by a customer account, plus
// guest orders placed under the customer's (verified) email.
func (r *OrderRepo) ListForCustomer(ctx context.Context, customerID uint64, email string) ([]model.Order, error) {
	return r.queryMany(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_id = ? OR (customer_id IS NULL AND guest_email = ?)
		ORDER BY created_at DESC, id DESC`,
		customerID, strings.ToLower(strings.TrimSpace(email)))
}

func (r *OrderRepo) queryMany(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ptrs []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.loadItems(ctx, r.db, ptrs); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(ptrs))
	for _, o := range ptrs {
		out = append(out, *o)
	}
	return out, nil
}

// loadItems fills Items of every order in one query.
func (r *OrderRepo) loadItems(ctx context.Context, q dbtx, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[uint64]*model.Order, len(orders))
	ids := make([]uint64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	rows, err := q.QueryContext(ctx, `SELECT id, order_id, instrument_id, title, price
		FROM orders_items WHERE order_id IN (`+placeholders(len(ids))+`) ORDER BY id`, idArgs(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.InstrumentID, &it.Title, &it.Price); err != nil {
			return err
		}
		if o := byID[it.OrderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}
