// Package testutil provides an in-memory stand-in for the MySQL
// repositories. It follows the same contracts (sentinel errors, default
// locale fallback, one default address per user) so service and handler
// tests can run without a database.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/repository"
)

type texts struct{ title, notes string }

type tokenRow struct {
	userID  uint64
	exp     time.Time
	revoked bool
}

type state struct {
	instruments map[uint64]model.Instrument
	locales     map[uint64]map[string]texts
	orders      map[uint64]model.Order
	users       map[uint64]model.User
	tokens      map[string]tokenRow
	addresses   map[uint64]model.SavedAddress
	outbox      []model.OutboxMessage
	seq         uint64
}

func (s *state) clone() state {
	c := state{
		instruments: make(map[uint64]model.Instrument, len(s.instruments)),
		locales:     make(map[uint64]map[string]texts, len(s.locales)),
		orders:      make(map[uint64]model.Order, len(s.orders)),
		users:       make(map[uint64]model.User, len(s.users)),
		tokens:      make(map[string]tokenRow, len(s.tokens)),
		addresses:   make(map[uint64]model.SavedAddress, len(s.addresses)),
		outbox:      append([]model.OutboxMessage(nil), s.outbox...),
		seq:         s.seq,
	}
	for k, v := range s.instruments {
		c.instruments[k] = v
	}
	for k, v := range s.locales {
		m := make(map[string]texts, len(v))
		for l, t := range v {
			m[l] = t
		}
		c.locales[k] = m
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	return c
}

func cloneOrder(o model.Order) model.Order {
	o.Items = append([]model.OrderItem(nil), o.Items...)
	return o
}

// Store holds every table in memory behind one mutex. Transactions hold
// the mutex for their whole duration, which serializes them the way row
// locks serialize competing checkouts.
type Store struct {
	mu            sync.Mutex
	st            state
	defaultLocale string
	now           func() time.Time

	// EnqueueErr, when set, makes every outbox write fail.
	EnqueueErr error
}

func NewStore(defaultLocale string) *Store {
	s := &Store{defaultLocale: defaultLocale, now: func() time.Time { return time.Now().UTC() }}
	s.st = (&state{}).clone()
	return s
}

func (s *Store) next() uint64 {
	s.st.seq++
	return s.st.seq
}

// WithinTx runs fn atomically: when fn fails every write it made is
// discarded.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&memTx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// AddInstrument seeds an instrument with its default-locale texts and
// returns it with the assigned id.
func (s *Store) AddInstrument(inst model.Instrument) model.Instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertInstrument(&inst)
	return inst
}

func (s *Store) insertInstrument(inst *model.Instrument) {
	inst.ID = s.next()
	if inst.Locale == "" {
		inst.Locale = s.defaultLocale
	}
	inst.CreatedAt = s.now()
	inst.UpdatedAt = inst.CreatedAt
	s.st.instruments[inst.ID] = *inst
	s.st.locales[inst.ID] = map[string]texts{inst.Locale: {inst.Title, inst.Notes}}
}

// Instrument returns the raw stored row.
func (s *Store) Instrument(id uint64) (model.Instrument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.st.instruments[id]
	return inst, ok
}

// Orders returns every stored order ordered by id.
func (s *Store) Orders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Outbox returns every queued job in insertion order.
func (s *Store) Outbox() []model.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxMessage(nil), s.st.outbox...)
}

// OutboxKinds returns the kinds of all queued jobs.
func (s *Store) OutboxKinds() []string {
	msgs := s.Outbox()
	kinds := make([]string, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind
	}
	return kinds
}

// ExpireOTP moves the pending code expiry of a user into the past.
func (s *Store) ExpireOTP(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.st.users {
		if u.Email == strings.ToLower(email) && u.OTPExpiry != nil {
			past := s.now().Add(-time.Minute)
			u.OTPExpiry = &past
			s.st.users[id] = u
		}
	}
}

func (s *Store) enqueue(msgs []model.OutboxMessage) error {
	if s.EnqueueErr != nil {
		return s.EnqueueErr
	}
	s.st.outbox = append(s.st.outbox, msgs...)
	return nil
}

// Enqueue satisfies the non-transactional outbox writer.
func (s *Store) Enqueue(ctx context.Context, msgs ...model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueue(msgs)
}

// localized returns inst with texts in locale, falling back to the
// default locale.
func (s *Store) localized(inst model.Instrument, locale string) model.Instrument {
	if locale == "" {
		locale = s.defaultLocale
	}
	ls := s.st.locales[inst.ID]
	if t, ok := ls[locale]; ok {
		inst.Title, inst.Notes, inst.Locale = t.title, t.notes, locale
	} else if t, ok := ls[s.defaultLocale]; ok {
		inst.Title, inst.Notes, inst.Locale = t.title, t.notes, s.defaultLocale
	}
	return inst
}

type memTx struct{ s *Store }

func (t *memTx) InstrumentsForUpdate(ctx context.Context, ids []uint64) ([]model.Instrument, error) {
	var out []model.Instrument
	for _, id := range ids {
		if inst, ok := t.s.st.instruments[id]; ok {
			out = append(out, t.s.localized(inst, ""))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateInstrumentState(ctx context.Context, id uint64, status model.InstrumentStatus, stock int) error {
	inst, ok := t.s.st.instruments[id]
	if !ok {
		return repository.ErrNotFound
	}
	inst.Status, inst.Stock = status, stock
	inst.UpdatedAt = t.s.now()
	t.s.st.instruments[id] = inst
	return nil
}

func (t *memTx) CountPendingOrders(ctx context.Context, customerID *uint64, guestEmail string) (int, error) {
	n := 0
	for _, o := range t.s.st.orders {
		if o.Status != model.OrderPendingPayment {
			continue
		}
		if customerID != nil {
			if o.CustomerID != nil && *o.CustomerID == *customerID {
				n++
			}
			continue
		}
		if o.GuestEmail != nil && strings.EqualFold(*o.GuestEmail, guestEmail) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *model.Order) error {
	for _, existing := range t.s.st.orders {
		if existing.OrderNumber == o.OrderNumber {
			return repository.ErrDuplicate
		}
	}
	o.ID = t.s.next()
	o.CreatedAt = t.s.now()
	o.UpdatedAt = o.CreatedAt
	for i := range o.Items {
		o.Items[i].ID = t.s.next()
		o.Items[i].OrderID = o.ID
	}
	t.s.st.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, id uint64) (*model.Order, error) {
	o, ok := t.s.st.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (t *memTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	if _, ok := t.s.st.orders[o.ID]; !ok {
		return repository.ErrNotFound
	}
	o.UpdatedAt = t.s.now()
	t.s.st.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) Enqueue(ctx context.Context, msgs ...model.OutboxMessage) error {
	return t.s.enqueue(msgs)
}
