package testutil

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/repository"
)

// InstrumentRepo is the catalog view of a Store.
type InstrumentRepo struct{ s *Store }

func (s *Store) InstrumentRepo() *InstrumentRepo { return &InstrumentRepo{s: s} }

func (r *InstrumentRepo) List(ctx context.Context, f model.InstrumentFilter) ([]model.Instrument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Instrument{}
	for _, inst := range r.s.st.instruments {
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		if f.Type != "" && inst.Type != f.Type {
			continue
		}
		loc := r.s.localized(inst, f.Locale)
		if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" &&
			!strings.Contains(strings.ToLower(loc.Title), q) && !strings.Contains(strings.ToLower(loc.Model), q) {
			continue
		}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *InstrumentRepo) GetBySlug(ctx context.Context, slug, locale string) (*model.Instrument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inst := range r.s.st.instruments {
		if inst.Slug == slug {
			l := r.s.localized(inst, locale)
			return &l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *InstrumentRepo) GetByID(ctx context.Context, id uint64, locale string) (*model.Instrument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.st.instruments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	l := r.s.localized(inst, locale)
	return &l, nil
}

func (r *InstrumentRepo) GetByIDs(ctx context.Context, ids []uint64, locale string) ([]model.Instrument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Instrument
	for _, id := range ids {
		if inst, ok := r.s.st.instruments[id]; ok {
			out = append(out, r.s.localized(inst, locale))
		}
	}
	return out, nil
}

func (r *InstrumentRepo) slugTaken(slug string, except uint64) bool {
	for id, inst := range r.s.st.instruments {
		if inst.Slug == slug && id != except {
			return true
		}
	}
	return false
}

func (r *InstrumentRepo) Create(ctx context.Context, inst *model.Instrument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.slugTaken(inst.Slug, 0) {
		return repository.ErrDuplicate
	}
	r.s.insertInstrument(inst)
	return nil
}

func (r *InstrumentRepo) Update(ctx context.Context, inst *model.Instrument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.st.instruments[inst.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.slugTaken(inst.Slug, inst.ID) {
		return repository.ErrDuplicate
	}
	if inst.Locale == "" {
		inst.Locale = r.s.defaultLocale
	}
	inst.CreatedAt = old.CreatedAt
	inst.UpdatedAt = r.s.now()
	r.s.st.instruments[inst.ID] = *inst
	r.s.st.locales[inst.ID][inst.Locale] = texts{inst.Title, inst.Notes}
	return nil
}

func (r *InstrumentRepo) Delete(ctx context.Context, id uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.instruments[id]; !ok {
		return repository.ErrNotFound
	}
	for _, o := range r.s.st.orders {
		for _, it := range o.Items {
			if it.InstrumentID == id {
				return repository.ErrConflict
			}
		}
	}
	delete(r.s.st.instruments, id)
	delete(r.s.st.locales, id)
	return nil
}

func (r *InstrumentRepo) UpsertLocale(ctx context.Context, id uint64, locale, title, notes string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.instruments[id]; !ok {
		return repository.ErrNotFound
	}
	r.s.st.locales[id][locale] = texts{title, notes}
	return nil
}

// OrderRepo is the read-side order view of a Store.
type OrderRepo struct{ s *Store }

func (s *Store) OrderRepo() *OrderRepo { return &OrderRepo{s: s} }

func (r *OrderRepo) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (r *OrderRepo) GetByNumber(ctx context.Context, number string) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.st.orders {
		if o.OrderNumber == number {
			c := cloneOrder(o)
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *OrderRepo) newestFirst(keep func(model.Order) bool) []model.Order {
	out := []model.Order{}
	for _, o := range r.s.st.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *OrderRepo) List(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.newestFirst(func(o model.Order) bool { return f.Status == "" || o.Status == f.Status })
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (r *OrderRepo) ListForCustomer(ctx context.Context, customerID uint64, email string) ([]model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.newestFirst(func(o model.Order) bool {
		if o.CustomerID != nil {
			return *o.CustomerID == customerID
		}
		return email != "" && o.GuestEmail != nil && strings.EqualFold(*o.GuestEmail, email)
	}), nil
}

// UserRepo is the account view of a Store.
type UserRepo struct{ s *Store }

func (s *Store) UserRepo() *UserRepo { return &UserRepo{s: s} }

func (r *UserRepo) byEmail(email string) (model.User, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.s.st.users {
		if u.Email == email {
			return u, true
		}
	}
	return model.User{}, false
}

func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if _, ok := r.byEmail(u.Email); ok {
		return repository.ErrEmailExists
	}
	if u.Role == "" {
		u.Role = model.RoleCustomer
	}
	if u.Provider == "" {
		u.Provider = model.ProviderCredentials
	}
	u.ID = r.s.next()
	u.CreatedAt = r.s.now()
	u.UpdatedAt = u.CreatedAt
	r.s.st.users[u.ID] = *u
	return nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.byEmail(email)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepo) SetOTP(ctx context.Context, id uint64, hash string, expiry time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.OTPHash, u.OTPExpiry = &hash, &expiry
	r.s.st.users[id] = u
	return nil
}

func (r *UserRepo) ConsumeOTP(ctx context.Context, id uint64, hash string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok || u.OTPHash == nil || *u.OTPHash != hash || u.OTPExpiry == nil || !now.Before(*u.OTPExpiry) {
		return false, nil
	}
	u.OTPHash, u.OTPExpiry = nil, nil
	u.EmailVerified = true
	r.s.st.users[id] = u
	return true, nil
}

func (r *UserRepo) UpsertOAuth(ctx context.Context, in *model.User) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.byEmail(in.Email); ok {
		u.EmailVerified = true
		if u.Image == nil {
			u.Image = in.Image
		}
		r.s.st.users[u.ID] = u
		return &u, nil
	}
	u := *in
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Role = model.RoleCustomer
	u.EmailVerified = true
	u.ID = r.s.next()
	u.CreatedAt = r.s.now()
	u.UpdatedAt = u.CreatedAt
	r.s.st.users[u.ID] = u
	return &u, nil
}

func (r *UserRepo) SetRole(ctx context.Context, email, role string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.byEmail(email)
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	r.s.st.users[u.ID] = u
	return nil
}

// TokenRepo is the refresh token view of a Store.
type TokenRepo struct{ s *Store }

func (s *Store) TokenRepo() *TokenRepo { return &TokenRepo{s: s} }

func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.tokens[tokenHash] = tokenRow{userID: userID, exp: exp}
	return nil
}

func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.tokens[tokenHash]
	if !ok || t.revoked || !r.s.now().Before(t.exp) {
		return 0, repository.ErrNotFound
	}
	return t.userID, nil
}

func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.tokens[tokenHash]
	if !ok || t.revoked {
		return false, nil
	}
	t.revoked = true
	r.s.st.tokens[tokenHash] = t
	return true, nil
}

func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for h, t := range r.s.st.tokens {
		if t.userID == userID {
			t.revoked = true
			r.s.st.tokens[h] = t
		}
	}
	return nil
}

// AddressRepo is the address book view of a Store.
type AddressRepo struct{ s *Store }

func (s *Store) AddressRepo() *AddressRepo { return &AddressRepo{s: s} }

func (r *AddressRepo) List(ctx context.Context, userID uint64) ([]model.SavedAddress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.SavedAddress{}
	for _, a := range r.s.st.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *AddressRepo) Get(ctx context.Context, userID, id uint64) (*model.SavedAddress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.addresses[id]
	if !ok || a.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *AddressRepo) clearDefault(userID uint64) {
	for id, a := range r.s.st.addresses {
		if a.UserID == userID && a.IsDefault {
			a.IsDefault = false
			r.s.st.addresses[id] = a
		}
	}
}

func (r *AddressRepo) count(userID uint64) int {
	n := 0
	for _, a := range r.s.st.addresses {
		if a.UserID == userID {
			n++
		}
	}
	return n
}

func (r *AddressRepo) Create(ctx context.Context, a *model.SavedAddress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.count(a.UserID) == 0 {
		a.IsDefault = true
	}
	if a.IsDefault {
		r.clearDefault(a.UserID)
	}
	a.ID = r.s.next()
	a.CreatedAt = r.s.now()
	a.UpdatedAt = a.CreatedAt
	r.s.st.addresses[a.ID] = *a
	return nil
}

func (r *AddressRepo) Update(ctx context.Context, a *model.SavedAddress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.st.addresses[a.ID]
	if !ok || old.UserID != a.UserID {
		return repository.ErrNotFound
	}
	if a.IsDefault {
		r.clearDefault(a.UserID)
	}
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = r.s.now()
	r.s.st.addresses[a.ID] = *a
	return nil
}

func (r *AddressRepo) Delete(ctx context.Context, userID, id uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.addresses[id]
	if !ok || a.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.s.st.addresses, id)
	if !a.IsDefault {
		return nil
	}
	var newest uint64
	for aid, other := range r.s.st.addresses {
		if other.UserID == userID && aid > newest {
			newest = aid
		}
	}
	if newest != 0 {
		p := r.s.st.addresses[newest]
		p.IsDefault = true
		r.s.st.addresses[newest] = p
	}
	return nil
}
