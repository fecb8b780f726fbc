package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iliyamo/luthier-storefront/internal/model"
)

// InstrumentRepo provides access to the instruments table and its
// per-locale texts in instruments_locales. Reads resolve title and notes
// for the requested locale and fall back to the default locale row.
type InstrumentRepo struct {
	db            *sql.DB
	defaultLocale string
}

func NewInstrumentRepo(db *sql.DB, defaultLocale string) *InstrumentRepo {
	return &InstrumentRepo{db: db, defaultLocale: defaultLocale}
}

const instrumentColumns = `i.id, i.slug, i.type, i.model, i.price, i.year, i.status, i.stock,
	i.specs, i.main_image, i.gallery, i.audio_url, i.created_at, i.updated_at,
	COALESCE(l.title, d.title, ''), COALESCE(l.notes, d.notes, ''), COALESCE(l.locale, d.locale, '')`

const instrumentJoins = `FROM instruments i
	LEFT JOIN instruments_locales l ON l.instrument_id = i.id AND l.locale = ?
	LEFT JOIN instruments_locales d ON d.instrument_id = i.id AND d.locale = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(s rowScanner) (model.Instrument, error) {
	var (
		inst     model.Instrument
		specs    []byte
		gallery  []byte
		audioURL sql.NullString
	)
	err := s.Scan(&inst.ID, &inst.Slug, &inst.Type, &inst.Model, &inst.Price, &inst.Year,
		&inst.Status, &inst.Stock, &specs, &inst.MainImage, &gallery, &audioURL,
		&inst.CreatedAt, &inst.UpdatedAt, &inst.Title, &inst.Notes, &inst.Locale)
	if err != nil {
		return inst, err
	}
	inst.AudioURL = stringPtr(audioURL)
	inst.Specs = []model.Spec{}
	inst.Gallery = []string{}
	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &inst.Specs); err != nil {
			return inst, fmt.Errorf("decode specs of instrument %d: %w", inst.ID, err)
		}
	}
	if len(gallery) > 0 {
		if err := json.Unmarshal(gallery, &inst.Gallery); err != nil {
			return inst, fmt.Errorf("decode gallery of instrument %d: %w", inst.ID, err)
		}
	}
	return inst, nil
}

func (r *InstrumentRepo) locale(l string) string {
	if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
		return l
	}
	return r.defaultLocale
}

func (r *InstrumentRepo) queryMany(ctx context.Context, q dbtx, query string, args ...any) ([]model.Instrument, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Instrument{}
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// List returns catalog instruments matching f, newest first.
func (r *InstrumentRepo) List(ctx context.Context, f model.InstrumentFilter) ([]model.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` ` + instrumentJoins + ` WHERE 1=1`
	args := []any{r.locale(f.Locale), r.defaultLocale}
	if f.Status != "" {
		query += ` AND i.status = ?`
		args = append(args, f.Status)
	}
	if f.Type != "" {
		query += ` AND i.type = ?`
		args = append(args, f.Type)
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		query += ` AND (LOWER(COALESCE(l.title, d.title, '')) LIKE ? OR LOWER(i.model) LIKE ?)`
		args = append(args, "%"+q+"%", "%"+q+"%")
	}
	query += ` ORDER BY i.created_at DESC, i.id DESC`
	return r.queryMany(ctx, r.db, query, args...)
}

// GetBySlug returns one instrument or ErrNotFound.
func (r *InstrumentRepo) GetBySlug(ctx context.Context, slug, locale string) (*model.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` ` + instrumentJoins + ` WHERE i.slug = ? LIMIT 1`
	inst, err := scanInstrument(r.db.QueryRowContext(ctx, query, r.locale(locale), r.defaultLocale, slug))
	if err != nil {
		return nil, translate(err)
	}
	return &inst, nil
}

// GetByID returns one instrument or ErrNotFound.
func (r *InstrumentRepo) GetByID(ctx context.Context, id uint64, locale string) (*model.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` ` + instrumentJoins + ` WHERE i.id = ? LIMIT 1`
	inst, err := scanInstrument(r.db.QueryRowContext(ctx, query, r.locale(locale), r.defaultLocale, id))
	if err != nil {
		return nil, translate(err)
	}
	return &inst, nil
}

// GetByIDs returns the instruments among ids that exist, without locking.
func (r *InstrumentRepo) GetByIDs(ctx context.Context, ids []uint64, locale string) ([]model.Instrument, error) {
	if len(ids) == 0 {
		return []model.Instrument{}, nil
	}
	query := `SELECT ` + instrumentColumns + ` ` + instrumentJoins +
		` WHERE i.id IN (` + placeholders(len(ids)) + `)`
	args := append([]any{r.locale(locale), r.defaultLocale}, idArgs(ids)...)
	return r.queryMany(ctx, r.db, query, args...)
}

// ForUpdateTx loads the given instruments in the default locale and locks
// their rows until tx ends. Locale rows are not locked.
func (r *InstrumentRepo) ForUpdateTx(ctx context.Context, tx *sql.Tx, ids []uint64) ([]model.Instrument, error) {
	if len(ids) == 0 {
		return []model.Instrument{}, nil
	}
	query := `SELECT ` + instrumentColumns + ` ` + instrumentJoins +
		` WHERE i.id IN (` + placeholders(len(ids)) + `) ORDER BY i.id FOR UPDATE OF i`
	args := append([]any{r.defaultLocale, r.defaultLocale}, idArgs(ids)...)
	return r.queryMany(ctx, tx, query, args...)
}

// UpdateStateTx sets status and stock of one instrument.
func (r *InstrumentRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, id uint64, status model.InstrumentStatus, stock int) error {
	res, err := tx.ExecContext(ctx, `UPDATE instruments SET status = ?, stock = ? WHERE id = ?`, status, stock, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Create inserts an instrument together with its locale row.
func (r *InstrumentRepo) Create(ctx context.Context, inst *model.Instrument) error {
	specs, gallery, err := encodeMedia(inst)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO instruments
		(slug, type, model, price, year, status, stock, specs, main_image, gallery, audio_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.Slug, inst.Type, inst.Model, inst.Price, inst.Year, inst.Status, inst.Stock,
		specs, inst.MainImage, gallery, nullString(inst.AudioURL))
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	inst.ID = uint64(id)
	inst.Locale = r.locale(inst.Locale)
	if err := upsertLocale(ctx, tx, inst.ID, inst.Locale, inst.Title, inst.Notes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Update overwrites the base columns of an instrument and the locale row
// for inst.Locale.
func (r *InstrumentRepo) Update(ctx context.Context, inst *model.Instrument) error {
	specs, gallery, err := encodeMedia(inst)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE instruments SET
		slug = ?, type = ?, model = ?, price = ?, year = ?, status = ?, stock = ?,
		specs = ?, main_image = ?, gallery = ?, audio_url = ?
		WHERE id = ?`,
		inst.Slug, inst.Type, inst.Model, inst.Price, inst.Year, inst.Status, inst.Stock,
		specs, inst.MainImage, gallery, nullString(inst.AudioURL), inst.ID)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports 0 affected rows for an unchanged row too.
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM instruments WHERE id = ?`, inst.ID).Scan(&one); err != nil {
			return translate(err)
		}
	}
	inst.Locale = r.locale(inst.Locale)
	if err := upsertLocale(ctx, tx, inst.ID, inst.Locale, inst.Title, inst.Notes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// UpsertLocale writes title and notes of one locale, leaving the base
// columns untouched.
func (r *InstrumentRepo) UpsertLocale(ctx context.Context, id uint64, locale, title, notes string) error {
	return upsertLocale(ctx, r.db, id, r.locale(locale), title, notes)
}

func upsertLocale(ctx context.Context, q dbtx, id uint64, locale, title, notes string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO instruments_locales (instrument_id, locale, title, notes)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE title = VALUES(title), notes = VALUES(notes)`,
		id, locale, title, notes)
	return translate(err)
}

// Delete removes an instrument. Instruments referenced by order items
// cannot be deleted and yield ErrConflict.
func (r *InstrumentRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM instruments WHERE id = ?`, id)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeMedia(inst *model.Instrument) (specs, gallery []byte, err error) {
	if inst.Specs == nil {
		inst.Specs = []model.Spec{}
	}
	if inst.Gallery == nil {
		inst.Gallery = []string{}
	}
	if specs, err = json.Marshal(inst.Specs); err != nil {
		return nil, nil, err
	}
	if gallery, err = json.Marshal(inst.Gallery); err != nil {
		return nil, nil, err
	}
	return specs, gallery, nil
}
