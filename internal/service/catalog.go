package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/repository"
)

// InstrumentStore is the catalog persistence the service needs.
type InstrumentStore interface {
	InstrumentReader
	List(ctx context.Context, f model.InstrumentFilter) ([]model.Instrument, error)
	GetBySlug(ctx context.Context, slug, locale string) (*model.Instrument, error)
	GetByID(ctx context.Context, id uint64, locale string) (*model.Instrument, error)
	Create(ctx context.Context, inst *model.Instrument) error
	Update(ctx context.Context, inst *model.Instrument) error
	Delete(ctx context.Context, id uint64) error
	UpsertLocale(ctx context.Context, id uint64, locale, title, notes string) error
}

// Enqueuer writes outbox jobs outside of a caller transaction.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgs ...model.OutboxMessage) error
}

// SaveOptions tune a catalog write.
type SaveOptions struct {
	// SkipAutoTranslate suppresses the translation jobs a save in the
	// default locale would otherwise queue.
	SkipAutoTranslate bool
}

// InstrumentInput is the admin payload for creating or editing an
// instrument. Title and Notes are written for Locale (default locale when
// empty).
type InstrumentInput struct {
	Slug      string                 `json:"slug" validate:"required,max=191"`
	Type      string                 `json:"type" validate:"required,max=64"`
	Model     string                 `json:"model" validate:"max=128"`
	Price     decimal.Decimal        `json:"price"`
	Year      int                    `json:"year" validate:"gte=0,lte=3000"`
	Status    model.InstrumentStatus `json:"status" validate:"required,oneof=available in-build reserved sold"`
	Stock     int                    `json:"stock" validate:"gte=0"`
	Title     string                 `json:"title" validate:"required,max=255"`
	Notes     string                 `json:"notes"`
	Locale    string                 `json:"locale" validate:"omitempty,max=8"`
	Specs     []model.Spec           `json:"specs" validate:"dive"`
	MainImage string                 `json:"mainImage" validate:"max=1024"`
	Gallery   []string               `json:"gallery" validate:"dive,max=1024"`
	AudioURL  *string                `json:"audioUrl" validate:"omitempty,max=1024"`
}

// CatalogService manages instruments and keeps their translations in sync.
type CatalogService struct {
	repo          InstrumentStore
	outbox        Enqueuer
	defaultLocale string
	locales       []string
	validator     *Validator
	log           *zap.Logger
}

// NewCatalogService returns a catalog service that queues translations
// into locales after every save in defaultLocale. A nil or empty locales
// list disables auto-translation.
func NewCatalogService(repo InstrumentStore, outbox Enqueuer, defaultLocale string, locales []string, log *zap.Logger) *CatalogService {
	return &CatalogService{
		repo:          repo,
		outbox:        outbox,
		defaultLocale: defaultLocale,
		locales:       locales,
		validator:     NewValidator(),
		log:           log,
	}
}

func (s *CatalogService) List(ctx context.Context, f model.InstrumentFilter) ([]model.Instrument, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, newError(http.StatusBadRequest, CodeInvalidRequest, "unknown instrument status").With("status", f.Status)
	}
	return s.repo.List(ctx, f)
}

func (s *CatalogService) GetBySlug(ctx context.Context, slug, locale string) (*model.Instrument, error) {
	inst, err := s.repo.GetBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)), locale)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errNotFound
	}
	return inst, err
}

func (s *CatalogService) toModel(in InstrumentInput) (*model.Instrument, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if !in.Price.IsPositive() {
		return nil, newError(http.StatusBadRequest, CodeInvalidRequest, "some fields are missing or invalid").
			With("fields", map[string]string{"price": "gt"})
	}
	locale := strings.ToLower(strings.TrimSpace(in.Locale))
	if locale == "" {
		locale = s.defaultLocale
	}
	inst := &model.Instrument{
		Slug:      strings.ToLower(strings.TrimSpace(in.Slug)),
		Type:      strings.TrimSpace(in.Type),
		Model:     strings.TrimSpace(in.Model),
		Price:     in.Price.Round(2),
		Year:      in.Year,
		Status:    in.Status,
		Stock:     in.Stock,
		Title:     strings.TrimSpace(in.Title),
		Notes:     in.Notes,
		Locale:    locale,
		Specs:     in.Specs,
		MainImage: in.MainImage,
		Gallery:   in.Gallery,
		AudioURL:  in.AudioURL,
	}
	inst.Normalize()
	return inst, nil
}

// Create adds an instrument to the catalog.
func (s *CatalogService) Create(ctx context.Context, in InstrumentInput, opts SaveOptions) (*model.Instrument, error) {
	inst, err := s.toModel(in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, inst); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newError(http.StatusConflict, CodeSlugTaken, "an instrument with this slug already exists")
		}
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	s.afterSave(ctx, inst, opts)
	return s.repo.GetByID(ctx, inst.ID, inst.Locale)
}

// Update replaces an instrument's fields and its texts in in.Locale.
func (s *CatalogService) Update(ctx context.Context, id uint64, in InstrumentInput, opts SaveOptions) (*model.Instrument, error) {
	inst, err := s.toModel(in)
	if err != nil {
		return nil, err
	}
	inst.ID = id
	if err := s.repo.Update(ctx, inst); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, errNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, newError(http.StatusConflict, CodeSlugTaken, "an instrument with this slug already exists")
		}
		return nil, fmt.Errorf("update instrument: %w", err)
	}
	s.afterSave(ctx, inst, opts)
	return s.repo.GetByID(ctx, inst.ID, inst.Locale)
}

// Delete removes an instrument that no order refers to.
func (s *CatalogService) Delete(ctx context.Context, id uint64) error {
	err := s.repo.Delete(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return errNotFound
	case errors.Is(err, repository.ErrConflict):
		return newError(http.StatusConflict, CodeInstrumentHasReferences, "the instrument appears on orders and cannot be deleted")
	}
	return err
}

// SaveTranslation stores machine-translated texts for one locale. It
// never queues further translations.
func (s *CatalogService) SaveTranslation(ctx context.Context, id uint64, locale, title, notes string) error {
	err := s.repo.UpsertLocale(ctx, id, locale, title, notes)
	if errors.Is(err, repository.ErrNotFound) {
		return errNotFound
	}
	return err
}

// afterSave queues one translate.instrument job per target locale when
// the default-locale texts changed. Each locale is its own job so a
// failing locale is retried alone.
func (s *CatalogService) afterSave(ctx context.Context, inst *model.Instrument, opts SaveOptions) {
	if opts.SkipAutoTranslate || inst.Locale != s.defaultLocale || len(s.locales) == 0 || s.outbox == nil {
		return
	}
	msgs := make([]model.OutboxMessage, 0, len(s.locales))
	for _, locale := range s.locales {
		m, err := model.NewOutboxMessage(model.JobTranslateInstrument, model.TranslatePayload{
			InstrumentID: inst.ID,
			SourceLocale: s.defaultLocale,
			Locale:       locale,
			Title:        inst.Title,
			Notes:        inst.Notes,
		})
		if err != nil {
			s.log.Error("build translation job", zap.Uint64("instrument_id", inst.ID), zap.String("locale", locale), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	if err := s.outbox.Enqueue(ctx, msgs...); err != nil {
		s.log.Error("queue translations", zap.Uint64("instrument_id", inst.ID), zap.Error(err))
	}
}
