package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/service"
	"github.com/iliyamo/luthier-storefront/internal/testutil"
)

func newCatalog(t *testing.T) (*service.CatalogService, *testutil.Store) {
	t.Helper()
	store := testutil.NewStore("en")
	return service.NewCatalogService(store.InstrumentRepo(), store, "en", []string{"de", "fr"}, zap.NewNop()), store
}

func violinInput() service.InstrumentInput {
	return service.InstrumentInput{
		Slug:   "Violin-Stradivari-Copy",
		Type:   "violin",
		Model:  "Stradivari 1715",
		Price:  dec("4200"),
		Year:   2023,
		Status: model.InstrumentAvailable,
		Stock:  1,
		Title:  "Violin after Stradivari",
		Notes:  "Spruce top, maple back.",
		Specs:  []model.Spec{{Key: "Top", Value: "Spruce"}},
	}
}

func TestCatalogCreate_QueuesTranslations(t *testing.T) {
	svc, store := newCatalog(t)

	inst, err := svc.Create(context.Background(), violinInput(), service.SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "violin-stradivari-copy", inst.Slug)
	assert.Equal(t, "en", inst.Locale)

	msgs := store.Outbox()
	require.Len(t, msgs, 2)
	var locales []string
	for _, m := range msgs {
		assert.Equal(t, model.JobTranslateInstrument, m.Kind)
		var p model.TranslatePayload
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		assert.Equal(t, inst.ID, p.InstrumentID)
		assert.Equal(t, "en", p.SourceLocale)
		assert.Equal(t, "Violin after Stradivari", p.Title)
		locales = append(locales, p.Locale)
	}
	assert.ElementsMatch(t, []string{"de", "fr"}, locales)
}

func TestCatalogSave_NoTranslationJobs(t *testing.T) {
	t.Run("skip flag", func(t *testing.T) {
		svc, store := newCatalog(t)
		_, err := svc.Create(context.Background(), violinInput(), service.SaveOptions{SkipAutoTranslate: true})
		require.NoError(t, err)
		assert.Empty(t, store.Outbox())
	})
	t.Run("non-default locale", func(t *testing.T) {
		svc, store := newCatalog(t)
		inst, err := svc.Create(context.Background(), violinInput(), service.SaveOptions{SkipAutoTranslate: true})
		require.NoError(t, err)
		in := violinInput()
		in.Locale = "de"
		in.Title = "Geige nach Stradivari"
		_, err = svc.Update(context.Background(), inst.ID, in, service.SaveOptions{})
		require.NoError(t, err)
		assert.Empty(t, store.Outbox())
	})
}

func TestCatalogSave_Validation(t *testing.T) {
	svc, _ := newCatalog(t)

	in := violinInput()
	in.Price = dec("0")
	_, err := svc.Create(context.Background(), in, service.SaveOptions{})
	requireCode(t, err, service.CodeInvalidRequest)

	in = violinInput()
	in.Stock = -1
	_, err = svc.Create(context.Background(), in, service.SaveOptions{})
	requireCode(t, err, service.CodeInvalidRequest)

	in = violinInput()
	in.Status = "archived"
	_, err = svc.Create(context.Background(), in, service.SaveOptions{})
	requireCode(t, err, service.CodeInvalidRequest)
}

func TestCatalogSave_SoldHasNoStock(t *testing.T) {
	svc, _ := newCatalog(t)
	in := violinInput()
	in.Status = model.InstrumentSold
	in.Stock = 3
	inst, err := svc.Create(context.Background(), in, service.SaveOptions{SkipAutoTranslate: true})
	require.NoError(t, err)
	assert.Equal(t, 0, inst.Stock)
}

func TestCatalogSave_SlugTaken(t *testing.T) {
	svc, _ := newCatalog(t)
	_, err := svc.Create(context.Background(), violinInput(), service.SaveOptions{SkipAutoTranslate: true})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), violinInput(), service.SaveOptions{SkipAutoTranslate: true})
	se := requireCode(t, err, service.CodeSlugTaken)
	assert.Equal(t, 409, se.Status)
}

func TestCatalogGetBySlug_LocaleFallback(t *testing.T) {
	svc, _ := newCatalog(t)
	inst, err := svc.Create(context.Background(), violinInput(), service.SaveOptions{SkipAutoTranslate: true})
	require.NoError(t, err)
	require.NoError(t, svc.SaveTranslation(context.Background(), inst.ID, "de", "Geige", "Fichtendecke."))

	de, err := svc.GetBySlug(context.Background(), inst.Slug, "de")
	require.NoError(t, err)
	assert.Equal(t, "Geige", de.Title)

	fr, err := svc.GetBySlug(context.Background(), inst.Slug, "fr")
	require.NoError(t, err)
	assert.Equal(t, "Violin after Stradivari", fr.Title)
	assert.Equal(t, "en", fr.Locale)

	_, err = svc.GetBySlug(context.Background(), "nope", "en")
	requireCode(t, err, service.CodeNotFound)
}

func TestCatalogDelete(t *testing.T) {
	f := newFixture(t, service.Pricing{}, 2)
	svc := service.NewCatalogService(f.store.InstrumentRepo(), f.store, "en", nil, zap.NewNop())
	sold := f.addInstrument("ordered", "100")
	free := f.addInstrument("free", "100")
	_, err := f.res.Create(context.Background(), pickup("x@example.com", "100", sold.ID), nil)
	require.NoError(t, err)

	requireCode(t, svc.Delete(context.Background(), sold.ID), service.CodeInstrumentHasReferences)
	require.NoError(t, svc.Delete(context.Background(), free.ID))
	requireCode(t, svc.Delete(context.Background(), free.ID), service.CodeNotFound)
}

func TestCatalogList_RejectsUnknownStatus(t *testing.T) {
	svc, _ := newCatalog(t)
	_, err := svc.List(context.Background(), model.InstrumentFilter{Status: "gone"})
	requireCode(t, err, service.CodeInvalidRequest)
}
