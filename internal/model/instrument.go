package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentStatus is the availability state of a catalog instrument.
type InstrumentStatus string

const (
	InstrumentAvailable InstrumentStatus = "available"
	InstrumentInBuild   InstrumentStatus = "in-build"
	InstrumentReserved  InstrumentStatus = "reserved"
	InstrumentSold      InstrumentStatus = "sold"
)

// Valid reports whether s is one of the known instrument statuses.
func (s InstrumentStatus) Valid() bool {
	switch s {
	case InstrumentAvailable, InstrumentInBuild, InstrumentReserved, InstrumentSold:
		return true
	}
	return false
}

// Spec is a single key/value line of an instrument's technical sheet
// (e.g. "Top" → "Engelmann spruce").
type Spec struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Instrument is a single handcrafted item listed in the catalog. The
// shop builds one-offs, so Stock is normally 0 or 1.
//
// Title and Notes are localized: they are stored per locale in the
// instruments_locales table and the repository fills them for the
// locale that was requested (falling back to the default locale).
//
// Fields:
//
//	ID        – instruments.id
//	Slug      – unique URL slug
//	Type      – instrument family (guitar, violin, …)
//	Model     – model name
//	Price     – list price in the shop currency
//	Year      – build year
//	Status    – availability, see InstrumentStatus
//	Stock     – units on hand; forced to 0 when Status is sold
//	Title     – localized display title
//	Notes     – localized long description
//	Locale    – locale Title/Notes were read in or are written for
//	Specs     – technical sheet
//	MainImage – primary image URL
//	Gallery   – further image URLs
//	AudioURL  – optional sound sample
type Instrument struct {
	ID        uint64           `json:"id"`
	Slug      string           `json:"slug"`
	Type      string           `json:"type"`
	Model     string           `json:"model"`
	Price     decimal.Decimal  `json:"price"`
	Year      int              `json:"year"`
	Status    InstrumentStatus `json:"status"`
	Stock     int              `json:"stock"`
	Title     string           `json:"title"`
	Notes     string           `json:"notes"`
	Locale    string           `json:"locale"`
	Specs     []Spec           `json:"specs"`
	MainImage string           `json:"mainImage"`
	Gallery   []string         `json:"gallery"`
	AudioURL  *string          `json:"audioUrl,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Normalize applies the stock invariant: a sold instrument has no stock.
func (i *Instrument) Normalize() {
	if i.Status == InstrumentSold {
		i.Stock = 0
	}
}

// Reservable reports whether the instrument can be put into a new
// reservation right now.
func (i Instrument) Reservable() bool {
	return i.Status == InstrumentAvailable && i.Stock > 0
}

// InstrumentFilter narrows catalog listings. Zero values mean "any".
type InstrumentFilter struct {
	Status InstrumentStatus
	Type   string
	Locale string
	// Query matches a substring of the localized title or the model.
	Query string
}
