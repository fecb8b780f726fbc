package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job kinds written to the outbox and executed by the queue consumer.
const (
	JobReservationConfirmation = "email.reservation_confirmation"
	JobOwnerNotification       = "email.owner_notification"
	JobShippingNotification    = "email.shipping_notification"
	JobPaymentReceived         = "email.payment_received"
	JobOTP                     = "email.otp"
	JobTranslateInstrument     = "translate.instrument"
)

// ErrJobPermanent marks a job failure that retrying cannot fix. The
// outbox marks such jobs failed on the first attempt.
var ErrJobPermanent = errors.New("permanent job failure")

// Outbox row states.
const (
	OutboxPending   = "pending"
	OutboxPublished = "published"
	OutboxFailed    = "failed"
)

// OutboxMessage is a side-effect job recorded in the same transaction as
// the state change that caused it. The relay later hands it to the
// message broker (or executes it in-process).
type OutboxMessage struct {
	ID          string
	Kind        string
	Payload     json.RawMessage
	Status      string
	Attempts    int
	LastError   string
	AvailableAt time.Time
	CreatedAt   time.Time
}

// NewOutboxMessage encodes payload and stamps a fresh job id.
func NewOutboxMessage(kind string, payload any) (OutboxMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	now := time.Now().UTC()
	return OutboxMessage{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     b,
		Status:      OutboxPending,
		AvailableAt: now,
		CreatedAt:   now,
	}, nil
}

// OrderEmailPayload carries the order snapshot an email is rendered
// from, so the consumer does not need to read the database.
type OrderEmailPayload struct {
	Order Order `json:"order"`
}

// OTPEmailPayload is the body of an email.otp job.
type OTPEmailPayload struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TranslatePayload asks for one instrument's title and notes to be
// translated from SourceLocale into Locale.
type TranslatePayload struct {
	InstrumentID uint64 `json:"instrumentId"`
	SourceLocale string `json:"sourceLocale"`
	Locale       string `json:"locale"`
	Title        string `json:"title"`
	Notes        string `json:"notes"`
}
