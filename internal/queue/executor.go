package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/metrics"
	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/notify"
	"github.com/iliyamo/luthier-storefront/internal/translate"
)

// TranslationWriter stores a machine translation without queueing
// further translations.
type TranslationWriter interface {
	SaveTranslation(ctx context.Context, id uint64, locale, title, notes string) error
}

// Executor runs jobs: it renders and sends emails and translates
// catalog texts. It also serves as the relay's Sink when no broker is
// configured.
type Executor struct {
	composer   *notify.Composer
	mailer     notify.Mailer
	translator translate.Translator
	writer     TranslationWriter
	log        *zap.Logger
}

func NewExecutor(composer *notify.Composer, mailer notify.Mailer, translator translate.Translator, writer TranslationWriter, log *zap.Logger) *Executor {
	return &Executor{composer: composer, mailer: mailer, translator: translator, writer: writer, log: log}
}

// Dispatch executes an outbox row in-process.
func (e *Executor) Dispatch(ctx context.Context, m model.OutboxMessage) error {
	return e.Execute(ctx, m.Kind, m.Payload)
}

func (e *Executor) Execute(ctx context.Context, kind string, payload json.RawMessage) error {
	switch kind {
	case model.JobReservationConfirmation, model.JobOwnerNotification,
		model.JobShippingNotification, model.JobPaymentReceived:
		var p model.OrderEmailPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrPermanent, kind, err)
		}
		return e.send(ctx, kind, func() (notify.Message, error) { return e.orderEmail(kind, p.Order) })

	case model.JobOTP:
		var p model.OTPEmailPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrPermanent, kind, err)
		}
		return e.send(ctx, kind, func() (notify.Message, error) { return e.composer.OTP(p) })

	case model.JobTranslateInstrument:
		var p model.TranslatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrPermanent, kind, err)
		}
		return e.translate(ctx, p)
	}
	return fmt.Errorf("%w: unknown job kind %q", ErrPermanent, kind)
}

func (e *Executor) orderEmail(kind string, o model.Order) (notify.Message, error) {
	switch kind {
	case model.JobReservationConfirmation:
		return e.composer.ReservationConfirmation(o)
	case model.JobOwnerNotification:
		return e.composer.OwnerNotification(o)
	case model.JobShippingNotification:
		return e.composer.ShippingNotification(o)
	default:
		return e.composer.PaymentReceived(o)
	}
}

func (e *Executor) send(ctx context.Context, kind string, build func() (notify.Message, error)) error {
	msg, err := build()
	if err != nil {
		metrics.Emails.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	err = e.mailer.Send(ctx, msg)
	metrics.Emails.WithLabelValues(kind, metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	e.log.Info("email sent", zap.String("kind", kind), zap.Strings("to", msg.To))
	return nil
}

func (e *Executor) translate(ctx context.Context, p model.TranslatePayload) error {
	out, err := e.translator.Translate(ctx, []string{p.Title, p.Notes}, p.SourceLocale, p.Locale)
	if errors.Is(err, translate.ErrDisabled) {
		metrics.Translations.WithLabelValues(p.Locale, "skipped").Inc()
		e.log.Debug("translation skipped", zap.Uint64("instrument_id", p.InstrumentID), zap.String("locale", p.Locale))
		return nil
	}
	if err != nil {
		metrics.Translations.WithLabelValues(p.Locale, "error").Inc()
		return err
	}
	if err := e.writer.SaveTranslation(ctx, p.InstrumentID, p.Locale, out[0], out[1]); err != nil {
		metrics.Translations.WithLabelValues(p.Locale, "error").Inc()
		return fmt.Errorf("save %s translation of %d: %w", p.Locale, p.InstrumentID, err)
	}
	metrics.Translations.WithLabelValues(p.Locale, "ok").Inc()
	e.log.Info("instrument translated", zap.Uint64("instrument_id", p.InstrumentID), zap.String("locale", p.Locale))
	return nil
}
