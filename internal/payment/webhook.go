package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/mmeshcher/donations-system/internal/model"
)

var (
	// ErrSignatureInvalid возвращается, если подпись уведомления не прошла проверку.
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	// ErrMalformedEvent возвращается, если подписанное уведомление не удалось разобрать.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// Verifier проверяет подпись уведомлений Stripe общим секретом.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier создаёт Verifier для секрета вебхука.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// ParseEvent проверяет подпись по сырому телу запроса и возвращает событие оплаты.
// Для событий других типов возвращается событие только с EventID и Type.
func (v *Verifier) ParseEvent(payload []byte, signatureHeader string) (model.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	ev := model.PaymentEvent{
		EventID:    event.ID,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if ev.Type != model.EventCheckoutCompleted {
		return ev, nil
	}

	if event.Data == nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: decode checkout session: %w", ErrMalformedEvent, err)
	}

	ev.AmountMinor = session.AmountTotal
	if session.Customer != nil {
		ev.CustomerRef = session.Customer.ID
	}
	if session.Invoice != nil {
		ev.InvoiceID = session.Invoice.ID
	}
	if session.Subscription != nil {
		ev.SubscriptionRef = session.Subscription.ID
	}
	ev.FundID = session.Metadata[MetadataFundID]
	ev.Interval = model.Interval(session.Metadata[MetadataInterval])

	return ev, nil
}
