package billingprovider

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/autobill/internal/lib/signature"
)

// SignatureHeader — заголовок вида "t=<unix>,v1=<hex>[,v1=<hex>]".
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance — допустимое расхождение метки времени webhook.
const DefaultTolerance = 5 * time.Minute

// ErrUnexpectedObject — объект события не соответствует его типу.
var ErrUnexpectedObject = errors.New("billing provider: unexpected event object")

type rawObject = json.RawMessage

// WebhookVerifier проверяет подпись и разбирает событие.
type WebhookVerifier struct {
	verifier *signature.Verifier
}

// NewWebhookVerifier создаёт проверку подписей webhook. now может быть nil.
func NewWebhookVerifier(secret string, tolerance time.Duration, now func() time.Time) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &WebhookVerifier{verifier: signature.NewVerifier(secret, tolerance, now)}
}

// ConstructEvent проверяет заголовок подписи над сырым телом и разбирает событие.
// Ошибки подписи оборачивают ошибки пакета signature.
func (w *WebhookVerifier) ConstructEvent(body []byte, header string) (*Event, error) {
	const op = "billingprovider.ConstructEvent"

	if header == "" {
		return nil, fmt.Errorf("%s: %w", op, signature.ErrMissing)
	}
	ts, sigs, err := signature.ParseHeader(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := w.verifier.VerifyAny(ts, sigs, body); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%s: decode event: %w", op, err)
	}
	return &event, nil
}

// CheckoutSession разбирает объект события checkout.session.completed.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	if e.Type != EventCheckoutCompleted {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedObject, e.Type)
	}
	var s CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedObject, err)
	}
	return &s, nil
}

// Subscription разбирает объект события customer.subscription.*.
func (e *Event) Subscription() (*Subscription, error) {
	if e.Type != EventSubscriptionDeleted {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedObject, e.Type)
	}
	var s Subscription
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedObject, err)
	}
	return &s, nil
}
