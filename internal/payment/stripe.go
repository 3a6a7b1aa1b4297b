package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// BookingMetadataKey is the PaymentIntent metadata key carrying the booking
// id.
const BookingMetadataKey = "booking_id"

// Stripe creates PaymentIntents tagged with the booking id and verifies
// Stripe webhooks with the endpoint's signing secret.  Backend is nil in
// production, which selects the default Stripe API backend.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	Backend       stripe.Backend
}

// Checkout creates a PaymentIntent for the booking.  The booking id is the
// idempotency key, so repeating a checkout returns the same intent.
func (s *Stripe) Checkout(ctx context.Context, o Order) (Checkout, error) {
	currency := s.Currency
	if currency == "" {
		currency = string(stripe.CurrencyVND)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(o.Amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{BookingMetadataKey: o.BookingID},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + o.BookingID)

	backend := s.Backend
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	pi, err := paymentintent.Client{B: backend, Key: s.SecretKey}.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode < 500 {
			return Checkout{}, fmt.Errorf("%w: stripe: %s", ErrCheckoutRejected, serr.Msg)
		}
		return Checkout{}, fmt.Errorf("%w: stripe: %v", ErrProviderUnavailable, err)
	}
	return Checkout{Provider: ProviderStripe, BookingID: o.BookingID, ClientSecret: pi.ClientSecret, Reference: pi.ID}, nil
}

func (s *Stripe) Provider() string { return ProviderStripe }

// Verify handles payment_intent.succeeded and payment_intent.payment_failed
// events.  Other event types come back as pending so they change nothing.
func (s *Stripe) Verify(_ context.Context, p Payload) (Verification, error) {
	event, err := webhook.ConstructEventWithOptions(p.Body, p.Header.Get("Stripe-Signature"), s.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		// Read the booking id from the unauthenticated body so the
		// booking can still be failed.
		id, perr := unverifiedStripeBookingID(p.Body)
		if perr != nil {
			return Verification{}, perr
		}
		return Verification{BookingID: id, Outcome: OutcomeFailure, Authentic: false}, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return Verification{}, fmt.Errorf("%w: stripe payment intent", ErrMalformedPayload)
	}
	id := pi.Metadata[BookingMetadataKey]
	if id == "" {
		return Verification{}, fmt.Errorf("%w: stripe event %s has no booking id", ErrMalformedPayload, event.ID)
	}
	v := Verification{BookingID: id, Authentic: true, Reference: pi.ID, Outcome: OutcomePending}
	switch event.Type {
	case "payment_intent.succeeded":
		v.Outcome = OutcomeSuccess
	case "payment_intent.payment_failed", "payment_intent.canceled":
		v.Outcome = OutcomeFailure
	}
	return v, nil
}

func unverifiedStripeBookingID(body []byte) (string, error) {
	var ev struct {
		Data struct {
			Object struct {
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &ev); err != nil || ev.Data.Object.Metadata[BookingMetadataKey] == "" {
		return "", fmt.Errorf("%w: stripe event", ErrMalformedPayload)
	}
	return ev.Data.Object.Metadata[BookingMetadataKey], nil
}
