// Package payment opens provider checkouts for bookings, turns raw provider
// callbacks into authenticated payment outcomes and queries providers for
// the status of a transaction.  Each provider implements Initiator and
// Verifier and, when its API allows it, StatusChecker.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"net/url"
)

// Outcome is the result a provider reports for a transaction.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

// Provider names, also stored as the booking's payment method.
const (
	ProviderMoMo    = "momo"
	ProviderVnPay   = "vnpay"
	ProviderZaloPay = "zalopay"
	ProviderStripe  = "stripe"
)

var (
	// ErrMalformedPayload means the callback could not even be parsed far
	// enough to know which booking it is about.
	ErrMalformedPayload = errors.New("malformed payment payload")
	// ErrProviderUnavailable wraps transport and non-2xx failures of a
	// provider status query.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrCheckoutRejected means the provider answered but refused to open
	// the checkout.
	ErrCheckoutRejected = errors.New("payment provider rejected checkout")
)

// Payload is a raw callback as received over HTTP.
type Payload struct {
	Body   []byte
	Query  url.Values
	Header http.Header
}

// Verification is what a Verifier extracted from a callback.  Authentic is
// false when the signature did not match; BookingID is still filled in
// from the unauthenticated payload so the booking can be failed.
type Verification struct {
	BookingID string
	Outcome   Outcome
	Authentic bool
	Reference string
}

// Order is a booking to collect payment for.  Amount is in the booking's
// minor currency unit.
type Order struct {
	BookingID string
	Amount    int64
	ClientIP  string
}

// Checkout tells the client how to pay.  Redirect providers fill PayURL;
// Stripe fills ClientSecret for the client-side confirmation.
type Checkout struct {
	Provider     string `json:"provider"`
	BookingID    string `json:"bookingId"`
	PayURL       string `json:"payUrl,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

// Initiator opens a payment with one provider.  The provider transaction is
// keyed so that its callbacks carry the booking id back.
type Initiator interface {
	Provider() string
	Checkout(ctx context.Context, o Order) (Checkout, error)
}

// Verifier authenticates the callbacks of one provider.
type Verifier interface {
	Provider() string
	Verify(ctx context.Context, p Payload) (Verification, error)
}

// StatusChecker asks a provider for the status of the transaction created
// for a booking.
type StatusChecker interface {
	Provider() string
	CheckStatus(ctx context.Context, bookingID string) (Outcome, error)
}

func signHex(newHash func() hash.Hash, key, data string) string {
	m := hmac.New(newHash, []byte(key))
	m.Write([]byte(data))
	return hex.EncodeToString(m.Sum(nil))
}

func hmacSHA256(key, data string) string { return signHex(sha256.New, key, data) }
func hmacSHA512(key, data string) string { return signHex(sha512.New, key, data) }

// equalHex compares two hex signatures in constant time, ignoring case.
func equalHex(expected, got string) bool {
	a, err1 := hex.DecodeString(expected)
	b, err2 := hex.DecodeString(got)
	if err1 != nil || err2 != nil {
		return false
	}
	return hmac.Equal(a, b)
}
