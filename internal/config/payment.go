package config

import (
	"strings"
	"time"
)

// PaymentConfig groups the credentials of every payment provider plus the
// retry policy used when polling a provider for a transaction status.  A
// provider whose secret is empty is not registered.  Provider callbacks are
// addressed at CallbackBaseURL; CompletedURL is where the user's browser
// lands after paying.
type PaymentConfig struct {
	CallbackBaseURL string
	CompletedURL    string

	MomoPartnerCode string
	MomoAccessKey   string
	MomoSecretKey   string
	MomoEndpoint    string

	VnpayTmnCode    string
	VnpayHashSecret string
	VnpayPayURL     string

	ZaloPayAppID    int
	ZaloPayKey1     string
	ZaloPayKey2     string
	ZaloPayEndpoint string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string

	PollMaxTries    uint
	PollMaxElapsed  time.Duration
	ProviderTimeout time.Duration
}

func LoadPaymentConfig() PaymentConfig {
	cfg := PaymentConfig{
		CallbackBaseURL:     strings.TrimSuffix(envStr("PAYMENT_CALLBACK_BASE_URL", "http://localhost:8080"), "/"),
		CompletedURL:        envStr("CHECKOUT_COMPLETED_URL", "http://localhost:3000/checkout/completed"),
		MomoPartnerCode:     envStr("MOMO_PARTNER_CODE", ""),
		MomoAccessKey:       envStr("MOMO_ACCESS_KEY", ""),
		MomoSecretKey:       envStr("MOMO_SECRET_KEY", ""),
		MomoEndpoint:        envStr("MOMO_ENDPOINT", "https://test-payment.momo.vn/v2/gateway/api"),
		VnpayTmnCode:        envStr("VNPAY_TMN_CODE", ""),
		VnpayHashSecret:     envStr("VNPAY_HASH_SECRET", ""),
		VnpayPayURL:         envStr("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
		ZaloPayKey1:         envStr("ZALOPAY_KEY1", ""),
		ZaloPayKey2:         envStr("ZALOPAY_KEY2", ""),
		ZaloPayEndpoint:     envStr("ZALOPAY_ENDPOINT", "https://sb-openapi.zalopay.vn/v2"),
		StripeSecretKey:     envStr("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: envStr("STRIPE_WEBHOOK_SECRET", ""),
		StripeCurrency:      envStr("STRIPE_CURRENCY", "vnd"),
		PollMaxTries:        uint(envInt("PAYMENT_POLL_MAX_TRIES", 5)),
		PollMaxElapsed:      envDur("PAYMENT_POLL_MAX_ELAPSED", 30*time.Second),
		ProviderTimeout:     envDur("PAYMENT_PROVIDER_TIMEOUT", 10*time.Second),
	}
	if cfg.ZaloPayKey2 != "" {
		cfg.ZaloPayAppID = mustInt("ZALOPAY_APP_ID")
	}
	if cfg.PollMaxTries == 0 {
		cfg.PollMaxTries = 1
	}
	return cfg
}

// CallbackURL is the public address of a provider callback route.
func (c PaymentConfig) CallbackURL(path string) string {
	return c.CallbackBaseURL + "/payments/" + strings.TrimPrefix(path, "/")
}
