package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-reservation-engine/internal/config"
	"github.com/iliyamo/seat-reservation-engine/internal/handler"
	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/utils"
)

func newTestEcho() *echo.Echo {
	e := echo.New()
	Register(e, Handlers{
		Health:   &handler.HealthHandler{},
		Seats:    &handler.SeatHandler{},
		Events:   &handler.EventsHandler{},
		Bookings: &handler.BookingHandler{},
		Payments: &handler.PaymentHandler{},
	}, Options{
		JWTSecret:      "secret",
		InternalAPIKey: "internal",
		RateLimit:      config.RateLimitConfig{Enabled: false},
	})
	return e
}

func TestRegister_Routes(t *testing.T) {
	e := newTestEcho()
	got := map[string]bool{}
	for _, r := range e.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /healthz",
		"POST /seats/hold",
		"DELETE /seats/hold/:showtimeId/:seatId",
		"GET /seats/held/:showtimeId",
		"GET /seats/events/:showtimeId",
		"POST /bookings",
		"GET /bookings",
		"GET /bookings/:id",
		"GET /bookings/public/:showtimeId/booked-seats",
		"PATCH /bookings/:id/used",
		"PUT /bookings/:id/status",
		"POST /payments/momo/callback",
		"GET /payments/vnpay/callback",
		"POST /payments/zalopay/callback",
		"POST /payments/stripe/webhook",
		"POST /payments/:provider/checkout/:bookingId",
		"POST /payments/:provider/check-status/:bookingId",
	} {
		assert.True(t, got[want], "missing route %s", want)
	}
}

func TestRegister_Guards(t *testing.T) {
	e := newTestEcho()
	customer, err := utils.NewAccessToken("secret", 7, middleware.RoleCustomer, time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		path   string
		header map[string]string
		want   int
	}{
		{"health is public", http.MethodGet, "/healthz", nil, http.StatusOK},
		{"bookings need a token", http.MethodGet, "/bookings", nil, http.StatusUnauthorized},
		{"hold needs a token", http.MethodPost, "/seats/hold", nil, http.StatusUnauthorized},
		{"redeem is staff only", http.MethodPatch, "/bookings/b-1/used", map[string]string{"Authorization": "Bearer " + customer.Token}, http.StatusForbidden},
		{"status needs the internal key", http.MethodPut, "/bookings/b-1/status", map[string]string{"X-Internal-Key": "wrong"}, http.StatusUnauthorized},
		{"check-status needs a token", http.MethodPost, "/payments/momo/check-status/b-1", nil, http.StatusUnauthorized},
		{"checkout needs a token", http.MethodPost, "/payments/stripe/checkout/b-1", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
