package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/payment"
	"github.com/iliyamo/seat-reservation-engine/internal/service"
)

const maxCallbackBody = 64 << 10

// PaymentHandler receives provider callbacks and client-initiated status
// checks.  Callbacks answer 200 in the provider's own response format once
// the outcome is applied, including when a tampered callback failed the
// booking.  Only a processing error gets the provider's retry answer.
type PaymentHandler struct {
	Payments *service.PaymentReconciler
	Bookings *service.BookingCoordinator
}

func NewPaymentHandler(payments *service.PaymentReconciler, bookings *service.BookingCoordinator) *PaymentHandler {
	if payments == nil || bookings == nil {
		panic("nil service passed to NewPaymentHandler")
	}
	return &PaymentHandler{Payments: payments, Bookings: bookings}
}

func (h *PaymentHandler) handle(c echo.Context, provider string) (service.Resolution, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return service.Resolution{}, err
	}
	res, err := h.Payments.HandleCallback(c.Request().Context(), provider, payment.Payload{
		Body:   body,
		Query:  c.QueryParams(),
		Header: c.Request().Header,
	})
	if err != nil {
		middleware.Logger(c).WithError(err).WithField("provider", provider).Warn("payment callback rejected")
	}
	return res, err
}

// settled reports whether a callback error still leaves nothing for the
// provider to retry.
func settled(err error) bool {
	return err == nil || errors.Is(err, service.ErrInvalidTransition) || errors.Is(err, service.ErrBookingNotFound)
}

// MoMoCallback handles POST /payments/momo/callback.
func (h *PaymentHandler) MoMoCallback(c echo.Context) error {
	res, err := h.handle(c, payment.ProviderMoMo)
	switch {
	case errors.Is(err, service.ErrPaymentVerification):
		return c.JSON(http.StatusOK, echo.Map{"resultCode": 2, "message": "invalid payload"})
	case !settled(err):
		return c.JSON(http.StatusOK, echo.Map{"resultCode": 99, "message": "retry later"})
	}
	return c.JSON(http.StatusOK, echo.Map{"resultCode": 0, "message": "received", "orderId": res.BookingID})
}

// VnPayCallback handles GET /payments/vnpay/callback (the VNPay IPN).
func (h *PaymentHandler) VnPayCallback(c echo.Context) error {
	res, err := h.handle(c, payment.ProviderVnPay)
	switch {
	case errors.Is(err, service.ErrPaymentVerification):
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "01", "Message": "Order not found"})
	case errors.Is(err, service.ErrBookingNotFound):
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "01", "Message": "Order not found"})
	case errors.Is(err, service.ErrInvalidTransition) || res.Result == service.ResultAlreadyHandled:
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "02", "Message": "Order already confirmed"})
	case err != nil:
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "99", "Message": "Unknown error"})
	case !res.Authentic:
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "97", "Message": "Invalid signature"})
	}
	return c.JSON(http.StatusOK, echo.Map{"RspCode": "00", "Message": "Confirm Success"})
}

// ZaloPayCallback handles POST /payments/zalopay/callback.
func (h *PaymentHandler) ZaloPayCallback(c echo.Context) error {
	res, err := h.handle(c, payment.ProviderZaloPay)
	switch {
	case errors.Is(err, service.ErrPaymentVerification):
		return c.JSON(http.StatusOK, echo.Map{"return_code": -1, "return_message": "invalid payload"})
	case !settled(err):
		return c.JSON(http.StatusOK, echo.Map{"return_code": 0, "return_message": "retry"})
	case !res.Authentic:
		return c.JSON(http.StatusOK, echo.Map{"return_code": -1, "return_message": "mac not equal"})
	}
	return c.JSON(http.StatusOK, echo.Map{"return_code": 1, "return_message": "success"})
}

// StripeWebhook handles POST /payments/stripe/webhook.  Stripe only looks
// at the status code, so a processing error answers 500 to get a redelivery.
func (h *PaymentHandler) StripeWebhook(c echo.Context) error {
	_, err := h.handle(c, payment.ProviderStripe)
	switch {
	case errors.Is(err, service.ErrPaymentVerification):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	case !settled(err):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "retry"})
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}

// Checkout handles POST /payments/:provider/checkout/:bookingId.  The
// caller must be able to see the booking and it must still await payment.
func (h *PaymentHandler) Checkout(c echo.Context) error {
	req, err := requesterFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	b, err := h.Bookings.GetBooking(ctx, req, c.Param("bookingId"))
	switch {
	case errors.Is(err, service.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case err != nil:
		middleware.Logger(c).WithError(err).Error("checkout")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load booking"})
	}
	co, err := h.Payments.Checkout(ctx, c.Param("provider"), b, c.RealIP())
	switch {
	case errors.Is(err, service.ErrUnknownProvider):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown payment provider"})
	case errors.Is(err, service.ErrNotPayable):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrPaymentProvider):
		middleware.Logger(c).WithError(err).Warn("checkout")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment provider unavailable"})
	case err != nil:
		middleware.Logger(c).WithError(err).Error("checkout")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to open checkout"})
	}
	return c.JSON(http.StatusOK, co)
}

// CheckStatus handles POST /payments/:provider/check-status/:bookingId.
// The caller must be able to see the booking.
func (h *PaymentHandler) CheckStatus(c echo.Context) error {
	req, err := requesterFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	bookingID := c.Param("bookingId")
	if _, err := h.Bookings.GetBooking(ctx, req, bookingID); err != nil {
		switch {
		case errors.Is(err, service.ErrBookingNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
		middleware.Logger(c).WithError(err).Error("check status")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load booking"})
	}
	res, err := h.Payments.CheckStatus(ctx, c.Param("provider"), bookingID)
	switch {
	case errors.Is(err, service.ErrUnknownProvider):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown payment provider"})
	case errors.Is(err, service.ErrPaymentProvider):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment provider unavailable"})
	case errors.Is(err, service.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case err != nil:
		middleware.Logger(c).WithError(err).Error("check status")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check status"})
	}
	return c.JSON(http.StatusOK, res)
}
