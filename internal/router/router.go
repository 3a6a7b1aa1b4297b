// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-reservation-engine/internal/config"
	"github.com/iliyamo/seat-reservation-engine/internal/handler"
	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Health   *handler.HealthHandler
	Seats    *handler.SeatHandler
	Events   *handler.EventsHandler
	Bookings *handler.BookingHandler
	Payments *handler.PaymentHandler
}

// Options carries the secrets and limits the middleware needs.
type Options struct {
	JWTSecret      string
	InternalAPIKey string
	RateLimit      config.RateLimitConfig
	Redis          redis.Scripter
}

// Register mounts every route of the service on e.
func Register(e *echo.Echo, h Handlers, opt Options) {
	e.GET("/healthz", h.Health.Health)

	auth := middleware.JWTAuth(opt.JWTSecret)
	limit := middleware.NewTokenBucket(opt.RateLimit, opt.Redis)
	anyRole := middleware.RequireRole(middleware.RoleCustomer, middleware.RoleOperator, middleware.RoleAdmin)
	staff := middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin)

	seats := e.Group("/seats")
	seats.GET("/events/:showtimeId", h.Events.Stream)
	seats.POST("/hold", h.Seats.HoldSeat, auth, anyRole, limit)
	seats.DELETE("/hold/:showtimeId/:seatId", h.Seats.ReleaseHold, auth, anyRole)
	seats.GET("/held/:showtimeId", h.Seats.ListHeld, auth, anyRole)

	bookings := e.Group("/bookings")
	bookings.GET("/public/:showtimeId/booked-seats", h.Bookings.PublicBookedSeats)
	bookings.PUT("/:id/status", h.Bookings.UpdateStatus, middleware.InternalKey(opt.InternalAPIKey))
	bookings.POST("", h.Bookings.CreateBooking, auth, anyRole, limit)
	bookings.GET("", h.Bookings.ListBookings, auth, anyRole)
	bookings.GET("/:id", h.Bookings.GetBooking, auth, anyRole)
	bookings.PATCH("/:id/used", h.Bookings.MarkUsed, auth, staff)

	payments := e.Group("/payments", limit)
	payments.POST("/momo/callback", h.Payments.MoMoCallback)
	payments.GET("/vnpay/callback", h.Payments.VnPayCallback)
	payments.POST("/zalopay/callback", h.Payments.ZaloPayCallback)
	payments.POST("/stripe/webhook", h.Payments.StripeWebhook)
	payments.POST("/:provider/checkout/:bookingId", h.Payments.Checkout, auth, anyRole, limit)
	payments.POST("/:provider/check-status/:bookingId", h.Payments.CheckStatus, auth, anyRole)
}
