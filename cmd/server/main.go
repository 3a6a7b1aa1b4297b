package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-reservation-engine/internal/broadcast"
	"github.com/iliyamo/seat-reservation-engine/internal/config"
	"github.com/iliyamo/seat-reservation-engine/internal/database"
	"github.com/iliyamo/seat-reservation-engine/internal/handler"
	"github.com/iliyamo/seat-reservation-engine/internal/logger"
	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/payment"
	"github.com/iliyamo/seat-reservation-engine/internal/pricing"
	"github.com/iliyamo/seat-reservation-engine/internal/queue"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
	"github.com/iliyamo/seat-reservation-engine/internal/router"
	"github.com/iliyamo/seat-reservation-engine/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("migrate database")
	}

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		log.WithError(err).Fatal("connect redis")
	}
	defer rdb.Close()

	brokers := config.LoadBrokerConfig()
	var mirrors []broadcast.Mirror
	if len(brokers.KafkaBrokers) > 0 {
		km := broadcast.NewKafkaMirror(brokers.KafkaBrokers, brokers.KafkaSeatTopic)
		defer km.Close()
		mirrors = append(mirrors, km)
		log.WithField("topic", brokers.KafkaSeatTopic).Info("mirroring seat events to kafka")
	}
	events := broadcast.New(rdb, cfg.SeatEventsChannel, log, mirrors...)

	fanout := broadcast.NewFanout(64)
	relayer := broadcast.NewRelayer(rdb, cfg.SeatEventsChannel, fanout, log)
	go func() {
		if err := relayer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("seat event relayer stopped")
		}
	}()

	sink, err := openTicketLog("logs/booking.log")
	if err != nil {
		log.WithError(err).Fatal("open ticket log")
	}
	defer sink.Close()
	consumer := queue.NewConsumer(brokers.RabbitURL, brokers.NotificationQueue, sink, log)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("notification consumer stopped")
		}
	}()

	var catalog pricing.Catalog = repository.NewCatalogRepo(db)
	if cfg.CatalogURL != "" {
		catalog = pricing.NewHTTPCatalog(cfg.CatalogURL, &http.Client{Timeout: cfg.PricingTimeout})
	}
	quoter := pricing.Quoter{Catalog: catalog, Timeout: cfg.PricingTimeout}

	bookingRepo := repository.NewBookingRepo(db)
	locks := service.NewSeatLockManager(repository.NewSeatHoldRepo(rdb), quoter, events, config.HoldTTL, log)
	bookings := service.NewBookingCoordinator(locks, bookingRepo, quoter, events, log)

	pcfg := config.LoadPaymentConfig()
	payments := service.NewPaymentReconciler(
		bookingRepo,
		events,
		queue.NewPublisher(brokers.RabbitURL, brokers.NotificationQueue, log),
		service.RetryPolicy{MaxTries: pcfg.PollMaxTries, MaxElapsed: pcfg.PollMaxElapsed},
		log,
	)
	registerProviders(payments, pcfg, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(log))
	router.Register(e, router.Handlers{
		Health:   &handler.HealthHandler{DB: db, Redis: rdb},
		Seats:    handler.NewSeatHandler(locks),
		Events:   handler.NewEventsHandler(fanout),
		Bookings: handler.NewBookingHandler(bookings, payments),
		Payments: handler.NewPaymentHandler(payments, bookings),
	}, router.Options{
		JWTSecret:      cfg.JWTSecret,
		InternalAPIKey: cfg.InternalAPIKey,
		RateLimit:      config.LoadRateLimitConfig(),
		Redis:          rdb,
	})

	go func() {
		addr := ":" + cfg.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "hold_ttl": config.HoldTTL}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}

// registerProviders enables each payment provider whose secret is set.
func registerProviders(r *service.PaymentReconciler, cfg config.PaymentConfig, log logrus.FieldLogger) {
	client := &http.Client{Timeout: cfg.ProviderTimeout}
	var enabled []string
	if cfg.MomoSecretKey != "" {
		m := &payment.MoMo{
			PartnerCode: cfg.MomoPartnerCode,
			AccessKey:   cfg.MomoAccessKey,
			SecretKey:   cfg.MomoSecretKey,
			Endpoint:    cfg.MomoEndpoint,
			RedirectURL: cfg.CompletedURL,
			IPNURL:      cfg.CallbackURL("momo/callback"),
			Client:      client,
		}
		r.RegisterInitiator(m)
		r.RegisterVerifier(m)
		r.RegisterChecker(m)
		enabled = append(enabled, m.Provider())
	}
	if cfg.VnpayHashSecret != "" {
		v := &payment.VnPay{
			TmnCode:    cfg.VnpayTmnCode,
			HashSecret: cfg.VnpayHashSecret,
			PayURL:     cfg.VnpayPayURL,
			ReturnURL:  cfg.CallbackURL("vnpay/callback"),
		}
		r.RegisterInitiator(v)
		r.RegisterVerifier(v)
		enabled = append(enabled, v.Provider())
	}
	if cfg.ZaloPayKey2 != "" {
		z := &payment.ZaloPay{
			AppID:       cfg.ZaloPayAppID,
			Key1:        cfg.ZaloPayKey1,
			Key2:        cfg.ZaloPayKey2,
			Endpoint:    cfg.ZaloPayEndpoint,
			CallbackURL: cfg.CallbackURL("zalopay/callback"),
			RedirectURL: cfg.CompletedURL,
			Client:      client,
		}
		r.RegisterInitiator(z)
		r.RegisterVerifier(z)
		r.RegisterChecker(z)
		enabled = append(enabled, z.Provider())
	}
	if cfg.StripeWebhookSecret != "" {
		s := &payment.Stripe{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Currency:      cfg.StripeCurrency,
		}
		if cfg.StripeSecretKey != "" {
			r.RegisterInitiator(s)
		}
		r.RegisterVerifier(s)
		enabled = append(enabled, s.Provider())
	}
	log.WithField("providers", enabled).Info("payment providers registered")
}

func openTicketLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
