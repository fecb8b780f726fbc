package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/config"
	"github.com/iliyamo/luthier-storefront/internal/database"
	"github.com/iliyamo/luthier-storefront/internal/handler"
	"github.com/iliyamo/luthier-storefront/internal/lock"
	"github.com/iliyamo/luthier-storefront/internal/middleware"
	"github.com/iliyamo/luthier-storefront/internal/notify"
	"github.com/iliyamo/luthier-storefront/internal/queue"
	"github.com/iliyamo/luthier-storefront/internal/repository"
	"github.com/iliyamo/luthier-storefront/internal/router"
	"github.com/iliyamo/luthier-storefront/internal/service"
	"github.com/iliyamo/luthier-storefront/internal/translate"
)

func newLogger(dev bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}
	log := newLogger(cfg.Dev())
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, log); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable: cache, rate limiting and reservation locks disabled")
	} else {
		defer rdb.Close()
	}

	// ---- Repositories ----
	instruments := repository.NewInstrumentRepo(db, cfg.DefaultLocale)
	orders := repository.NewOrderRepo(db)
	outbox := repository.NewOutboxRepo(db)
	store := repository.NewStore(db, instruments, orders, outbox)

	// ---- Services ----
	catalog := service.NewCatalogService(instruments, outbox, cfg.DefaultLocale, cfg.Locales, log)
	reservations := service.NewReservationService(store, instruments,
		lock.New(rdb, "lock:reservation", 3*time.Second),
		service.Pricing{ShippingFlat: cfg.ShippingFlat, InsuranceRate: cfg.InsuranceRate},
		service.ReservationConfig{Limit: cfg.ReservationLimit, Tolerance: cfg.PriceTolerance, LockTTL: cfg.ReservationLock},
		log)
	orderSvc := service.NewOrderService(store, orders, log)
	auth := service.NewAuthService(repository.NewUserRepo(db), repository.NewTokenRepo(db), outbox, service.AuthConfig{
		JWTSecret:  cfg.JWTSecret,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		OTPTTL:     cfg.OTPTTL,
		BcryptCost: cfg.BcryptCost,
	}, log)
	addresses := service.NewAddressService(repository.NewAddressRepo(db))

	// ---- Background jobs ----
	composer, err := notify.NewComposer(cfg.ShopName, cfg.ShopOwnerEmail)
	if err != nil {
		log.Fatal("email templates", zap.Error(err))
	}
	executor := queue.NewExecutor(composer, notify.NewMailer(cfg.ResendAPIKey, cfg.MailFrom, log),
		translate.NewDeepL(cfg.DeepLAPIKey), catalog, log)

	var (
		wg   sync.WaitGroup
		sink queue.Sink = executor
	)
	if cfg.RabbitMQURL != "" {
		pub := queue.NewPublisher(cfg.RabbitMQURL, cfg.QueueName, log)
		defer pub.Close()
		sink = pub
		consumer := queue.NewConsumer(cfg.RabbitMQURL, cfg.QueueName, cfg.OutboxMaxAttempts, executor, pub, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	} else {
		log.Info("RABBITMQ_URL not set: outbox jobs run in-process")
	}
	relay := queue.NewRelay(outbox, sink, queue.RelayConfig{
		Interval:    cfg.OutboxPollInterval,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.Validator = service.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log))
	strict := middleware.NewTokenBucket(config.LoadStrictRateLimitConfig(), rdb, log)
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, log)

	router.RegisterRoutes(e, handler.NewHealthHandler(db, rdb))
	router.RegisterAuth(e, handler.NewAuthHandler(auth, log), cfg.JWTSecret, cfg.InternalSecret, strict)
	router.RegisterCatalog(e, handler.NewCatalogHandler(catalog, log), cache)
	router.RegisterCheckout(e, handler.NewCheckoutHandler(reservations, log), cfg.JWTSecret, strict)
	router.RegisterAccount(e, handler.NewAccountHandler(addresses, orderSvc, log), cfg.JWTSecret)
	router.RegisterAdmin(e, handler.NewAdminOrderHandler(orderSvc, log),
		handler.NewAdminInstrumentHandler(catalog, cache, log), cfg.JWTSecret)

	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	wg.Wait()
}
