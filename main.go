package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-tourbooking/internal/analytics"
	analytics_api "ms-tourbooking/internal/analytics/api"
	"ms-tourbooking/internal/auth"
	"ms-tourbooking/internal/booking"
	"ms-tourbooking/internal/booking/booking_api"
	booking_db "ms-tourbooking/internal/booking/db"
	booking_redis "ms-tourbooking/internal/booking/redis"
	booking_supabase "ms-tourbooking/internal/booking/supabase"
	"ms-tourbooking/internal/config"
	"ms-tourbooking/internal/database"
	"ms-tourbooking/internal/database/migrations"
	"ms-tourbooking/internal/kafka"
	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/metrics"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/orders"
	orders_db "ms-tourbooking/internal/orders/db"
	"ms-tourbooking/internal/orders/order_api"
	"ms-tourbooking/internal/qr"
	"ms-tourbooking/internal/sse"
	"ms-tourbooking/internal/tours"
	tours_db "ms-tourbooking/internal/tours/db"
	"ms-tourbooking/internal/tours/tour_api"
	"ms-tourbooking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/multierr"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client, nil
}

// selectLedger picks the store the allocator writes capacity through.
func selectLedger(cfg *config.Config, bookingDB *booking_db.DB, log *logger.Logger) (booking.Ledger, error) {
	switch cfg.Booking.LedgerBackend {
	case config.LedgerPostgres, "":
		log.Info("BOOKING", "Allocator ledger: PostgreSQL")
		return bookingDB, nil
	case config.LedgerSupabase:
		client, err := booking_supabase.NewClient(cfg.Supabase)
		if err != nil {
			return nil, err
		}
		log.Info("BOOKING", fmt.Sprintf("Allocator ledger: Supabase at %s", cfg.Supabase.URL))
		return booking_supabase.NewLedger(client), nil
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.Booking.LedgerBackend)
	}
}

// changeFeed returns the publisher every service reports mutations to. With
// Kafka enabled, events reach the SSE emitter through the consumer.
func changeFeed(ctx context.Context, cfg config.KafkaConfig, emitter *sse.ChangeEmitter, log *logger.Logger) (booking.ChangePublisher, []func() error) {
	if !cfg.Enabled {
		log.Info("KAFKA", "Kafka disabled, change events go straight to SSE clients")
		return emitter, nil
	}

	if err := kafka.EnsureTopicsExist(cfg.Brokers, []string{cfg.Topics.Changes}, log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}

	producer := kafka.NewProducer(cfg.Brokers, cfg.Topics.Changes, log)
	consumer := kafka.NewConsumer(cfg.Brokers, cfg.Topics.Changes, kafka.InstanceGroupID(cfg.GroupID), log)
	go consumer.Start(ctx, emitter.Emit)
	log.Info("KAFKA", fmt.Sprintf("Change feed on topic %s via %v", cfg.Topics.Changes, cfg.Brokers))

	return producer, []func() error{producer.Close, consumer.Close}
}

func healthHandler(bunDB *bun.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		err := multierr.Combine(bunDB.PingContext(ctx), rdb.Ping(ctx).Err())
		if err != nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "Dependencies unavailable", err)
			return
		}
		utils.WriteSuccess(w, http.StatusOK, "OK", nil)
	}
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.LogAPI(r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working behind the request logger.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func main() {
	log, err := logger.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("APP", "Starting Tour Booking Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}

	migrateOpts := migrations.MigrateOptions{
		MigrationsDir: cfg.Database.MigrationsDir,
		AutoMigrate:   cfg.Database.AutoMigrate,
		SeedData:      cfg.Database.SeedDemoData,
	}
	runner := migrations.NewRunner(bunDB.DB, migrateOpts, log)
	if migrateOpts.AutoMigrate {
		if err := runner.Run(); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	redisClient, err := connectRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("REDIS", err.Error())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(registry)

	emitter := sse.NewChangeEmitter()
	publisher, closers := changeFeed(ctx, cfg.Kafka, emitter, log)

	bookingDB := booking_db.New(bunDB)
	ledger, err := selectLedger(cfg, bookingDB, log)
	if err != nil {
		log.Fatal("BOOKING", err.Error())
	}

	datesCache := booking_redis.NewDatesCache(redisClient, bookingDB, cfg.Booking.DatesCacheTTL, log)
	guard := booking_redis.NewSubmitGuard(redisClient, cfg.Booking.SubmitGuardTTL)

	allocator := booking.NewAllocator(ledger, bookingMetrics, log, booking.AllocatorConfig{
		MaxAttempts:    cfg.Booking.MaxAttempts,
		RequestTimeout: cfg.Booking.RequestTimeout,
	})
	facade := booking.NewFacade(allocator, datesCache, guard, publisher, log)
	bookingService := booking.NewService(bookingDB, datesCache, publisher, log)
	reconciler := booking.NewReconciler(ledger, bookingDB, bookingMetrics, log).
		WithGrace(booking.InFlightGrace(cfg.Booking.RequestTimeout))
	if cfg.Booking.ReconcileInServer {
		go reconciler.Run(ctx, cfg.Booking.ReconcileInterval)
		log.Info("RECONCILE", fmt.Sprintf("In-process reconciliation every %s", cfg.Booking.ReconcileInterval))
	}

	qrGenerator, err := qr.NewQRGenerator(cfg.QR.Secret, cfg.QR.Size)
	if err != nil {
		log.Fatal("QR", err.Error())
	}

	tourService := tours.NewService(tours_db.New(bunDB), datesCache, publisher, log)
	orderService := orders.NewService(orders_db.New(bunDB), publisher, cfg.Shop.DeliveryFee, log)
	analyticsService := analytics.NewService(analytics.NewDB(bunDB))

	verifier, err := auth.NewVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	bookingHandler := booking_api.NewHandler(facade, bookingService, reconciler, qrGenerator, log)
	tourHandler := tour_api.NewHandler(tourService, datesCache, log)
	orderHandler := order_api.NewHandler(orderService, log)
	analyticsHandler := analytics_api.NewHandler(analyticsService, log)
	realtimeHandler := sse.NewHandler(log, emitter)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(requestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Public Routes ---
	r.Get("/healthz", healthHandler(bunDB, redisClient))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	tourHandler.PublicRoutes(r)
	orderHandler.PublicRoutes(r)
	realtimeHandler.RegisterRoutes(r)
	log.Info("ROUTER", "Public catalogue, realtime and metrics routes registered")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		bookingHandler.UserRoutes(r)
		orderHandler.UserRoutes(r)
		log.Info("ROUTER", "Booking and order routes registered under /api")

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			tourHandler.AdminRoutes(r)
			bookingHandler.AdminRoutes(r)
			orderHandler.AdminRoutes(r)
			analyticsHandler.RegisterRoutes(r)
			log.Info("ROUTER", "Admin routes registered under /api/admin")
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// SSE streams stay open, so no write timeout
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Tour Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			stop()
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := server.Shutdown(ctxShutdown)
	for _, closeFn := range closers {
		errs = multierr.Append(errs, closeFn())
	}
	errs = multierr.Combine(errs, runner.Close(), redisClient.Close(), bunDB.Close())
	if errs != nil {
		log.Error("APP", fmt.Sprintf("Shutdown finished with errors: %v", errs))
		return
	}
	log.Info("HTTP", "✅ Tour Booking Service shutdown complete")
}
