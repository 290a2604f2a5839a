package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-tourbooking/internal/booking"
	booking_db "ms-tourbooking/internal/booking/db"
	booking_supabase "ms-tourbooking/internal/booking/supabase"
	"ms-tourbooking/internal/config"
	"ms-tourbooking/internal/database"
	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/metrics"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	once := flag.Bool("once", false, "run a single reconciliation pass and exit")
	metricsAddr := flag.String("metrics-addr", ":9102", "address for /metrics, empty to disable")
	flag.Parse()

	log, err := logger.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	bookingDB := booking_db.New(bunDB)
	var ledger booking.Ledger = bookingDB
	if cfg.Booking.LedgerBackend == config.LedgerSupabase {
		client, err := booking_supabase.NewClient(cfg.Supabase)
		if err != nil {
			log.Fatal("BOOKING", err.Error())
		}
		ledger = booking_supabase.NewLedger(client)
	}

	registry := prometheus.NewRegistry()
	reconciler := booking.NewReconciler(ledger, bookingDB, metrics.NewBookingMetrics(registry), log).
		WithGrace(booking.InFlightGrace(cfg.Booking.RequestTimeout))

	if *once {
		report, err := reconciler.RunOnce(ctx)
		log.Info("RECONCILE", fmt.Sprintf("checked=%d applied=%d voided=%d cleared=%d skipped=%d failed=%d",
			report.Checked, report.Applied, report.Voided, report.Cleared, report.Skipped, report.Failed))
		if err != nil {
			log.Error("RECONCILE", err.Error())
			os.Exit(1)
		}
		return
	}

	if *metricsAddr != "" {
		server := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP", fmt.Sprintf("metrics server error: %v", err))
			}
		}()
		defer server.Close()
	}

	log.Info("RECONCILE", fmt.Sprintf("Reconcile worker started, interval %s", cfg.Booking.ReconcileInterval))
	reconciler.Run(ctx, cfg.Booking.ReconcileInterval)
}
