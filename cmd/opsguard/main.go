// OpsGuard — automated incident remediation with human approval
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	opsguardapi "github.com/opsguard/opsguard/internal/api"
	"github.com/opsguard/opsguard/internal/bus"
	"github.com/opsguard/opsguard/internal/config"
	"github.com/opsguard/opsguard/internal/db"
	"github.com/opsguard/opsguard/internal/diagnose"
	"github.com/opsguard/opsguard/internal/health"
	"github.com/opsguard/opsguard/internal/incident"
	"github.com/opsguard/opsguard/internal/notify"
	"github.com/opsguard/opsguard/internal/observability"
	"github.com/opsguard/opsguard/internal/pipeline"
	"github.com/opsguard/opsguard/internal/remediate"
	"github.com/opsguard/opsguard/internal/scan"
	"github.com/opsguard/opsguard/internal/store"
	"github.com/opsguard/opsguard/internal/ticket"
	"github.com/opsguard/opsguard/internal/version"
	"github.com/opsguard/opsguard/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "opsguard",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting opsguard", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	// --- Event bus and pipeline ----------------------------------------------
	b := bus.New(log, 64)
	defer b.Close()

	incidents := incident.NewStore(store.NewSQLStore(gormDB))
	audit := remediate.NewAuditLog(cfg.Remediate.AuditLogPath)

	var notifier notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	} else {
		log.Warn("NOTIFY_WEBHOOK_URL not set, approval requests are logged only")
		notifier = notify.NewNoop(log)
	}

	pipe, err := pipeline.New(pipeline.Options{
		Store:     incidents,
		Bus:       b,
		Analyzer:  diagnose.New(&cfg.AI),
		Notifier:  notifier,
		Tickets:   ticket.NewSimulated(cfg.Ticket.BaseURL, 500*time.Millisecond),
		Executor:  remediate.NewSimulated(log, audit, cfg.Remediate.StepDelayScale),
		Log:       log,
		PublicURL: cfg.HTTP.PublicURL,
		AITimeout: cfg.AI.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	pipe.Register()

	// --- Scheduled security scan ---------------------------------------------
	// On Postgres the scan runs as a River periodic job; on SQLite a plain
	// ticker drives the same trigger.
	trigger := scan.NewTrigger(incidents, pipe, scan.NewCVEProber(time.Second), log)

	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	var wq worker.Queue
	if cfg.Scan.Enabled {
		wq, err = worker.New(ctx, pool, cfg.DB.Driver, cfg.Worker.Concurrency, trigger, cfg.Scan.Interval, log)
		if err != nil {
			return fmt.Errorf("create worker: %w", err)
		}
		if err := wq.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := wq.Stop(stopCtx); err != nil {
				log.Error("worker stop error", "err", err)
			}
		}()
		if pool == nil {
			go trigger.Run(ctx, cfg.Scan.Interval)
		}
	}

	// --- HTTP routes ---------------------------------------------------------
	mux := http.NewServeMux()
	opsguardapi.RegisterRoutes(mux, opsguardapi.NewHandler(pipe, incidents, log), health.New(db.NewPinger(gormDB)))
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr, "public_url", cfg.HTTP.PublicURL)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	// let in-flight incident stages settle before the bus closes
	b.Drain()
	log.Info("server stopped cleanly")
	return nil
}
