package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/odoo-poller/internal/adapter/httpserver"
	"github.com/fairyhunter13/odoo-poller/internal/adapter/observability"
	"github.com/fairyhunter13/odoo-poller/internal/adapter/webhook"
	"github.com/fairyhunter13/odoo-poller/internal/domain"
	circuit "github.com/fairyhunter13/odoo-poller/internal/observability"
	"github.com/fairyhunter13/odoo-poller/internal/usecase"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the polling engine until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runEngine()
		},
	}
}

func runEngine() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	observability.InitMetrics()
	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		return err
	}

	sched := &usecase.Scheduler{
		Conns:   a.store.Connections,
		Logs:    a.store.SyncLogs,
		Retries: a.store.RetryQueue,
		Sent:    a.store.SentOrders,
		Sender:  webhook.NewSender(cfg.WebhookTimeout),
		Mapper:  a.admin.Mapper,
		NewErp:  newErpClient,
		NewBreaker: func() domain.CircuitBreaker {
			return circuit.NewCircuitBreaker(
				circuit.DefaultFailureThreshold,
				circuit.DefaultRecoveryTimeout,
				circuit.DefaultSuccessThreshold,
			)
		},
		Logger:          logger,
		ErpTimeout:      cfg.ErpTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	sched.OnSyncComplete = func(_ int64, entry *domain.SyncLog) {
		observability.ActiveConnections.Set(float64(sched.ActiveCount()))
		if entry == nil {
			observability.SyncCyclesTotal.WithLabelValues("skipped").Inc()
			return
		}
		status := "success"
		if entry.ErrorMessage != "" {
			status = "error"
		}
		observability.SyncCyclesTotal.WithLabelValues(status).Inc()
		if start, end := parseTimestamp(entry.StartedAt), parseTimestamp(entry.FinishedAt); !start.IsZero() && !end.IsZero() {
			observability.SyncCycleDuration.Observe(end.Sub(start).Seconds())
		}
		observability.OrdersSentTotal.Add(float64(entry.OrdersSent))
		observability.OrdersFailedTotal.Add(float64(entry.OrdersFailed))
	}
	sched.OnCircuitStateChange = func(connectionID int64, state domain.CircuitState) {
		label := "unknown"
		if conn, err := a.store.Connections.Get(context.Background(), connectionID); err == nil {
			label = conn.Name
		}
		observability.SetCircuitState(label, state)
		logger.Info("circuit breaker state changed",
			slog.Int64("connection_id", connectionID),
			slog.String("state", string(state)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	observability.ActiveConnections.Set(float64(sched.ActiveCount()))

	var opsServer *http.Server
	if cfg.OpsEnabled() {
		ops := &httpserver.Server{
			Cfg:     cfg,
			Conns:   a.store.Connections,
			Logs:    a.store.SyncLogs,
			Retries: a.store.RetryQueue,
			Ready:   a.store.Ping,
			Sched:   sched,
		}
		opsServer = &http.Server{
			Addr:              cfg.OpsAddr,
			Handler:           ops.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("ops server listening", slog.String("addr", cfg.OpsAddr))
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server failed", slog.Any("error", err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	stop()

	sched.Stop()
	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown", slog.Any("error", err))
		}
	}
	if shutdownTracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}
	logger.Info("shutdown complete")
	return nil
}
