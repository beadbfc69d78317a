// Command checkoutd serves the x402 checkout API.
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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	x402 "github.com/vitwit/x402-checkout"
	"github.com/vitwit/x402-checkout/checkout"
	"github.com/vitwit/x402-checkout/commit"
	"github.com/vitwit/x402-checkout/config"
	"github.com/vitwit/x402-checkout/fulfillment"
	"github.com/vitwit/x402-checkout/imagegen"
	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/metrics"
	"github.com/vitwit/x402-checkout/retry"
	"github.com/vitwit/x402-checkout/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "checkoutd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zl, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zl.Sync() //nolint:errcheck
	var log logger.Logger = zl

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	payments, err := x402.New(cfg.X402Config(), x402.WithLogger(log), x402.WithMetrics(rec))
	if err != nil {
		return fmt.Errorf("init payments: %w", err)
	}
	defer payments.Close()

	coordinator := commit.NewCoordinator(payments, payments,
		commit.WithLogger(log),
		commit.WithMetrics(rec),
		commit.WithSettleTimeout(cfg.FacilitatorTimeout),
	)
	vendor := fulfillment.NewClient(cfg.Fulfillment(), log, retry.WithMetrics(rec))

	var images imagegen.Generator
	if igc, ok := cfg.ImageGen(); ok {
		images = imagegen.NewOpenAIGenerator(igc, log, retry.WithMetrics(rec))
	} else {
		log.Warn("OPENAI_API_KEY not set, prompts are disabled", nil)
	}

	opts := []checkout.Option{checkout.WithLogger(log), checkout.WithMetrics(rec)}
	if cfg.LocalSettlement() {
		opts = append(opts, checkout.WithSplitter(payments))
	} else {
		log.Warn("no local settlement key, creator payouts are disabled", nil)
	}
	svc, err := checkout.NewService(coordinator, vendor, images, cfg.Checkout(), opts...)
	if err != nil {
		return err
	}

	srvOpts := []server.Option{server.WithLogger(log), server.WithPublicURL(cfg.PublicURL)}
	if cfg.MetricsEnabled {
		srvOpts = append(srvOpts, server.WithGatherer(reg))
	}
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(svc, payments, srvOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("checkout server listening", map[string]any{
			"addr":     cfg.Addr,
			"networks": cfg.Networks,
			"version":  x402.Version,
		})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
