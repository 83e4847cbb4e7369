// Command license-server serves the subscription license HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CloudNativeWorks/cnw-subscription-license/internal/config"
	"github.com/CloudNativeWorks/cnw-subscription-license/internal/logging"
	"github.com/CloudNativeWorks/cnw-subscription-license/license"
	"github.com/CloudNativeWorks/cnw-subscription-license/license/httpapi"
	"github.com/CloudNativeWorks/cnw-subscription-license/license/provider"
)

func main() {
	configPath := flag.String("config", os.Getenv("LICENSE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintln(os.Stderr, "license-server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	stripe := provider.NewStripe(cfg.StripeSecretKey)
	billing := provider.NewBreaker(stripe, provider.BreakerConfig{
		MaxRequests:         cfg.BreakerMaxRequests,
		Interval:            cfg.BreakerInterval,
		Timeout:             cfg.BreakerTimeout,
		ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
	}, logger)

	var validatorOpts []license.ValidatorOption
	if cfg.ReceiptSigningKey != "" {
		signer, err := license.NewReceiptSigner(cfg.ReceiptSigningKey)
		if err != nil {
			return err
		}
		validatorOpts = append(validatorOpts, license.WithReceiptSigner(signer))
		logger.Info("signing validation receipts", zap.String("public_key", signer.PublicKey()))
	}

	handler := httpapi.NewHandler(
		license.NewValidator(store, validatorOpts...),
		license.NewOrchestrator(store, billing, license.CheckoutConfig{
			PriceID:         cfg.StripePriceID,
			SuccessURL:      cfg.StripeSuccessURL,
			CancelURL:       cfg.StripeCancelURL,
			PortalReturnURL: cfg.StripePortalReturnURL,
		}),
		license.NewProcessor(store, billing,
			license.WithProcessorLogger(logger),
			license.WithScanFallback(cfg.WebhookScanFallback),
		),
		license.NewSignatureVerifier(cfg.StripeWebhookSecret, cfg.WebhookTolerance),
		stripe,
		httpapi.WithLogger(logger),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("license server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
