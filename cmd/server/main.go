package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Skotchmaster/storefront/internal/config"
	"github.com/Skotchmaster/storefront/internal/db"
	"github.com/Skotchmaster/storefront/internal/es"
	"github.com/Skotchmaster/storefront/internal/handlers"
	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/middleware/auth"
	"github.com/Skotchmaster/storefront/internal/middleware/csrf"
	loggingmw "github.com/Skotchmaster/storefront/internal/middleware/logging"
	"github.com/Skotchmaster/storefront/internal/mykafka"
	"github.com/Skotchmaster/storefront/internal/payments"
	"github.com/Skotchmaster/storefront/internal/repo"
	"github.com/Skotchmaster/storefront/internal/service"
	httpserver "github.com/Skotchmaster/storefront/internal/transport/http"
)

func main() {
	cfg := config.Load()
	cfg.MustRequired()
	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	store := repo.New(gdb)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	gateways, card, err := buildGateways(cfg)
	if err != nil {
		return err
	}
	registry, err := payments.NewRegistry(gateways...)
	if err != nil {
		return err
	}
	logger.Info("gateways_ready", "methods", registry.Methods())

	rec := service.NewReconciler(store, cfg.PersistRetries)
	rec.Topics = service.Topics{Orders: cfg.OrderTopic, Alerts: cfg.AlertTopic}

	if len(cfg.KafkaBrokers) > 0 {
		prod, err := mykafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer func() {
			if err := prod.Close(); err != nil {
				logger.Warn("kafka_close_failed", "error", err)
			}
		}()
		rec.Events = prod
	}

	orders := &service.OrderService{Repo: store}
	if cfg.ESURL != "" {
		client, err := es.NewClient(ctx, cfg)
		if err != nil {
			return err
		}
		idx := es.NewOrderIndex(client, cfg.OrderIndex)
		if err := idx.EnsureIndex(ctx); err != nil {
			return err
		}
		rec.Index = idx
		orders.Search = idx
	}

	checkout := &service.CheckoutService{
		Repo:           store,
		Gateways:       registry,
		Reconciler:     rec,
		Currency:       cfg.Currency,
		TaxRate:        cfg.TaxRate,
		GatewayTimeout: cfg.GatewayTimeout,
	}
	if card != nil {
		checkout.StripeIntents = card
	}
	recovery := &service.Recovery{
		Checkout: checkout,
		Interval: cfg.RecoveryInterval,
		MinAge:   cfg.RecoveryMinAge,
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), loggingmw.RequestLogger(logger))

	csrfCfg := csrf.DefaultConfig()
	csrfCfg.Secure = cfg.CSRFSecure

	httpserver.Register(e, &httpserver.Deps{
		Auth:     auth.New(cfg.JWTAccessSecret),
		CSRF:     csrfCfg,
		Health:   &handlers.HealthHandler{DB: store},
		Checkout: &handlers.CheckoutHandler{Svc: checkout},
		Webhook:  &handlers.WebhookHandler{Svc: checkout, Secret: cfg.Stripe.WebhookSecret},
		Orders:   &handlers.OrderHandler{Svc: orders},
		Admin:    &handlers.AdminHandler{Orders: orders, Checkout: checkout},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		logger.Info("server_starting", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("echo start: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return recovery.Run(logging.IntoContext(gctx, logger))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server_stopped")
	return err
}

// buildGateways registers a gateway for every provider with credentials.
// The card gateway is returned separately since webhooks read intents
// through it.
func buildGateways(cfg config.Config) ([]payments.Gateway, *payments.StripeCardGateway, error) {
	var (
		out  []payments.Gateway
		card *payments.StripeCardGateway
	)

	if cfg.Stripe.Enabled() {
		intents, err := payments.NewStripeIntents(cfg.Stripe.SecretKey, nil)
		if err != nil {
			return nil, nil, err
		}
		if card, err = payments.NewStripeCardGateway(intents); err != nil {
			return nil, nil, err
		}
		wallet, err := payments.NewStripeWalletGateway(intents)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, card, wallet)
	}

	if cfg.PayPal.Enabled() {
		pp, err := payments.NewPayPalGateway(payments.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			BaseURL:      cfg.PayPal.APIBase,
			Timeout:      cfg.GatewayTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		out = append(out, pp)
	}

	if cfg.Braintree.Enabled() {
		bt, err := payments.NewBraintreeGateway(payments.BraintreeConfig{
			Endpoint:   cfg.Braintree.Endpoint(),
			MerchantID: cfg.Braintree.MerchantID,
			PublicKey:  cfg.Braintree.PublicKey,
			PrivateKey: cfg.Braintree.PrivateKey,
			Timeout:    cfg.GatewayTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		out = append(out, bt)
	}

	return out, card, nil
}
