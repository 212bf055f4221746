package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"pixfunnel/pkg/api"
	"pixfunnel/pkg/bus"
	"pixfunnel/pkg/config"
	"pixfunnel/pkg/engine"
	"pixfunnel/pkg/funnel"
	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/money"
	"pixfunnel/pkg/payment"
	"pixfunnel/pkg/store"
	"pixfunnel/pkg/telegram"
)

// botFunnels resolves which funnel a bot currently serves: the bot row names
// a funnel id, the registry holds the live definition.
type botFunnels struct {
	db       *store.DB
	registry *funnel.Registry
}

func (r *botFunnels) FunnelForBot(botID string) (*funnel.Funnel, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := r.db.GetBot(ctx, botID)
	if err != nil || b.FunnelID == "" {
		return nil, false
	}
	return r.registry.Get(b.FunnelID)
}

func gatewayCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("Config error: %v\n", e)
		}
		os.Exit(1)
	}

	if cfg.Logging.Enabled {
		if err := logger.EnableFileLoggingWithRotation(cfg.LogFilePath(), cfg.Logging.MaxSizeMB, cfg.Logging.RetentionDays); err != nil {
			logger.WarnCF("gateway", "File logging disabled", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
	}

	logger.InfoCF("gateway", "Starting pixfunnel gateway", map[string]interface{}{
		"version": version,
	})

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.FatalCF("gateway", "Failed to open database", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := funnel.NewRegistry()
	funnels, err := db.ListFunnels(ctx)
	if err != nil {
		logger.FatalCF("gateway", "Failed to load funnels", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	registry.ReplaceAll(funnels)
	logger.InfoCF("gateway", "Funnels loaded", map[string]interface{}{
		"count": registry.Count(),
	})

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	payClient := payment.NewClient(func() (payment.Credentials, error) {
		apiBase, apiKey := cfg.PaymentCredentials()
		return payment.Credentials{APIBase: apiBase, APIKey: apiKey}, nil
	}, money.Cents(cfg.Payment.CeilingCents), time.Duration(cfg.Payment.TimeoutSec)*time.Second)

	txs := store.NewTxStore()

	eng := engine.New(&botFunnels{db: db, registry: registry}, payClient, msgBus, txs, db)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})

	sweeper := engine.NewSweeper(txs, db)
	if err := sweeper.Start(); err != nil {
		logger.WarnCF("gateway", "Transaction sweeper failed to start", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}

	botMgr := telegram.NewManager(msgBus, db, cfg.Telegram.SendRatePerSec, cfg.Telegram.SendBurst)
	bots, err := db.ListBots(ctx)
	if err != nil {
		logger.ErrorCF("gateway", "Failed to list bots", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	} else {
		botMgr.StartAll(ctx, bots)
	}

	apiServer := api.NewServer(cfg, getConfigPath(), db, registry, botMgr, payClient)
	if err := apiServer.Start(ctx); err != nil {
		logger.FatalCF("gateway", "Failed to start API server", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}

	logger.InfoCF("gateway", "Gateway running", map[string]interface{}{
		"dashboard": fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			reloadRuntime(ctx, cfg, db, registry, payClient)
			continue
		}
		logger.InfoCF("gateway", "Signal received, shutting down", map[string]interface{}{
			"signal": sig.String(),
		})
		break
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	botMgr.StopAll(stopCtx)
	if err := apiServer.Stop(); err != nil {
		logger.WarnCF("gateway", "API server shutdown error", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	sweeper.Stop()
	cancel()
	_ = g.Wait()

	logger.InfoC("gateway", "Gateway stopped")
}

// reloadRuntime re-reads the config file and funnel table without restarting
// bot sessions. Triggered by SIGHUP.
func reloadRuntime(ctx context.Context, cfg *config.Config, db *store.DB, registry *funnel.Registry, payClient *payment.Client) {
	fresh, err := loadConfig()
	if err != nil {
		logger.ErrorCF("gateway", "Config reload failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	} else {
		apiBase, apiKey := fresh.PaymentCredentials()
		cfg.SetPaymentCredentials(apiBase, apiKey)
		payClient.Refresh()
	}

	funnels, err := db.ListFunnels(ctx)
	if err != nil {
		logger.ErrorCF("gateway", "Funnel reload failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return
	}
	registry.ReplaceAll(funnels)
	logger.InfoCF("gateway", "Runtime reloaded", map[string]interface{}{
		"funnels": registry.Count(),
	})
}
