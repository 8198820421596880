package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/tinyland-inc/nanoclaw/cmd/nanoclaw/internal"
	"github.com/tinyland-inc/nanoclaw/pkg/dispatch"
	"github.com/tinyland-inc/nanoclaw/pkg/engine"
	"github.com/tinyland-inc/nanoclaw/pkg/logger"
	anthropicprovider "github.com/tinyland-inc/nanoclaw/pkg/providers/anthropic"
	openaiprovider "github.com/tinyland-inc/nanoclaw/pkg/providers/openai"
	"github.com/tinyland-inc/nanoclaw/pkg/session"
	"github.com/tinyland-inc/nanoclaw/pkg/webhook"
	"github.com/tinyland-inc/nanoclaw/pkg/whatsapp"
)

func gatewayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.ValidateGateway(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	wa := whatsapp.NewClient(whatsapp.Config{
		Token:         cfg.WhatsApp.Token,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		APIBase:       cfg.WhatsApp.APIBase,
		MediaTimeout:  time.Duration(cfg.WhatsApp.MediaTimeoutSeconds) * time.Second,
	})

	classifier := anthropicprovider.NewClassifier(
		cfg.Providers.Anthropic.APIKey,
		cfg.Providers.Anthropic.APIBase,
		cfg.Providers.Anthropic.Model,
	)
	images := openaiprovider.NewBackend(
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.APIBase,
		cfg.Providers.OpenAI.Model,
	)
	graph := engine.NewGraph(classifier, images)

	store := session.NewStore()
	d := dispatch.New(store, wa, wa, graph)

	maxIdle := time.Duration(cfg.Session.MaxIdleMinutes) * time.Minute
	sweeper, err := session.NewSweeper(store, cfg.Session.SweepSchedule, maxIdle, d.Busy)
	if err != nil {
		return fmt.Errorf("error creating session sweeper: %w", err)
	}

	server := webhook.NewServer(webhook.Config{
		Host:        cfg.Gateway.Host,
		Port:        cfg.Gateway.Port,
		Path:        cfg.Gateway.WebhookPath,
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
		AllowFrom:   cfg.WhatsApp.AllowFrom,
	}, d, wa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper.Start(ctx)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "Webhook server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Webhook listening at http://%s:%d%s\n", cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.WebhookPath)

	logger.InfoCF("gateway", "Gateway started", map[string]any{
		"model_classifier": cfg.Providers.Anthropic.Model,
		"model_images":     cfg.Providers.OpenAI.Model,
		"allow_from":       len(cfg.WhatsApp.AllowFrom),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Stop(shutdownCtx)
	sweeper.Stop()
	cancel()
	fmt.Println("✓ Gateway stopped")

	return nil
}
