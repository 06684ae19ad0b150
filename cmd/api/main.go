package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/solvejet/pixe-whatspp-sub001/internal/api/http"
	"github.com/solvejet/pixe-whatspp-sub001/internal/api/http/handlers"
	"github.com/solvejet/pixe-whatspp-sub001/internal/auth"
	"github.com/solvejet/pixe-whatspp-sub001/internal/bootstrap"
	"github.com/solvejet/pixe-whatspp-sub001/internal/config"
	"github.com/solvejet/pixe-whatspp-sub001/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes).WithIssuer(cfg.Auth.Issuer)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		BodyLimit:             cfg.App.BodyLimitBytes,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, c.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, c.Postgres, c.Redis),
		Webhook:        handlers.NewWebhookHandler(c.Webhooks),
		Media:          handlers.NewMediaHandler(c.Media),
		Messages:       handlers.NewMessagesHandler(c.Messaging),
		Conversations:  handlers.NewConversationsHandler(c.Conversations),
		Templates:      handlers.NewTemplatesHandler(c.Templates),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Gatherer:       c.Registry,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	// the in-memory broker is only visible to this process
	if !c.Redis.Enabled() {
		g.Go(func() error { return c.RunBackground(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c.Close(drainCtx)
}
