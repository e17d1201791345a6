package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"convenio-service/internal/client"
	"convenio-service/internal/config"
	"convenio-service/internal/handlers"
	"convenio-service/internal/helpers/logs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logs.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})
	backend := client.New(cfg.Gateway.BackendAddr, cfg.Gateway.BackendTimeout)
	h := &handlers.Handlers{
		Backend:     backend,
		BackendAddr: backend.Addr(),
		Logger:      logger,
	}
	h.Register(app)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.Gateway.Addr), zap.String("backend", backend.Addr()))
		if err := app.Listen(cfg.Gateway.Addr); err != nil {
			logger.Error("gateway stopped", zap.Error(err))
			select {
			case c <- os.Interrupt:
			default:
			}
		}
	}()

	<-c

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("gateway shutdown", zap.Error(err))
	}
}
