package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/app"
	"github.com/agentica-ai/knowledgebase/internal/config"
	"github.com/agentica-ai/knowledgebase/internal/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.RequireServer(); err != nil {
		logrus.Fatalf("config: %v", err)
	}

	// SIGINT/SIGTERM start a graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		logrus.Fatalf("startup failed: %v", err)
	}
	defer application.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- application.Server.Start() }()
	logrus.Info("knowledge base service is running")

	select {
	case err := <-errCh:
		if err != nil {
			logrus.Errorf("server error: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := application.Server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("shutdown: %v", err)
		}
	}
	logrus.Info("stopped")
}
