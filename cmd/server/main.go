package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/lesion-api/internal/app"
	"github.com/Brownie44l1/lesion-api/internal/config"
	"github.com/Brownie44l1/lesion-api/internal/logger"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to start")
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.WithError(err).Error("Failed to release model")
		}
	}()

	log.Infof("Upload test: curl -X POST -F \"image=@lesion.jpg\" http://localhost:%d/predict/image", cfg.Port)

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("Server failed")
		return err
	}
	return nil
}
