// Command sweeper expires pending payments whose deadline has passed. It runs
// once and exits, for use from cron when the server's own ticker is disabled.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"salecore/internal/config"
	"salecore/internal/gateway"
	"salecore/internal/logger"
	"salecore/internal/service"
	"salecore/internal/store"
	pgstore "salecore/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}
	log := logger.New(os.Stdout, cfg.Environment, cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("sweep failed")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pg, err := pgstore.New(ctx, cfg.DatabaseURL, store.Options{Location: cfg.Location})
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer func() {
		if err := pg.Close(); err != nil {
			log.WithError(err).Warn("close postgres")
		}
	}()

	// Expiry never talks to a provider, so the local gateway is enough.
	gw := gateway.New(gateway.Config{Provider: gateway.ProviderFallback}, logger.Component(log, "gateway"))
	svc := service.New(pg, gw, nil, service.Options{}, logger.Component(log, "service"))

	resp, err := svc.CheckExpiredPayments(ctx)
	if err != nil {
		return fmt.Errorf("expire payments: %w", err)
	}
	log.WithFields(logrus.Fields{"expired": resp.Expired, "at": resp.At}).Info("sweep finished")
	return nil
}
