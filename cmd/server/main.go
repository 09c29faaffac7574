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

	"github.com/sirupsen/logrus"

	"salecore/internal/cache"
	"salecore/internal/config"
	"salecore/internal/gateway"
	"salecore/internal/httpapi"
	"salecore/internal/logger"
	"salecore/internal/service"
	"salecore/internal/settings"
	"salecore/internal/store"
	"salecore/internal/store/memory"
	pgstore "salecore/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}
	log := logger.New(os.Stdout, cfg.Environment, cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open repository")
	}

	var statusCache cache.StatusCache = cache.NoopStatusCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStatusCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, payment status cache disabled")
		} else {
			statusCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	reader := settings.New(repo, logger.Component(log, "settings"))
	gw := gateway.New(gatewayConfig(ctx, cfg, reader), logger.Component(log, "gateway"))
	log.WithField("provider", gw.Name()).Info("payment gateway ready")

	svc := service.New(repo, gw, statusCache, service.Options{StatusCacheTTL: cfg.Payment.StatusCacheTTL}, logger.Component(log, "service"))
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.ManagerPIN, cfg.ManagerPINHash)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger.Component(log, "http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Address()).Info("salecore listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	if cfg.SweepInterval > 0 {
		go runSweeper(sweepCtx, svc, cfg.SweepInterval, logger.Component(log, "sweeper"))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	stopSweep()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Error("close error")
		}
	}

	log.Info("server stopped")
}

func openRepository(ctx context.Context, cfg config.Config, log *logrus.Logger) (store.Repository, []func() error, error) {
	opts := store.Options{AllowNegativeStock: cfg.AllowNegativeStock, Location: cfg.Location}
	if cfg.DatabaseURL == "" {
		log.Info("repository: in-memory")
		return memory.NewSeeded(opts), nil, nil
	}
	if cfg.AutoMigrate {
		if err := pgstore.Migrate(cfg.DatabaseURL, logger.Component(log, "migrate")); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start in memory: %w", err)
	}
	log.Info("repository: postgres")
	return pg, []func() error{pg.Close}, nil
}

// gatewayConfig merges the provider credentials from the environment with
// the payment settings kept in the settings table.
func gatewayConfig(ctx context.Context, cfg config.Config, reader *settings.Reader) gateway.Config {
	payment := reader.Payment(ctx)
	return gateway.Config{
		Provider:          cfg.Payment.Provider,
		ServerKey:         cfg.Payment.ServerKey,
		ClientKey:         cfg.Payment.ClientKey,
		IsProduction:      cfg.Payment.IsProduction,
		BaseURL:           cfg.Payment.BaseURL,
		CallbackToken:     cfg.Payment.CallbackToken,
		MerchantName:      cfg.Payment.MerchantName,
		MerchantCity:      cfg.Payment.MerchantCity,
		MerchantID:        cfg.Payment.MerchantID,
		BankAccounts:      payment.BankAccounts,
		UseVirtualAccount: payment.UseVirtualAccount,
		QRISStatic:        payment.QRISStatic,
		QRISStaticPayload: payment.QRISStaticPayload,
		Timeout:           cfg.Payment.Timeout,
	}
}

func runSweeper(ctx context.Context, svc *service.Service, every time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := svc.CheckExpiredPayments(ctx)
			if err != nil {
				log.WithError(err).Warn("expiry sweep failed")
				continue
			}
			if resp.Expired > 0 {
				log.WithField("expired", resp.Expired).Info("expired pending payments")
			}
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.ManagerPINHash != "" {
		if !httpapi.IsPasswordHash(cfg.ManagerPINHash) {
			return fmt.Errorf("MANAGER_PIN_HASH must be a bcrypt hash")
		}
		return nil
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN or MANAGER_PIN_HASH must be set; a PIN needs at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be numeric")
		}
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
