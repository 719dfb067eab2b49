package main

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PierreRoudaut/checkout-api/cache"
	"github.com/PierreRoudaut/checkout-api/config"
	"github.com/PierreRoudaut/checkout-api/handler"
	"github.com/PierreRoudaut/checkout-api/hub"
	"github.com/PierreRoudaut/checkout-api/service"
	"github.com/PierreRoudaut/checkout-api/store"
)

//go:embed migrations.sql
var migrationSQL string

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	var zcfg zap.Config
	if cfg.LogFormat == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// --- Store ---
	st, err := store.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer st.Close()
	if _, err := st.DB.Exec(migrationSQL); err != nil {
		logger.Fatal("failed running migrations", zap.Error(err))
	}
	logger.Info("database migrations executed")

	// --- Caches ---
	productCache := cache.NewProductCache(logger)
	cartCache := cache.NewCartCache(cfg.CartTTL, logger)

	// --- Notification hub ---
	notifyHub := hub.NewHub(logger, cfg.WSAllowedOrigin)
	go notifyHub.Run()

	// --- Services ---
	cartSvc := service.NewCartService(cartCache, productCache, notifyHub, logger)
	productSvc := service.NewProductService(st, productCache, notifyHub, logger)

	// Seed the reservation cache so lookups work before the first list call.
	if _, err := productSvc.List(); err != nil {
		logger.Fatal("failed to warm product cache", zap.Error(err))
	}

	// --- Handlers / Router ---
	h := handler.NewHandler(cartSvc, productSvc, notifyHub)
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info("server running", zap.String("addr", cfg.HTTPAddr), zap.Duration("cart_ttl", cfg.CartTTL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	// Carts are process-local by design: drain the timers and drop them.
	cartCache.Stop()
	logger.Info("shut down cleanly")
}
