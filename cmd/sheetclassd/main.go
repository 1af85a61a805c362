package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cognicore/sheetclass/internal/api"
	"github.com/cognicore/sheetclass/internal/logging"
	"github.com/cognicore/sheetclass/pkg/sheetclass"
	"github.com/cognicore/sheetclass/pkg/sheetclass/config"
	"github.com/cognicore/sheetclass/pkg/sheetclass/metrics"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (optional)")
		address    = flag.String("address", "", "Training data address (overrides config)")
		port       = flag.Int("port", 0, "HTTP port (overrides config)")
		dbPath     = flag.String("db", "", "SQLite journal path (overrides config)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}

	err = run(cfg, *address, logger)
	if err != nil {
		logger.Error("sheetclassd failed", zap.Error(err))
	}
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

type lifecycle interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
}

// start starts svc, closing it again when the start fails so an opened
// journal is released.
func start(ctx context.Context, svc lifecycle) error {
	if err := svc.Start(ctx); err != nil {
		if cerr := svc.Close(context.Background()); cerr != nil {
			return fmt.Errorf("start: %w (close: %v)", err, cerr)
		}
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

func run(cfg *config.Config, address string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	svc, err := sheetclass.New(ctx, sheetclass.Options{
		Config:  cfg,
		Address: address,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := start(ctx, svc); err != nil {
		return err
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewAPIServer(svc, m, svc.RequestTimeout(), logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			svc.Close(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("service shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}
