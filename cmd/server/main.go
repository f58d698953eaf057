package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/silverpines/supportchat"
	"github.com/silverpines/supportchat/internal/config"
	"github.com/silverpines/supportchat/internal/constants"
)

// initializeLogger builds a production zap logger at the configured level
func initializeLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// NewHTTPServer creates an HTTP server with production-safe timeout defaults.
func NewHTTPServer(addr string, handler http.Handler, cfg *config.Config) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}
	// No else needed: optional operation (configuration overrides)
	if cfg.Server.ReadTimeout > 0 {
		srv.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		srv.WriteTimeout = cfg.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout > 0 {
		srv.IdleTimeout = cfg.Server.IdleTimeout
	}
	return srv
}

// runWithSignalChannel is a testable version of run that accepts a signal channel
func runWithSignalChannel(sigChan chan os.Signal, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	// No else needed: early return pattern (guard clause)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initializeLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	// No else needed: early return pattern (guard clause)
	if err := supportchat.Register(engine, cfg, logger); err != nil {
		return fmt.Errorf("failed to register support chat service: %w", err)
	}

	srv := NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), engine, cfg)

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("server starting", "port", cfg.Server.Port)
		// No else needed: optional operation (normal shutdown returns ErrServerClosed)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Infow("shutting down gracefully", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownGracePeriod)
	defer cancel()

	// Close WebSocket connections and stop background goroutines first,
	// then drain in-flight HTTP requests.
	if err := supportchat.Shutdown(ctx); err != nil {
		logger.Warnw("service shutdown error", "error", err)
	}
	// No else needed: early return pattern (guard clause)
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Infow("server stopped")
	return nil
}

// runMain is the testable main function
func runMain() error {
	configPath := flag.String("config", "", "path to config file (optional, env vars take precedence)")
	flag.Parse()

	sigChan := setupSignalHandler()
	return runWithSignalChannel(sigChan, *configPath)
}

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
