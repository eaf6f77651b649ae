// Package main runs an in-memory mock of the recognition service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/lprdesk/internal/config"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/mockservice"
)

const (
	defaultAddr     = ":8000"
	envAddr         = "LPRMOCK_ADDR"
	shutdownTimeout = 5 * time.Second
)

var (
	listenAddr string
	logLevel   string
	debugMode  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "lprmock",
		Short:        "Serve a mock plate recognition service",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runServe,
	}
	cmd.Flags().StringVar(&listenAddr, "addr", defaultAddr, "listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "run gin in debug mode")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	if !cmd.Flags().Changed("addr") {
		if v, ok := config.EnvString(envAddr); ok {
			listenAddr = v
		}
	}
	logger, err := logging.Setup(os.Stderr, logLevel)
	if err != nil {
		return err
	}
	if !debugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mockservice.NewRouter(mockservice.NewState(nil), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock service listening", slog.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
