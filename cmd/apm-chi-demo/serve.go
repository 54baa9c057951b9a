package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for side effects
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apmchi "github.com/fllarpy/apm-chi"
	"github.com/fllarpy/apm-chi/pkg/config"
	"github.com/fllarpy/apm-chi/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	config string
	addr   string
}

func newServeCmd() *cobra.Command {
	var opts serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the demo HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.config, "config", "c", ".", "Directory containing config.yaml")
	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "Listen address")
	return cmd
}

func serve(ctx context.Context, opts serveFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	agent, err := apmchi.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize apm agent: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := agent.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down apm agent", zap.Error(err))
		}
	}()

	db, err := agent.OpenDB("sqlite3", "file:apm-chi-demo?mode=memory&cache=shared")
	if err != nil {
		return err
	}
	defer db.Close()
	if err := seed(ctx, db); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           newRouter(agent, db),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting demo server",
			zap.String("addr", opts.addr),
			zap.String("debug_endpoint", agent.Config().DebugEndpoint),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down demo server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func seed(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY, name TEXT);
INSERT OR IGNORE INTO users (id, name) VALUES (1, 'Alice'), (2, 'Bob'), (3, 'Carol');`)
	if err != nil {
		return fmt.Errorf("seed database: %w", err)
	}
	return nil
}
