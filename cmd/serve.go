package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Tiliavir/work-hours-tracker/internal/config"
	"github.com/Tiliavir/work-hours-tracker/internal/docserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document server used for cloud sync",
	Long: `serve runs the HTTP document server. It is configured from the
environment (or a .env file): PORT, DATABASE_DRIVER (memory, sqlite3, mysql),
DATABASE_DSN, JWT_SECRET, JWT_EXPIRY_HOURS, LOG_FILE and ENV.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		defer rotator.Close()
		out = rotator
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openDocumentStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	server := docserver.NewServer(store, docserver.Options{
		JWTSecret: cfg.JWTSecret,
		JWTExpiry: cfg.JWTExpiry,
		Logger:    log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "driver", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openDocumentStore(ctx context.Context, cfg config.ServerConfig) (docserver.Store, error) {
	if cfg.DatabaseDriver == "memory" {
		return docserver.NewMemoryStore(), nil
	}
	return docserver.OpenSQLStore(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
}
