package cmd

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

	"github.com/MeKo-Tech/ticketocr/internal/config"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/MeKo-Tech/ticketocr/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for ticket extraction",
	Long: `Start an HTTP server that extracts ticket fields over a REST API and
streams batch progress over WebSocket.

The server provides the following endpoints:
  POST   /tickets         - Process one uploaded scan (form field "image")
  POST   /tickets/text    - Extract fields from recognized text
  POST   /batches         - Submit scans or PDFs as a batch (form field "images")
  GET    /batches/{id}    - Batch status snapshot
  DELETE /batches/{id}    - Cancel a batch
  GET    /ws/batches/{id} - WebSocket progress stream
  GET    /queue           - Queue and worker status
  GET    /health          - Health check
  GET    /metrics         - Prometheus metrics

Examples:
  ticketocr serve
  ticketocr serve --port 8080 --workers 8
  ticketocr serve --host 0.0.0.0 --rate-limit-enabled`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := GetConfig()
		applyServerFlags(cmd, cfg)
		if cmd.Flags().Changed("workers") {
			cfg.Scheduler.Workers, _ = cmd.Flags().GetInt("workers")
		}
		if err := applyRecognitionFlags(cmd, cfg); err != nil {
			return err
		}

		proc, err := imageProcessor(cmd, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = proc.Close() }()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		opts := append(cfg.SchedulerOptions(),
			scheduler.WithObserver(server.SchedulerObserver{}),
			scheduler.WithLogger(slog.Default()))
		sched := scheduler.New(proc, opts...)
		if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		ocrServer, err := server.NewServer(serverConfig(cfg), proc, sched)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = ocrServer.Close() }()

		mux := http.NewServeMux()
		ocrServer.SetupRoutes(mux)

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			// Batch streams outlive a single request timeout; handlers
			// bound their own work.
			WriteTimeout: 0,
			IdleTimeout:  2 * timeout,
		}

		go func() {
			slog.Info("Starting ticket server", "addr", addr, "workers", sched.Workers())
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// HTTP first so no new batches arrive while the queue drains.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := sched.Shutdown(shutdownCtx); err != nil {
			slog.Error("Scheduler shutdown error", "error", err)
		} else {
			slog.Info("Scheduler drained")
		}

		if err := ocrServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// applyServerFlags copies changed server flags into cfg.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("pdf-password") {
		cfg.PDF.Password, _ = f.GetString("pdf-password")
	}

	rl := &cfg.Server.RateLimit
	if f.Changed("rate-limit-enabled") {
		rl.Enabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("requests-per-minute") {
		rl.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("requests-per-hour") {
		rl.RequestsPerHour, _ = f.GetInt("requests-per-hour")
	}
	if f.Changed("max-requests-per-day") {
		rl.MaxRequestsPerDay, _ = f.GetInt("max-requests-per-day")
	}
	if f.Changed("max-data-per-day") {
		rl.MaxDataPerDayMB, _ = f.GetInt64("max-data-per-day")
	}
}

// serverConfig converts the server section to server.Config.
func serverConfig(cfg *config.Config) server.Config {
	rl := cfg.Server.RateLimit
	return server.Config{
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		PDFPassword: cfg.PDF.Password,
		Logger:      slog.Default(),
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     rl.MaxDataPerDayMB * 1024 * 1024,
		},
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request read timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().IntP("workers", "w", scheduler.DefaultWorkers, "number of batch workers")
	serveCmd.Flags().String("pdf-password", "", "password for encrypted PDF uploads")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", 1024, "maximum upload volume per day per client (MB)")
	addRecognitionFlags(serveCmd)
}
