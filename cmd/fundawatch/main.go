// Command fundawatch is the rental-listing watch daemon: it scrapes each
// search profile on its configured cadence, persists the listing history,
// and mails a digest when something new appears.
//
// Usage:
//
//	fundawatch                          # config from env / fundawatch.yaml
//	fundawatch -config /etc/fw.yaml     # explicit config file
//	fundawatch -once <profile-id>       # run one cycle and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/fundawatch/internal/api"
	"github.com/hazyhaar/fundawatch/internal/config"
	"github.com/hazyhaar/fundawatch/internal/cycle"
	"github.com/hazyhaar/fundawatch/internal/fetch"
	"github.com/hazyhaar/fundawatch/internal/notify"
	"github.com/hazyhaar/fundawatch/internal/sched"
	"github.com/hazyhaar/fundawatch/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to fundawatch.yaml")
	onceID := flag.String("once", "", "run one cycle for a profile ID and exit")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fundawatch:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *onceID); err != nil {
		logger.Error("fundawatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, onceID string) error {
	constrained := config.Constrained()
	logger.Info("fundawatch: starting",
		"db", cfg.Database.Path, "constrained", constrained)

	st := store.New(cfg.Database.Path, logger)
	if _, err := st.SanitizeIntervals(cfg.Scheduler.Floor); err != nil {
		return fmt.Errorf("sanitize intervals: %w", err)
	}

	agent := fetch.NewBrowserAgent(fetch.BrowserConfig{
		RemoteURL:   cfg.Scraper.RemoteChrome,
		PageTimeout: cfg.Scraper.PageTimeout,
		Logger:      logger,
	})
	fetcher := fetch.New(agent, fetch.Config{
		MaxRetries: cfg.Scraper.MaxRetries,
		Jitter:     true,
		Logger:     logger,
	})
	defer fetcher.Close()

	notifier := notify.New(notify.Config{
		Sender: notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
			StartTLS: cfg.SMTP.StartTLS,
		}),
		Logger: logger,
	})

	orch := cycle.New(cycle.Config{
		Store:       st,
		Fetcher:     fetcher,
		Notifier:    notifier,
		BaseURL:     cfg.Scraper.BaseURL,
		MaxRetained: cfg.Scraper.MaxRetained,
		Logger:      logger,
	})

	if onceID != "" {
		orch.Run(ctx, onceID)
		return nil
	}

	scheduler := sched.New(orch.Run, st, sched.Config{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		Floor:         cfg.Scheduler.Floor,
		Heartbeat:     cfg.Scheduler.Heartbeat,
		Logger:        logger,
	})
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	triggerWindow := 60 * time.Second
	if constrained {
		triggerWindow = 300 * time.Second
	}
	server := &http.Server{
		Addr: cfg.ListenAddr(),
		Handler: api.New(api.Config{
			Scheduler:     scheduler,
			TriggerWindow: triggerWindow,
			Logger:        logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fundawatch: http listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("fundawatch: shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutCtx); err != nil {
		logger.Warn("fundawatch: http shutdown", "error", err)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
