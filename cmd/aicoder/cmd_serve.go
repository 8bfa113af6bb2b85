package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/aicoder/internal/config"
	"github.com/user/aicoder/internal/httpapi"
	"github.com/user/aicoder/internal/notify"
	"github.com/user/aicoder/internal/scheduler"
	"github.com/user/aicoder/internal/telegram"
)

const pidFile = "aicoder.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aicoder HTTP daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFile)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	a.gateway.Start(ctx)
	defer a.gateway.Stop()
	go a.relay(ctx)

	// Notifications
	registry := notify.NewRegistry()
	var targets []string
	if cfg.Telegram.Token != "" {
		api, err := telegram.NewBot(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		registry.Register(notify.TelegramPrefix, notify.TelegramHandler(api))
		var allowed []int64
		if cfg.Telegram.ChatID != 0 {
			targets = append(targets, notify.TelegramTarget(cfg.Telegram.ChatID))
			allowed = append(allowed, cfg.Telegram.ChatID)
		}
		watcher := notify.NewWatcher(a.hub, registry, targets...)
		go watcher.Run(ctx)
		adapter := telegram.New(api, a.gateway, a.hub, watcher, allowed...)
		go adapter.Start(ctx)
		slog.Info("telegram adapter started", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	jobs := []scheduler.Job{
		scheduler.EvictJob(a.hub, cfg.Retention()),
		scheduler.PruneJob("prune-run-logs", filepath.Join(cfg.DataDir, "runs"), cfg.Retention()),
	}
	if h := cfg.Agent.WorkspaceRetentionHours; h > 0 && cfg.Agent.WorkspaceDir != "" {
		jobs = append(jobs, scheduler.PruneJob("prune-workspaces", cfg.Agent.WorkspaceDir, time.Duration(h)*time.Hour))
	}
	sched := scheduler.New(jobs...)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := httpapi.NewServer(a.gateway, a.hub, serverOptions(a, cfg)...)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("aicoder started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"agent_provider", cfg.Agent.Provider,
		"mode", cfg.Agent.Mode,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("http server stopped")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				reexec(cfg.DataDir, pidPath)
				continue
			}
			slog.Info("shutting down", "signal", sig)
			return nil
		}
	}
}

func serverOptions(a *app, cfg *config.Config) []httpapi.Option {
	opts := []httpapi.Option{
		httpapi.WithRunStore(a.runs),
		httpapi.WithHistory(a.statusLog),
		httpapi.WithArtifacts(a.artifacts),
		httpapi.WithRateLimit(cfg.HTTP.RatePerSecond, cfg.HTTP.RateBurst),
		httpapi.WithStreamIdle(time.Duration(cfg.HTTP.StreamIdleSeconds) * time.Second),
	}
	if a.mirror != nil {
		opts = append(opts, httpapi.WithStatusFallback(a.mirror))
	}
	if a.completion != nil {
		opts = append(opts, httpapi.WithCompletion(a.completion))
	}
	if cfg.Agent.WorkspaceDir != "" {
		opts = append(opts, httpapi.WithReviewRoot(cfg.Agent.WorkspaceDir))
	}
	return opts
}

// reexec replaces the process with a fresh copy of itself. It only returns
// when the exec fails.
func reexec(dataDir, pidPath string) {
	execPath, err := os.Executable()
	if err != nil {
		slog.Error("failed to get executable path", "error", err)
		return
	}
	os.Remove(pidPath)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		slog.Error("failed to re-exec", "error", err)
		if _, err := writePIDFile(dataDir); err != nil {
			slog.Error("failed to re-write PID file", "error", err)
		}
	}
}
