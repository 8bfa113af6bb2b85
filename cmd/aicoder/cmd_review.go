package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/aicoder/internal/gateway"
	"github.com/user/aicoder/internal/review"
)

func init() {
	rootCmd.AddCommand(reviewCmd)
}

var reviewCmd = &cobra.Command{
	Use:   "review <dir>",
	Short: "Analyse a project directory and write " + review.ReportName,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		dir, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolve dir: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, printSink(os.Stdout))
		if err != nil {
			return err
		}
		defer a.Close()

		a.gateway.Start(ctx)
		defer a.gateway.Stop()

		run, err := a.gateway.Review(ctx, gateway.DefaultLane, dir)
		if err != nil {
			return err
		}
		result, err := run.Wait(ctx)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("review %s failed: %s", result.RunID.Short(), result.Error)
		}
		fmt.Fprintf(os.Stdout, "\nReport written to %s\n", filepath.Join(dir, review.ReportName))
		return nil
	},
}
