package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/aicoder/internal/gateway"
	"github.com/user/aicoder/internal/types"
)

var (
	runJSON bool
	runReal bool
)

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")
	runCmd.Flags().BoolVar(&runReal, "real", false, "execute commands on the host instead of simulating them")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run the agent once and print its status stream",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		if runReal {
			cfg.Agent.Mode = "real"
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

		result, err := a.gateway.RunSync(ctx, gateway.Request{Prompt: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		if runJSON {
			return printJSON(os.Stdout, result)
		}
		printResult(os.Stdout, result)
		if !result.Success {
			return fmt.Errorf("run %s failed: %s", result.RunID.Short(), result.Error)
		}
		return nil
	},
}

// printSink writes one line per status record.
func printSink(w io.Writer) types.StatusSink {
	return types.SinkFunc(func(_ context.Context, rec *types.StatusRecord) error {
		line := fmt.Sprintf("%s  %-17s %s", rec.Timestamp.Format("15:04:05"), rec.Status, rec.Message)
		if rec.ToolCall != nil {
			line += fmt.Sprintf(" [%s]", rec.ToolCall.Tool)
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
}

func printResult(w io.Writer, r *types.RunResult) {
	fmt.Fprintf(w, "\nRun %s: %s after %d iterations (%dms)\n", r.RunID.Short(), r.Status, r.Iterations, r.ProcessingTime)
	if r.ProjectPath != "" {
		fmt.Fprintf(w, "Project: %s (%s)\n", r.ProjectName, r.ProjectPath)
		for _, f := range r.ProjectFiles {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	if r.Usage.InputTokens+r.Usage.OutputTokens > 0 {
		fmt.Fprintf(w, "Tokens: %d in, %d out\n", r.Usage.InputTokens, r.Usage.OutputTokens)
	}
	for _, e := range r.Results {
		if e.Type == types.EntryOutput {
			fmt.Fprintf(w, "\n%s\n", e.Content)
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
