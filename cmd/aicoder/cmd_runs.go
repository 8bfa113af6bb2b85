package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/user/aicoder/internal/state"
	"github.com/user/aicoder/internal/types"
)

var (
	runsLimit   int
	showHistory bool
)

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to list")
	runsShowCmd.Flags().BoolVar(&showHistory, "history", false, "print every status record of the run")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past runs",
}

func openRunStore() (*state.RunStore, string, error) {
	cfg := loadConfig()
	store, err := state.NewRunStore(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		return nil, "", fmt.Errorf("open run store: %w", err)
	}
	return store, cfg.DataDir, nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openRunStore()
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(cmd.Context(), runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stdout, "No runs yet.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tUPDATED\tPROMPT")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Kind, r.Status, r.UpdatedAt.Local().Format("2006-01-02 15:04:05"), truncate(r.Prompt, 50))
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run id>",
	Short: "Show a run and its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := uuid.Parse(args[0]); err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		id := types.RunID(args[0])

		store, dataDir, err := openRunStore()
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if err := printJSON(os.Stdout, rec); err != nil {
			return err
		}
		if !showHistory {
			return nil
		}
		return printHistory(cmd.Context(), state.NewStatusLog(dataDir), id)
	},
}

func printHistory(ctx context.Context, log *state.StatusLog, id types.RunID) error {
	history, err := log.History(ctx, id, 0)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	fmt.Fprintln(os.Stdout)
	sink := printSink(os.Stdout)
	for i := range history {
		if err := sink.Publish(ctx, &history[i]); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
