package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/chazu/garnet/tracestore"
	"github.com/chazu/garnet/vm"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show call statistics from the trace database",
	Long: `Show the most called methods recorded by 'garnet run --trace', for one
run or summed over every run.`,
	RunE: showStats,
}

func init() {
	statsCmd.Flags().Int64("run", 0, "run id (0 sums every run)")
	statsCmd.Flags().IntP("top", "n", 20, "number of methods to show")
	statsCmd.Flags().Bool("runs", false, "list recorded runs instead")
	statsCmd.Flags().String("db", "", "trace database (default from garnet.toml)")
}

func showStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	runID, err := flags.GetInt64("run")
	if err != nil {
		return fmt.Errorf("failed to get run flag: %w", err)
	}
	top, err := flags.GetInt("top")
	if err != nil {
		return fmt.Errorf("failed to get top flag: %w", err)
	}
	listRuns, err := flags.GetBool("runs")
	if err != nil {
		return fmt.Errorf("failed to get runs flag: %w", err)
	}
	dbPath, err := flags.GetString("db")
	if err != nil {
		return fmt.Errorf("failed to get db flag: %w", err)
	}
	if dbPath == "" {
		m, err := loadManifest(cmd)
		if err != nil {
			return err
		}
		dbPath = ".garnet/trace.db"
		if m != nil {
			dbPath = m.TraceDatabasePath()
		}
	}
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no trace database at %s; run with --trace first", dbPath)
	}

	// The store only needs a VM to name live events.
	store, err := tracestore.Open(dbPath, vm.NewVM())
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if listRuns {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		headColor.Fprintf(out, "%6s  %-20s  %s\n", "run", "started", "program")
		for _, r := range runs {
			fmt.Fprintf(out, "%6d  %-20s  %s\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Program)
		}
		return nil
	}

	rows, err := store.Top(ctx, runID, top)
	if err != nil {
		return err
	}
	headColor.Fprintf(out, "%10s %10s %8s %8s  %-14s %s\n", "calls", "hits", "misses", "errors", "family", "method")
	for _, r := range rows {
		line := fmt.Sprintf("%10d %10d %8d %8d  %-14s %s#%s", r.Calls, r.Hits, r.Misses(), r.Errors, r.Family, r.Owner, r.Method)
		if r.Errors > 0 {
			errorColor.Fprintln(out, line)
		} else {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
