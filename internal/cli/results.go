package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/jumpshell/internal/config"
	"github.com/tOgg1/jumpshell/internal/db"
	"github.com/tOgg1/jumpshell/internal/models"
)

var (
	resultsLimit      int
	resultsShowOutput bool
	resultsOlderThan  time.Duration
)

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsListCmd, resultsShowCmd, resultsHostCmd, resultsPruneCmd)

	resultsListCmd.Flags().IntVarP(&resultsLimit, "limit", "n", 20, "number of runs to list")
	resultsShowCmd.Flags().BoolVar(&resultsShowOutput, "output", false, "print command output")
	resultsHostCmd.Flags().IntVarP(&resultsLimit, "limit", "n", 20, "number of results to list")
	resultsHostCmd.Flags().BoolVar(&resultsShowOutput, "output", false, "print command output")
	resultsPruneCmd.Flags().DurationVar(&resultsOlderThan, "older-than", 30*24*time.Hour, "delete runs started before this age")
}

var resultsCmd = &cobra.Command{
	Use:     "results",
	Aliases: []string{"res"},
	Short:   "Inspect stored run results",
}

var resultsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent runs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResults(cmd.Context(), func(ctx context.Context, repo *db.ResultRepository) error {
			runs, err := repo.ListRuns(ctx, resultsLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if IsJSONLOutput() {
				return writeJSONL(out, runs)
			}
			if IsJSONOutput() {
				return WriteOutput(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				source := "-"
				if r.Source != "" {
					source = filepath.Base(r.Source)
				}
				rows = append(rows, []string{
					shortID(r.ID),
					formatTime(r.StartedAt),
					formatDuration(r.FinishedAt.Sub(r.StartedAt)),
					fmt.Sprint(r.TaskCount),
					formatCount(r.Failed, styleFailed),
					source,
				})
			}
			return writeTable(out, []string{"RUN", "STARTED", "DURATION", "TASKS", "FAILED", "BATCH"}, rows)
		})
	},
}

var resultsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the results of a run (default: the last run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResults(cmd.Context(), func(ctx context.Context, repo *db.ResultRepository) error {
			ref := ""
			if len(args) > 0 {
				ref = args[0]
			}
			runID, err := resolveRun(ctx, repo, ref)
			if err != nil {
				return err
			}
			results, err := repo.ListByRun(ctx, runID)
			if err != nil {
				return err
			}
			if err := writeResults(cmd.OutOrStdout(), runID, results, resultsShowOutput); err != nil {
				return err
			}
			if len(results) == 1 {
				PrintNextSteps(HintContext{Action: "results_show", RunID: runID, Host: results[0].Host})
			}
			return nil
		})
	},
}

var resultsHostCmd = &cobra.Command{
	Use:   "host <host>",
	Short: "Show the latest results for one device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withResults(cmd.Context(), func(ctx context.Context, repo *db.ResultRepository) error {
			results, err := repo.ListByHost(ctx, args[0], resultsLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if IsJSONLOutput() {
				return writeJSONL(out, results)
			}
			if IsJSONOutput() {
				return WriteOutput(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintf(out, "No results for %s\n", args[0])
				return nil
			}
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{
					shortID(r.RunID),
					formatTime(r.StartedAt),
					formatStatus(r.Status),
					fmt.Sprint(len(r.Commands)),
					formatCount(r.CommandErrors(), styleWarn),
					formatDuration(r.Duration()),
					truncate(r.Error),
				})
			}
			if err := writeTable(out, []string{"RUN", "STARTED", "STATUS", "CMDS", "ERRORS", "DURATION", "ERROR"}, rows); err != nil {
				return err
			}
			if resultsShowOutput {
				writeCommandOutput(out, results[0])
			}
			return nil
		})
	},
}

var resultsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old runs and events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if resultsOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		ctx := contextOrBackground(cmd.Context())
		database, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		cutoff := time.Now().Add(-resultsOlderThan)
		runs, err := db.NewResultRepository(database).DeleteRunsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		evts, err := db.NewEventRepository(database).DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]any{
				"cutoff":         cutoff.UTC(),
				"runs_deleted":   runs,
				"events_deleted": evts,
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs and %d events older than %s\n", runs, evts, formatTime(cutoff))
		return nil
	},
}

func withResults(ctx context.Context, fn func(context.Context, *db.ResultRepository) error) error {
	ctx = contextOrBackground(ctx)
	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(ctx, db.NewResultRepository(database))
}

// resolveRun expands a run ID prefix, or returns the last recorded run when
// ref is empty.
func resolveRun(ctx context.Context, repo *db.ResultRepository, ref string) (string, error) {
	if ref == "" {
		state, err := config.NewStateStore(statePath(GetConfig())).Load()
		if err != nil {
			return "", err
		}
		if state.IsEmpty() {
			return "", errors.New("no run recorded yet; pass a run ID")
		}
		return state.LastRunID, nil
	}
	id, err := repo.ResolveRunID(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("run %q: %w", ref, err)
	}
	return id, nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// taskIDs returns the task IDs of results.
func taskIDs(results []*models.TaskResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.TaskID)
	}
	return ids
}
