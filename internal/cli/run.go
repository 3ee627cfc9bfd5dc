package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/tOgg1/jumpshell/internal/analysis"
	"github.com/tOgg1/jumpshell/internal/batch"
	"github.com/tOgg1/jumpshell/internal/config"
	"github.com/tOgg1/jumpshell/internal/db"
	"github.com/tOgg1/jumpshell/internal/models"
	"github.com/tOgg1/jumpshell/internal/orchestrator"
	"github.com/tOgg1/jumpshell/internal/transport"
)

var (
	runEvery      string
	runAskPass    bool
	runNoStore    bool
	runShowOutput bool
	runMaxDirect  int
	runJumpSlots  int
	runDryRun     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runEvery, "every", "", "repeat the batch on a cron schedule (e.g. \"*/30 * * * *\" or \"@every 1h\")")
	runCmd.Flags().BoolVar(&runAskPass, "ask-pass", false, "prompt for profile passwords that are not configured")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "do not write results to the database")
	runCmd.Flags().BoolVar(&runShowOutput, "show-output", false, "print command output after the summary")
	runCmd.Flags().IntVar(&runMaxDirect, "max-direct", 0, "override devices.defaults.max_direct_connections")
	runCmd.Flags().IntVar(&runJumpSlots, "jump-slots", 0, "override jump_hosts.defaults.max_connections")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "resolve the batch and list tasks without connecting")
}

var runCmd = &cobra.Command{
	Use:   "run <batch-file>",
	Short: "Run a batch of tasks",
	Long: `Run every task in a YAML or TOML batch file. Tasks without a jump host
share the direct connection pool; tasks naming a jump host share one
connection to it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := GetConfig()
		if runAskPass {
			if err := promptMissingPasswords(cfg, os.Stdin, os.Stderr); err != nil {
				return err
			}
		}

		b, err := batch.Load(args[0], cfg)
		if err != nil {
			return err
		}

		if runDryRun {
			return writeTaskList(cmd.OutOrStdout(), b)
		}

		var database *db.DB
		if cfg.Orchestrator.StoreResults && !runNoStore {
			database, err = openDatabase(ctx)
			if err != nil {
				return err
			}
			defer database.Close()
		}

		if runEvery == "" {
			return runBatch(ctx, cmd.OutOrStdout(), cfg, b, database)
		}
		return runScheduled(ctx, runEvery, func(ctx context.Context) error {
			return runBatch(ctx, cmd.OutOrStdout(), cfg, b, database)
		})
	},
}

// runBatch submits every task of b, waits for the run and writes results.
func runBatch(ctx context.Context, out io.Writer, cfg *config.Config, b *batch.Batch, database *db.DB) error {
	dialer, err := newDialer(cfg)
	if err != nil {
		return err
	}
	rules, err := cfg.Ruleset()
	if err != nil {
		return err
	}

	publisher, hookManager, err := newEventPublisher(database, cfg)
	if err != nil {
		return err
	}
	if !quiet && !IsJSONOutput() && !IsJSONLOutput() {
		progress := newProgressPrinter(os.Stderr, len(b.Tasks))
		if err := publisher.Subscribe("progress", progress.filter(), progress.handle); err != nil {
			return err
		}
	}

	orchCfg := orchestrator.ConfigFrom(cfg)
	if runMaxDirect > 0 {
		orchCfg.MaxDirectConnections = runMaxDirect
	}
	if runJumpSlots > 0 {
		orchCfg.JumpHostCapacity = runJumpSlots
	}
	opts := []orchestrator.Option{
		orchestrator.WithRules(rules),
		orchestrator.WithAnalyzers(analysis.Default()),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithSource(b.Source),
	}
	if database != nil {
		opts = append(opts, orchestrator.WithStore(db.NewResultRepository(database)))
	}

	o := orchestrator.New(orchCfg, dialer, opts...)
	for _, task := range b.Tasks {
		// Tasks are copied so scheduled reruns get fresh IDs.
		t := *task
		if err := o.Submit(&t); err != nil {
			return fmt.Errorf("submit %s: %w", task.Host, err)
		}
	}

	results, runErr := o.Run(ctx)
	if hookManager != nil {
		hookManager.Wait()
	}
	if database != nil {
		rememberRun(cfg, o.RunID(), b.Source)
	}

	if err := writeResults(out, o.RunID(), results, runShowOutput); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if runErr == nil && !IsJSONOutput() && !IsJSONLOutput() {
		PrintNextSteps(HintContext{Action: "run", RunID: o.RunID(), Failed: countFailed(results)})
	}

	if failed := countFailed(results); failed > 0 {
		return &ExitError{Code: 2, Err: fmt.Errorf("%d of %d tasks failed", failed, len(results)), Printed: !IsJSONOutput() && !IsJSONLOutput()}
	}
	return runErr
}

// runScheduled runs fn on a cron schedule until ctx is cancelled. A run that
// is still going when the next one is due causes that one to be skipped.
func runScheduled(ctx context.Context, spec string, fn func(context.Context) error) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		if err := fn(ctx); err != nil {
			var exitErr *ExitError
			if errors.As(err, &exitErr) {
				logger.Warn().Err(exitErr.Err).Msg("scheduled run finished with failures")
				return
			}
			logger.Error().Err(err).Msg("scheduled run failed")
		}
	}))

	c.Start()
	logger.Info().Str("schedule", spec).Time("next", schedule.Next(time.Now())).Msg("waiting for schedule")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func newDialer(cfg *config.Config) (transport.Dialer, error) {
	d := cfg.Devices.Defaults

	hostKeys, err := transport.KnownHostsCallback(d.HostKeyFile)
	if err != nil {
		return nil, err
	}
	opts := []transport.SSHOption{transport.WithHostKeyCallback(hostKeys)}
	if d.SocksProxy != "" {
		opts = append(opts, transport.WithSocksProxy(d.SocksProxy))
	}
	if d.SSHConfigFile != "" {
		aliases, err := transport.LoadSSHConfig(d.SSHConfigFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, transport.WithAliases(aliases))
	}

	return &transport.Router{
		Remote: transport.NewSSHDialer(opts...),
		Local:  transport.NewLocalDialer(),
	}, nil
}

func rememberRun(cfg *config.Config, runID, source string) {
	store := config.NewStateStore(statePath(cfg))
	state, err := store.Load()
	if err != nil {
		logger.Debug().Err(err).Msg("failed to load state")
		state = &config.RunState{}
	}
	state.SetRun(runID, source)
	if err := store.Save(state); err != nil {
		logger.Debug().Err(err).Msg("failed to save state")
	}
}

func statePath(cfg *config.Config) string {
	return filepath.Join(cfg.Global.ConfigDir, "state.yaml")
}

func countFailed(results []*models.TaskResult) int {
	n := 0
	for _, r := range results {
		if r.Status == models.TaskStatusFailed {
			n++
		}
	}
	return n
}

func writeTaskList(out io.Writer, b *batch.Batch) error {
	if IsJSONOutput() {
		return WriteOutput(out, b.Tasks)
	}
	if IsJSONLOutput() {
		return writeJSONL(out, b.Tasks)
	}
	rows := make([][]string, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		jump := "-"
		if t.JumpHost != nil {
			jump = t.JumpHost.Label()
		}
		user := "-"
		if len(t.Auth) > 0 {
			user = t.Auth[0].Username
		}
		rows = append(rows, []string{t.Address(), jump, user, fmt.Sprintf("%d", len(t.Commands)), truncate(t.Description)})
	}
	return writeTable(out, []string{"HOST", "JUMP HOST", "USER", "CMDS", "DESCRIPTION"}, rows)
}
