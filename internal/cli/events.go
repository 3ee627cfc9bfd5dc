package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/jumpshell/internal/db"
	"github.com/tOgg1/jumpshell/internal/models"
)

var (
	eventsTypes      []string
	eventsEntityType string
	eventsEntityID   string
	eventsRun        string
	eventsSince      time.Duration
	eventsLimit      int
	eventsFollow     bool
)

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().StringSliceVarP(&eventsTypes, "type", "t", nil, "event types to show (e.g. task.failed,jump_host.failed)")
	eventsCmd.Flags().StringVar(&eventsEntityType, "entity-type", "", "entity type to show (run, task, jump_host)")
	eventsCmd.Flags().StringVar(&eventsEntityID, "entity", "", "entity ID to show")
	eventsCmd.Flags().StringVar(&eventsRun, "run", "", "show every event of a run (ID or prefix)")
	eventsCmd.Flags().DurationVar(&eventsSince, "since", 24*time.Hour, "how far back to look")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 200, "maximum number of events")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "keep printing new events")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the event log",
	Long: `Show recorded run, task and jump host events. With --follow, new events
are printed as they are written by a run in another process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
		defer stop()

		database, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer database.Close()
		repo := db.NewEventRepository(database)

		if eventsRun != "" {
			if eventsFollow {
				return fmt.Errorf("--run cannot be combined with --follow")
			}
			events, err := runEvents(ctx, database, eventsRun)
			if err != nil {
				return err
			}
			return writeEvents(cmd, events)
		}

		streamCfg := DefaultStreamConfig()
		streamCfg.EventTypes = toEventTypes(eventsTypes)
		if eventsEntityType != "" {
			streamCfg.EntityTypes = []models.EntityType{models.EntityType(eventsEntityType)}
		}
		streamCfg.EntityID = eventsEntityID
		streamCfg.JSON = IsJSONOutput() || IsJSONLOutput()

		if eventsFollow {
			return NewEventStreamer(repo, cmd.OutOrStdout(), streamCfg).Stream(ctx)
		}

		since := time.Now().Add(-eventsSince).UTC()
		streamCfg.Since = &since
		events, err := collectEvents(ctx, NewEventStreamer(repo, cmd.OutOrStdout(), streamCfg), eventsLimit)
		if err != nil {
			return err
		}
		return writeEvents(cmd, events)
	},
}

// collectEvents pages through the log from the streamer's start time until
// limit matching events are read.
func collectEvents(ctx context.Context, s *EventStreamer, limit int) ([]*models.Event, error) {
	var (
		out    []*models.Event
		cursor string
		since  = s.config.Since
	)
	for limit <= 0 || len(out) < limit {
		events, last, more, err := s.poll(ctx, cursor, since)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
		if !more {
			break
		}
		cursor, since = last, nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// runEvents returns the events of one run: the run itself, its tasks and
// the jump hosts used while it ran.
func runEvents(ctx context.Context, database *db.DB, ref string) ([]*models.Event, error) {
	results := db.NewResultRepository(database)
	runID, err := resolveRun(ctx, results, ref)
	if err != nil {
		return nil, err
	}
	run, err := results.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	tasks, err := results.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	repo := db.NewEventRepository(database)
	all, err := repo.ListByEntity(ctx, models.EntityTypeRun, runID, 0)
	if err != nil {
		return nil, err
	}
	for _, id := range taskIDs(tasks) {
		events, err := repo.ListByEntity(ctx, models.EntityTypeTask, id, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}

	entityType := models.EntityTypeJumpHost
	until := run.FinishedAt.Add(time.Second)
	q := db.EventQuery{EntityType: &entityType, Since: &run.StartedAt, Until: &until, Limit: 500}
	for {
		page, err := repo.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Events...)
		if page.NextCursor == "" {
			break
		}
		q.Cursor, q.Since = page.NextCursor, nil
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

func writeEvents(cmd *cobra.Command, events []*models.Event) error {
	out := cmd.OutOrStdout()
	if IsJSONLOutput() {
		return writeJSONL(out, events)
	}
	if IsJSONOutput() {
		return WriteOutput(out, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No events")
		return nil
	}
	for _, e := range events {
		fmt.Fprintln(out, formatEventLine(e))
	}
	return nil
}

func toEventTypes(values []string) []models.EventType {
	if len(values) == 0 {
		return nil
	}
	out := make([]models.EventType, 0, len(values))
	for _, v := range values {
		out = append(out, models.EventType(v))
	}
	return out
}
