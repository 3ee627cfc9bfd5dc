package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tOgg1/jumpshell/internal/db"
	"github.com/tOgg1/jumpshell/internal/models"
)

// StreamConfig configures event streaming behavior.
type StreamConfig struct {
	// PollInterval is how often to check for new events.
	PollInterval time.Duration

	// EventTypes filters to specific event types (nil = all).
	EventTypes []models.EventType

	// EntityTypes filters to specific entity types (nil = all).
	EntityTypes []models.EntityType

	// EntityID filters to a specific entity.
	EntityID string

	// Since streams events at or after this timestamp. Nil means now.
	Since *time.Time

	// BatchSize is the max events per poll.
	BatchSize int

	// JSON writes each event as a JSON line instead of a text line.
	JSON bool
}

// DefaultStreamConfig returns sensible defaults for streaming.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    100,
	}
}

// EventStreamer polls the event log and writes new events as they appear.
type EventStreamer struct {
	repo   *db.EventRepository
	out    io.Writer
	config StreamConfig
	logger func(string, ...any)
}

// NewEventStreamer creates a new event streamer.
func NewEventStreamer(repo *db.EventRepository, out io.Writer, config StreamConfig) *EventStreamer {
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &EventStreamer{
		repo:   repo,
		out:    out,
		config: config,
		logger: func(format string, args ...any) {
			if IsVerbose() {
				fmt.Fprintf(os.Stderr, format+"\n", args...)
			}
		},
	}
}

// Stream writes events until ctx is cancelled. Cancellation is not an error.
func (s *EventStreamer) Stream(ctx context.Context) error {
	var cursor string
	since := s.config.Since
	if since == nil {
		now := time.Now().UTC()
		since = &now
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.logger("Starting event stream (poll interval: %v)", s.config.PollInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		// Drain every full page before waiting for the next tick.
		for {
			events, last, more, err := s.poll(ctx, cursor, since)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to poll events: %w", err)
			}
			for _, event := range events {
				if err := s.writeEvent(event); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
			}
			if last == "" {
				break
			}
			cursor = last
			since = nil
			if !more {
				break
			}
		}
	}
}

// poll fetches the next page after cursor. It returns the matching events,
// the ID of the last event read (filtered or not) and whether more pages
// are waiting.
func (s *EventStreamer) poll(ctx context.Context, cursor string, since *time.Time) ([]*models.Event, string, bool, error) {
	query := db.EventQuery{
		Cursor: cursor,
		Since:  since,
		Limit:  s.config.BatchSize,
	}
	if len(s.config.EventTypes) == 1 {
		query.Type = &s.config.EventTypes[0]
	}
	if len(s.config.EntityTypes) == 1 {
		query.EntityType = &s.config.EntityTypes[0]
	}
	if s.config.EntityID != "" {
		query.EntityID = &s.config.EntityID
	}

	page, err := s.repo.Query(ctx, query)
	if err != nil {
		return nil, "", false, err
	}
	if len(page.Events) == 0 {
		return nil, "", false, nil
	}
	last := page.Events[len(page.Events)-1].ID

	filtered := make([]*models.Event, 0, len(page.Events))
	for _, e := range page.Events {
		if len(s.config.EventTypes) > 1 && !containsType(s.config.EventTypes, e.Type) {
			continue
		}
		if len(s.config.EntityTypes) > 1 && !containsType(s.config.EntityTypes, e.EntityType) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, last, page.NextCursor != "", nil
}

func (s *EventStreamer) writeEvent(event *models.Event) error {
	if s.config.JSON {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.out, string(data))
		return err
	}
	_, err := fmt.Fprintln(s.out, formatEventLine(event))
	return err
}

func containsType[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// formatEventLine renders an event as "time type entity payload".
func formatEventLine(event *models.Event) string {
	entity := string(event.EntityType)
	if event.EntityID != "" {
		entity += ":" + shortID(event.EntityID)
	}
	parts := []string{
		event.Timestamp.Local().Format("15:04:05.000"),
		render(eventStyle(event.Type), fmt.Sprintf("%-22s", event.Type)),
		entity,
	}
	if summary := payloadSummary(event.Payload); summary != "" {
		parts = append(parts, summary)
	}
	return strings.Join(parts, "  ")
}

// payloadSummary flattens a JSON object payload to key=value pairs in
// field order.
func payloadSummary(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return truncate(string(payload))
	}
	var pairs []string
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			break
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			break
		}
		if value == nil || value == "" {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("%v=%v", key, value))
	}
	return truncate(strings.Join(pairs, " "))
}
