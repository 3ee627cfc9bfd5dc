package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tOgg1/jumpshell/internal/db"
	"github.com/tOgg1/jumpshell/internal/models"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := database.MigrateUp(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func withNoColor(t *testing.T) {
	t.Helper()
	prev := noColor
	noColor = true
	t.Cleanup(func() { noColor = prev })
}

// seedEvents stores n task events one second apart starting at base.
func seedEvents(t *testing.T, repo *db.EventRepository, base time.Time, n int, eventType models.EventType, entityType models.EntityType) []*models.Event {
	t.Helper()
	out := make([]*models.Event, 0, n)
	for i := 0; i < n; i++ {
		event := &models.Event{
			ID:         fmt.Sprintf("%s-%02d", entityType, i),
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Type:       eventType,
			EntityType: entityType,
			EntityID:   fmt.Sprintf("%s-%d", entityType, i),
			Payload:    json.RawMessage(`{"host":"sw1","status":"complete"}`),
		}
		if err := repo.Create(context.Background(), event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		out = append(out, event)
	}
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEventStreamer_WriteEventJSON(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))

	var buf bytes.Buffer
	cfg := DefaultStreamConfig()
	cfg.JSON = true
	streamer := NewEventStreamer(repo, &buf, cfg)

	event := &models.Event{
		ID:         "test-event-1",
		Timestamp:  time.Now().UTC(),
		Type:       models.EventTypeTaskStarted,
		EntityType: models.EntityTypeTask,
		EntityID:   "task-1",
	}
	if err := streamer.writeEvent(event); err != nil {
		t.Fatalf("writeEvent failed: %v", err)
	}

	var decoded models.Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.ID != event.ID || decoded.Type != event.Type {
		t.Errorf("unexpected event %+v", decoded)
	}
}

func TestEventStreamer_PollPagesWithCursor(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UTC()
	seedEvents(t, repo, base, 5, models.EventTypeTaskCompleted, models.EntityTypeTask)

	cfg := DefaultStreamConfig()
	cfg.BatchSize = 2
	streamer := NewEventStreamer(repo, &bytes.Buffer{}, cfg)

	since := base.Add(-time.Minute)
	var (
		cursor string
		seen   []string
		pages  int
	)
	from := &since
	for {
		events, last, more, err := streamer.poll(ctx, cursor, from)
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		pages++
		for _, e := range events {
			seen = append(seen, e.ID)
		}
		if !more {
			break
		}
		cursor, from = last, nil
	}

	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if got := strings.Join(seen, ","); got != "task-00,task-01,task-02,task-03,task-04" {
		t.Errorf("unexpected events %s", got)
	}
}

func TestEventStreamer_FilterByEntityTypes(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UTC()
	seedEvents(t, repo, base, 2, models.EventTypeTaskCompleted, models.EntityTypeTask)
	seedEvents(t, repo, base.Add(time.Minute), 2, models.EventTypeJumpHostConnected, models.EntityTypeJumpHost)
	seedEvents(t, repo, base.Add(2*time.Minute), 1, models.EventTypeRunFinished, models.EntityTypeRun)

	cfg := DefaultStreamConfig()
	cfg.EntityTypes = []models.EntityType{models.EntityTypeRun, models.EntityTypeJumpHost}
	streamer := NewEventStreamer(repo, &bytes.Buffer{}, cfg)

	since := base.Add(-time.Minute)
	events, last, _, err := streamer.poll(ctx, "", &since)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 run and jump host events, got %d", len(events))
	}
	for _, e := range events {
		if e.EntityType == models.EntityTypeTask {
			t.Errorf("task event leaked through filter: %s", e.ID)
		}
	}
	if last != "run-00" {
		t.Errorf("expected last read event run-00, got %q", last)
	}
}

func TestEventStreamer_StreamWritesEachEventOnce(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))
	base := time.Now().Add(-time.Minute).UTC()
	seedEvents(t, repo, base, 3, models.EventTypeTaskFailed, models.EntityTypeTask)

	out := &syncBuffer{}
	cfg := DefaultStreamConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.BatchSize = 2
	cfg.JSON = true
	since := base.Add(-time.Second)
	cfg.Since = &since

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewEventStreamer(repo, out, cfg).Stream(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for strings.Count(out.String(), "\n") < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Several more polls with nothing new must not repeat events.
	time.Sleep(30 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Stream returned %v", err)
	}

	if lines := strings.Count(out.String(), "\n"); lines != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", lines, out.String())
	}
}

func TestCollectEventsStopsAtLimit(t *testing.T) {
	repo := db.NewEventRepository(setupTestDB(t))
	base := time.Now().Add(-time.Hour).UTC()
	seedEvents(t, repo, base, 7, models.EventTypeTaskQueued, models.EntityTypeTask)

	cfg := DefaultStreamConfig()
	cfg.BatchSize = 3
	since := base.Add(-time.Minute)
	cfg.Since = &since

	events, err := collectEvents(context.Background(), NewEventStreamer(repo, &bytes.Buffer{}, cfg), 5)
	if err != nil {
		t.Fatalf("collectEvents: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[4].ID != "task-04" {
		t.Errorf("expected events in order, got %s last", events[4].ID)
	}
}

func TestFormatEventLine(t *testing.T) {
	withNoColor(t)

	line := formatEventLine(&models.Event{
		Timestamp:  time.Now(),
		Type:       models.EventTypeTaskFailed,
		EntityType: models.EntityTypeTask,
		EntityID:   "7f3c2a10-aaaa-bbbb",
		Payload:    json.RawMessage(`{"host":"sw1","status":"failed","error":"","command_errors":2}`),
	})
	for _, want := range []string{"task.failed", "task:7f3c2a10", "host=sw1 status=failed command_errors=2"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "error=") {
		t.Errorf("empty fields should be skipped: %q", line)
	}
}

func TestPayloadSummaryNonObject(t *testing.T) {
	if got := payloadSummary(nil); got != "" {
		t.Errorf("expected empty summary, got %q", got)
	}
	if got := payloadSummary(json.RawMessage(`"plain"`)); got != `"plain"` {
		t.Errorf("expected raw payload, got %q", got)
	}
}
