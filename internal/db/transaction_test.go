package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var fastRetry = RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

func TestRetryPolicyRetriesWhileBusy(t *testing.T) {
	attempts := 0
	var retried []int

	err := fastRetry.run(context.Background(), func(n int, _ error) {
		retried = append(retried, n)
	}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if fmt.Sprint(retried) != "[1 2]" {
		t.Fatalf("expected retries [1 2], got %v", retried)
	}
}

func TestRetryPolicyStopsOnOtherErrors(t *testing.T) {
	attempts := 0

	err := fastRetry.run(context.Background(), nil, func() error {
		attempts++
		return errors.New("UNIQUE constraint failed: run_results.task_id")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryPolicyGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{Attempts: 2, Backoff: time.Millisecond}

	err := policy.run(context.Background(), nil, func() error {
		attempts++
		return errors.New("database is busy")
	})

	if err == nil || !strings.Contains(err.Error(), "busy") {
		t.Fatalf("expected the busy error back, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{Attempts: 5, Backoff: time.Hour}
	attempts := 0

	err := policy.run(ctx, func(int, error) { cancel() }, func() error {
		attempts++
		return errors.New("database is locked")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Attempts: 6, Backoff: 10 * time.Millisecond, MaxBackoff: 35 * time.Millisecond}.withDefaults()

	want := []time.Duration{10, 20, 35, 35}
	for i, w := range want {
		if got := p.delay(i + 1); got != w*time.Millisecond {
			t.Fatalf("delay(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{Backoff: 2 * time.Second}.withDefaults()

	if p.Attempts != DefaultRetryPolicy.Attempts {
		t.Fatalf("expected default attempts, got %d", p.Attempts)
	}
	if p.MaxBackoff != 2*time.Second {
		t.Fatalf("expected max backoff raised to backoff, got %v", p.MaxBackoff)
	}
}

func TestTransactionWithRetry(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	db.retry = fastRetry.withDefaults()

	attempts := 0
	err := db.TransactionWithRetry(context.Background(), func(tx *sql.Tx) error {
		attempts++
		if attempts < 2 {
			return errors.New("database is locked")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestOpenWithOptionsAppliesPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.db")

	db, err := OpenWithOptions(path, Options{
		MaxConnections: 2,
		BusyTimeout:    250 * time.Millisecond,
		Retry:          RetryPolicy{Attempts: 7, Backoff: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if got := db.Stats().MaxOpenConnections; got != 2 {
		t.Fatalf("expected 2 max connections, got %d", got)
	}
	var busy int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if busy != 250 {
		t.Fatalf("expected busy_timeout 250, got %d", busy)
	}
	p := db.RetryPolicy()
	if p.Attempts != 7 || p.Backoff != 5*time.Millisecond || p.MaxBackoff != DefaultRetryPolicy.MaxBackoff {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestBusyErrorFromLockedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.db")
	opts := Options{MaxConnections: 1, BusyTimeout: time.Millisecond, Retry: RetryPolicy{Attempts: 1}}

	holder, err := OpenWithOptions(path, opts)
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer holder.Close()
	other, err := OpenWithOptions(path, opts)
	if err != nil {
		t.Fatalf("open other: %v", err)
	}
	defer other.Close()

	ctx := context.Background()
	if _, err := holder.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}

	conn, err := holder.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer conn.ExecContext(ctx, "ROLLBACK")

	err = other.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)")
		return err
	})
	if err == nil {
		t.Fatal("expected a busy error while the write lock is held")
	}
	if !isBusyError(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
}
