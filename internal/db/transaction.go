package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy decides how often a write is retried after SQLite reports the
// database busy or locked. Delays double from Backoff up to MaxBackoff.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy is used for any field left zero.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:   3,
	Backoff:    50 * time.Millisecond,
	MaxBackoff: time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryPolicy.Backoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetryPolicy.MaxBackoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return p
}

// delay is the wait before retry n (1-based).
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.Backoff
	for i := 1; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// RetryPolicy returns the policy TransactionWithRetry applies.
func (db *DB) RetryPolicy() RetryPolicy {
	return db.retry
}

// TransactionWithRetry runs fn in a transaction, starting over while the
// database is busy and the policy allows another attempt.
func (db *DB) TransactionWithRetry(ctx context.Context, fn func(*sql.Tx) error) error {
	if db == nil || db.DB == nil {
		return ErrClosed
	}
	return db.retry.run(ctx, func(attempt int, err error) {
		db.logger.Debug().Int("attempt", attempt).Err(err).Msg("database busy, retrying")
	}, func() error {
		return db.Transaction(ctx, fn)
	})
}

// run calls fn until it succeeds, fails with a non-busy error, or the
// attempts are used up. onRetry may be nil.
func (p RetryPolicy) run(ctx context.Context, onRetry func(int, error), fn func() error) error {
	p = p.withDefaults()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusyError(err) || attempt >= p.Attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if err := sleepWithContext(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		// Extended codes carry the primary code in the low byte.
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	// Errors that lost their type on the way up (wrapped with %v, or
	// surfaced from a driver message) are matched by text.
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
