package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	writeMaxRetries = 3
	writeBaseDelay  = 50 * time.Millisecond
)

// isConflictError reports SQLITE_BUSY and "database is locked" errors, which
// are transient under concurrent writers.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs fn, retrying lock conflicts with exponential backoff.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < writeMaxRetries; i++ {
		err = fn()
		if err == nil || !isConflictError(err) {
			return err
		}
		if i == writeMaxRetries-1 {
			break
		}
		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("store write hit lock conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, writeMaxRetries, err)
}
