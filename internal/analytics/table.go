package analytics

import (
	"context"
	"log/slog"
	"time"
)

// EntryWriter persists entries to a table.
type EntryWriter interface {
	InsertChatLog(ctx context.Context, e Entry) error
}

// TableSink writes entries synchronously through an EntryWriter.
type TableSink struct {
	w       EntryWriter
	timeout time.Duration
	logger  *slog.Logger
}

// NewTableSink wraps w. Each insert is bounded by timeout.
func NewTableSink(w EntryWriter, timeout time.Duration, logger *slog.Logger) *TableSink {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TableSink{w: w, timeout: timeout, logger: logger}
}

// Log implements Sink.
func (s *TableSink) Log(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.w.InsertChatLog(ctx, e); err != nil {
		s.logger.Error("failed to insert chat log",
			"user_id", e.UserID,
			"session_id", e.SessionID,
			"content_type", e.ContentType,
			"error", err,
		)
	}
}
