package trigger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handler processes one trigger.
type Handler interface {
	HandleTrigger(ctx context.Context, t Trigger) error
}

// Dispatcher delivers locally produced triggers to a Handler, each on its own
// goroutine. It bounds concurrency and waits for running turns on Close.
type Dispatcher struct {
	handler Handler
	sem     chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger

	// queued is cancelled on Close; triggers still waiting for a slot give up.
	queued context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher allowing up to concurrency parallel turns.
func NewDispatcher(handler Handler, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	queued, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: handler,
		sem:     make(chan struct{}, concurrency),
		logger:  logger,
		queued:  queued,
		cancel:  cancel,
	}
}

// Submit schedules a trigger for a locally written message.
func (d *Dispatcher) Submit(userID, sessionID, messageID string) (string, bool) {
	t := ForMessage(uuid.NewString(), userID, sessionID, messageID)
	return t.EventID, d.Dispatch(t)
}

// Dispatch schedules t. It returns false once the dispatcher is closed.
func (d *Dispatcher) Dispatch(t Trigger) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping trigger", "event_id", t.EventID, "document", t.Document)
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		select {
		case d.sem <- struct{}{}:
		case <-d.queued.Done():
			d.logger.Warn("dispatcher closing, abandoning queued trigger", "event_id", t.EventID)
			return
		}
		defer func() { <-d.sem }()

		// A running turn is never cancelled by shutdown; the store would be
		// left with an open placeholder otherwise.
		if err := d.handler.HandleTrigger(context.Background(), t); err != nil {
			d.logger.Error("trigger handling failed", "event_id", t.EventID, "document", t.Document, "error", err)
		}
	}()
	return true
}

// Close stops accepting triggers, abandons queued ones and waits for running turns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
