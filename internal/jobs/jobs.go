// Package jobs triggers downstream generation jobs over HTTP.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Job names a downstream endpoint.
type Job string

const (
	CreateQuest Job = "create-quest"
	CrawlEvents Job = "crawl-events"
	Advice      Job = "advice"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// StatusError is returned when a job answers with a non-2xx status.
type StatusError struct {
	Job    Job
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("job %s returned status %d: %s", e.Job, e.Status, e.Body)
}

// Failure is a detached job error delivered on the error channel.
type Failure struct {
	Job    Job
	UserID string
	Err    error
}

// Observer is notified of every job call result.
type Observer func(job Job, err error)

// Client posts {"user_id": ...} to {baseURL}/{job}.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
	observer Observer

	errs chan Failure
	wg   sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithObserver registers a callback invoked after every call.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient creates a job client. Detached failures are buffered up to errBuffer.
func NewClient(baseURL string, errBuffer int, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if errBuffer <= 0 {
		errBuffer = 64
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
		errs:    make(chan Failure, errBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger calls job and waits for the response. Non-2xx is an error.
func (c *Client) Trigger(ctx context.Context, job Job, userID string) error {
	err := c.post(ctx, job, userID)
	if c.observer != nil {
		c.observer(job, err)
	}
	return err
}

// Detach calls job in the background. Failures go to the error channel and
// are never returned to the caller.
func (c *Client) Detach(job Job, userID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.Trigger(context.Background(), job, userID)
		if err == nil {
			c.logger.Info("detached job finished", "job", job, "user_id", userID)
			return
		}
		select {
		case c.errs <- Failure{Job: job, UserID: userID, Err: err}:
		default:
			c.logger.Error("job error channel full", "job", job, "user_id", userID, "error", err)
		}
	}()
}

// Errors exposes detached failures.
func (c *Client) Errors() <-chan Failure {
	return c.errs
}

// LogErrors drains the error channel until ctx is done.
func (c *Client) LogErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.errs:
			c.logger.Error("detached job failed", "job", f.Job, "user_id", f.UserID, "error", f.Err)
		}
	}
}

// Wait blocks until all detached calls have returned.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) post(ctx context.Context, job Job, userID string) error {
	if c.baseURL == "" {
		return errors.New("jobs base url is not configured")
	}
	body, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return fmt.Errorf("encode job request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+string(job), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", job, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", job, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Job: job, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
