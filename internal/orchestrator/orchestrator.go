// Package orchestrator turns message-written notifications into assistant turns.
//
// Each trigger passes the idempotency gate, then runs either a user turn
// (runtime invocation plus streaming fan-out) or, for an empty model
// placeholder, the greeting pipeline of a fresh session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ashureev/proxima/internal/agent"
	"github.com/ashureev/proxima/internal/analytics"
	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/jobs"
	"github.com/ashureev/proxima/internal/metrics"
	"github.com/ashureev/proxima/internal/store"
	"github.com/ashureev/proxima/internal/trigger"
)

var (
	// ErrStreamEndedOpen is returned when the runtime stream ends while a placeholder is still thinking.
	ErrStreamEndedOpen = errors.New("runtime stream ended with an open placeholder")
	// ErrNoGreeting is returned when the greet call rendered no text.
	ErrNoGreeting = errors.New("greeting produced no text")
)

// State is a step of the per-trigger state machine.
type State int

const (
	StateStart State = iota
	StateClaimed
	StateSessionResolved
	StateRemembering
	StateInvoking
	StateStreaming
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateClaimed:
		return "claimed"
	case StateSessionResolved:
		return "session_resolved"
	case StateRemembering:
		return "remembering"
	case StateInvoking:
		return "invoking"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Variant names the path a claimed trigger took.
type Variant string

const (
	VariantTurn       Variant = "turn"
	VariantOnboarding Variant = "onboarding"
	VariantGreet      Variant = "greet"
)

// Outcome describes how a trigger ended.
type Outcome struct {
	State   State
	Variant Variant
	// Skipped is set when the gate rejected the trigger. It is not an error.
	Skipped bool
	Reason  string
	// Reached is the last state entered before Done or Failed.
	Reached State
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Reached = s
}

// Recall reads the relational blocks used by context assembly.
type Recall interface {
	SearchMemory(ctx context.Context, userID string) (string, error)
	SearchInformation(ctx context.Context, userID string) (string, error)
	SearchTasks(ctx context.Context, userID string) (string, error)
}

// Jobs triggers downstream generation jobs.
type Jobs interface {
	Trigger(ctx context.Context, job jobs.Job, userID string) error
	Detach(job jobs.Job, userID string)
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Repo      store.Repository
	Runtime   agent.Runtime
	Recall    Recall
	Jobs      Jobs
	Analytics analytics.Sink
}

// Config holds the timing and rendering settings.
type Config struct {
	Location       *time.Location
	TypingDelayMin time.Duration
	TypingDelayMax time.Duration
	ClosingPause   time.Duration
	RememberWindow time.Duration
	Script         *Script
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep overrides how pauses are waited.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// WithRandom overrides the source of the theme choice and typing delays.
// intn must return a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(o *Orchestrator) {
		o.intn = intn
	}
}

// Orchestrator runs the per-trigger state machine.
type Orchestrator struct {
	repo    store.Repository
	runtime agent.Runtime
	recall  Recall
	jobs    Jobs
	sink    analytics.Sink
	cfg     Config
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	intn  func(n int) int
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if deps.Repo == nil || deps.Runtime == nil {
		return nil, errors.New("orchestrator requires a repository and an agent runtime")
	}
	if deps.Recall == nil || deps.Jobs == nil {
		return nil, errors.New("orchestrator requires recall and jobs collaborators")
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RememberWindow <= 0 {
		cfg.RememberWindow = 48 * time.Hour
	}
	if cfg.Script == nil {
		s, err := DefaultScript()
		if err != nil {
			return nil, err
		}
		cfg.Script = s
	}

	o := &Orchestrator{
		repo:    deps.Repo,
		runtime: deps.Runtime,
		recall:  deps.Recall,
		jobs:    deps.Jobs,
		sink:    deps.Analytics,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
		intn:    rand.IntN,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// HandleTrigger implements trigger.Handler.
func (o *Orchestrator) HandleTrigger(ctx context.Context, t trigger.Trigger) error {
	_, err := o.Handle(ctx, t)
	return err
}

// Handle runs one trigger to completion. Skips return a nil error; malformed
// triggers return an error wrapping trigger.ErrMalformedLocator or
// trigger.ErrMissingField before any side effect.
func (o *Orchestrator) Handle(ctx context.Context, t trigger.Trigger) (Outcome, error) {
	var out Outcome

	loc, err := t.Validate()
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("invalid").Inc()
		o.logger.Warn("Rejected trigger", "event_id", t.EventID, "document", t.Document, "error", err)
		return out, err
	}
	logger := o.logger.With(
		"event_id", t.EventID,
		"user_id", loc.UserID,
		"session_id", loc.SessionID,
		"message_id", loc.MessageID,
	)

	v, err := o.admit(ctx, loc)
	if err != nil {
		out.State = StateFailed
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		logger.Error("Gate failed", "error", err)
		return out, err
	}
	if !v.proceed {
		out.Skipped = true
		out.Reason = v.reason
		metrics.TurnsTotal.WithLabelValues("skipped").Inc()
		logger.Info("Skipped trigger", "reason", v.reason)
		return out, nil
	}
	out.enter(StateClaimed)

	if v.msg.Role == domain.RoleUser {
		out.Variant = VariantTurn
		err = o.runTurn(ctx, logger, loc, v, &out)
	} else {
		err = o.runGreeting(ctx, logger, loc, v, &out)
	}
	if err != nil {
		out.State = StateFailed
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		logger.Error("Turn failed", "variant", out.Variant, "reached", out.Reached.String(), "error", err)
		return out, err
	}

	out.State = StateDone
	metrics.TurnsTotal.WithLabelValues("done").Inc()
	logger.Info("Turn finished", "variant", out.Variant)
	return out, nil
}

// runTurn answers a claimed user message.
func (o *Orchestrator) runTurn(ctx context.Context, logger *slog.Logger, loc trigger.Locator, v verdict, out *Outcome) error {
	t := o.newTurn(loc, v.msg.Agent, logger)
	if err := t.open(ctx); err != nil {
		return err
	}

	session, err := o.repo.GetSession(ctx, loc.UserID, loc.SessionID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	out.enter(StateSessionResolved)

	content := v.msg.Content
	if session.HasAgentSession() {
		t.agentSessionID = session.AgentSessionID
	} else {
		// The greeting trigger normally binds the runtime session; it did not run.
		logger.Warn("Agent session not bound, bootstrapping inside turn")
		id, err := o.bindAgentSession(ctx, logger, loc.UserID, loc.SessionID, session)
		if err != nil {
			return err
		}
		t.agentSessionID = id

		out.enter(StateRemembering)
		blocks, err := o.remember(ctx, loc.UserID, loc.SessionID)
		if err != nil {
			return fmt.Errorf("remember: %w", err)
		}
		content = o.renderContext(loc.UserID, blocks) + content
	}

	out.enter(StateInvoking)
	o.sink.Log(ctx, t.entry(content, analytics.ContentUser))

	out.enter(StateStreaming)
	return t.consume(ctx, o.runtime.StreamQuery(ctx, loc.UserID, t.agentSessionID, content))
}

// bindAgentSession reuses the bound runtime session or creates and binds one.
// A lost binding race yields the winner's id.
func (o *Orchestrator) bindAgentSession(ctx context.Context, logger *slog.Logger, userID, sessionID string, session *domain.Session) (string, error) {
	if session.HasAgentSession() {
		return session.AgentSessionID, nil
	}
	id, err := o.runtime.CreateSession(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("create agent session: %w", err)
	}
	bound, err := o.repo.BindAgentSession(ctx, userID, sessionID, id)
	if err != nil {
		return "", fmt.Errorf("bind agent session: %w", err)
	}
	logger.Info("Agent session resolved", "agent_session_id", bound)
	return bound, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
