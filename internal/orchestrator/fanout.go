package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ashureev/proxima/internal/agent"
	"github.com/ashureev/proxima/internal/analytics"
	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/metrics"
	"github.com/ashureev/proxima/internal/trigger"
)

// turn is the mutable state of one runtime invocation. At most one
// placeholder is open at a time and only this turn ever writes it.
type turn struct {
	o              *Orchestrator
	userID         string
	sessionID      string
	agentSessionID string
	// agentName is the display name of the sub-agent currently speaking.
	agentName string
	current   *domain.Message
	logger    *slog.Logger
}

func (o *Orchestrator) newTurn(loc trigger.Locator, agentName string, logger *slog.Logger) *turn {
	if agentName == "" {
		agentName = domain.DefaultAgentName
	}
	return &turn{
		o:         o,
		userID:    loc.UserID,
		sessionID: loc.SessionID,
		agentName: agentName,
		logger:    logger,
	}
}

// open appends a fresh thinking placeholder and makes it current.
func (t *turn) open(ctx context.Context) error {
	if t.current != nil {
		return fmt.Errorf("placeholder %s is still open", t.current.ID)
	}
	ph := domain.NewPlaceholder(t.userID, t.sessionID, t.agentName, true)
	if err := t.o.repo.AddMessage(ctx, ph); err != nil {
		return fmt.Errorf("open placeholder: %w", err)
	}
	metrics.PlaceholdersOpened.Inc()
	t.current = ph
	return nil
}

// ensureOpen opens a placeholder if the previous part closed the last one.
func (t *turn) ensureOpen(ctx context.Context) error {
	if t.current != nil {
		return nil
	}
	return t.open(ctx)
}

// close applies the terminal update to the current placeholder.
func (t *turn) close(ctx context.Context, upd domain.MessageUpdate) error {
	if t.current == nil {
		return fmt.Errorf("no open placeholder to close")
	}
	if err := t.o.repo.UpdateMessage(ctx, t.userID, t.sessionID, t.current.ID, upd); err != nil {
		return fmt.Errorf("close placeholder %s: %w", t.current.ID, err)
	}
	upd.Apply(t.current)
	t.current = nil
	return nil
}

// advance closes the current placeholder and opens the next one.
func (t *turn) advance(ctx context.Context, upd domain.MessageUpdate) error {
	if err := t.close(ctx, upd); err != nil {
		return err
	}
	return t.open(ctx)
}

func (t *turn) entry(content string, ct analytics.ContentType) analytics.Entry {
	return analytics.NewEntry(t.userID, t.sessionID, t.agentSessionID, content, ct)
}

// consume fans the event stream out onto placeholders in arrival order.
func (t *turn) consume(ctx context.Context, events iter.Seq2[*agent.Event, error]) error {
	for ev, err := range events {
		if err != nil {
			return fmt.Errorf("runtime stream: %w", err)
		}
		if err := t.handleEvent(ctx, ev); err != nil {
			return err
		}
	}
	if t.current != nil {
		return fmt.Errorf("%w: %s", ErrStreamEndedOpen, t.current.ID)
	}
	return nil
}

func (t *turn) handleEvent(ctx context.Context, ev *agent.Event) error {
	if ev == nil {
		return nil
	}
	for _, p := range ev.Parts {
		metrics.StreamParts.WithLabelValues(p.Kind.String()).Inc()

		switch p.Kind {
		case agent.PartText:
			if err := t.ensureOpen(ctx); err != nil {
				return err
			}
			var err error
			if len(ev.Parts) == 1 {
				// direct answer
				err = t.close(ctx, domain.Completed(p.Text))
			} else {
				err = t.advance(ctx, domain.Completed(p.Text))
			}
			if err != nil {
				return err
			}
			t.o.sink.Log(ctx, t.entry(p.Text, analytics.ContentResponse).WithMeta("author", ev.Author))

		case agent.PartFunctionCall:
			// Resolve the hand-off before writing so an unknown agent leaves the placeholder open.
			target, handoff, err := p.Call.HandoffTarget()
			if err != nil {
				return err
			}
			var next string
			if handoff {
				if next, err = domain.AgentID(target).DisplayName(); err != nil {
					return fmt.Errorf("hand-off: %w", err)
				}
			}
			payload, err := p.Payload()
			if err != nil {
				return err
			}
			if err := t.ensureOpen(ctx); err != nil {
				return err
			}
			if err := t.close(ctx, domain.CompletedWithCall(payload)); err != nil {
				return err
			}
			if handoff {
				t.logger.Info("Agent hand-off", "agent", target, "display_name", next)
				t.agentName = next
			}
			if err := t.open(ctx); err != nil {
				return err
			}
			t.o.sink.Log(ctx, t.entry("", analytics.ContentFunctionCall).WithMeta("function_call", p.Call))

		case agent.PartFunctionResponse:
			payload, err := p.Payload()
			if err != nil {
				return err
			}
			if err := t.ensureOpen(ctx); err != nil {
				return err
			}
			if err := t.advance(ctx, domain.CompletedWithResponse(payload)); err != nil {
				return err
			}
			t.o.sink.Log(ctx, t.entry("", analytics.ContentFunctionResponse).WithMeta("function_response", p.Response))

		default:
			return fmt.Errorf("%w: part kind %d", agent.ErrMalformedEvent, p.Kind)
		}
	}
	return nil
}
