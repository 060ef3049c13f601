package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/proxima/internal/agent"
	"github.com/ashureev/proxima/internal/analytics"
	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/jobs"
	"github.com/ashureev/proxima/internal/metrics"
	"github.com/ashureev/proxima/internal/trigger"
)

// runGreeting handles a claimed empty placeholder of a fresh session: the
// scripted onboarding for a new user, or a single greet call otherwise.
// The session is marked greeted afterwards.
func (o *Orchestrator) runGreeting(ctx context.Context, logger *slog.Logger, loc trigger.Locator, v verdict, out *Outcome) error {
	t := o.newTurn(loc, v.msg.Agent, logger)
	t.current = v.msg

	var err error
	if v.user.NeedsOnboarding() {
		out.Variant = VariantOnboarding
		metrics.BootstrapRuns.WithLabelValues(string(VariantOnboarding)).Inc()
		err = o.onboard(ctx, t, v.session, out)
	} else {
		out.Variant = VariantGreet
		metrics.BootstrapRuns.WithLabelValues(string(VariantGreet)).Inc()
		err = o.greet(ctx, t, v.session, out)
	}
	if err != nil {
		return err
	}

	if err := o.repo.MarkSessionGreeted(ctx, loc.UserID, loc.SessionID); err != nil {
		return fmt.Errorf("mark session greeted: %w", err)
	}
	return nil
}

// onboard runs the fixed first-time sequence. Each step finalizes one message
// before the next begins; a failed quest job only changes the text shown.
func (o *Orchestrator) onboard(ctx context.Context, t *turn, session *domain.Session, out *Outcome) error {
	script := o.cfg.Script

	if err := o.repo.UpdateUserProgress(ctx, t.userID, domain.FirstGreetDoing, domain.AccountStatusCreated); err != nil {
		return fmt.Errorf("mark onboarding in progress: %w", err)
	}

	for i, text := range script.Greetings {
		if err := t.advance(ctx, domain.Completed(text)); err != nil {
			return err
		}
		if i < 2 {
			if err := o.sleep(ctx, o.typingDelay()); err != nil {
				return err
			}
		}
	}

	out.enter(StateSessionResolved)
	id, err := o.bindAgentSession(ctx, t.logger, t.userID, t.sessionID, session)
	if err != nil {
		return err
	}
	t.agentSessionID = id

	next := script.QuestCreated
	if err := o.jobs.Trigger(ctx, jobs.CreateQuest, t.userID); err != nil {
		t.logger.Error("create-quest failed", "error", err)
		next = script.QuestFailed
	}
	if err := t.advance(ctx, domain.Completed(next)); err != nil {
		return err
	}

	if err := o.sleep(ctx, o.cfg.ClosingPause); err != nil {
		return err
	}
	if err := t.close(ctx, domain.Completed(script.Closing)); err != nil {
		return err
	}

	o.jobs.Detach(jobs.CrawlEvents, t.userID)
	o.jobs.Detach(jobs.Advice, t.userID)

	if err := o.repo.UpdateUserProgress(ctx, t.userID, domain.FirstGreetDone, ""); err != nil {
		return fmt.Errorf("mark onboarding done: %w", err)
	}
	return nil
}

// greet binds the runtime session, sends the remembered context and renders
// only the first part of each event when it is text. Function calls are ignored.
func (o *Orchestrator) greet(ctx context.Context, t *turn, session *domain.Session, out *Outcome) error {
	target := t.current

	id, err := o.bindAgentSession(ctx, t.logger, t.userID, t.sessionID, session)
	if err != nil {
		return err
	}
	t.agentSessionID = id
	out.enter(StateSessionResolved)

	out.enter(StateRemembering)
	blocks, err := o.remember(ctx, t.userID, t.sessionID)
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}
	content := o.renderContext(t.userID, blocks)
	defer o.sink.Log(ctx, t.entry(content, analytics.ContentGreetInput))

	out.enter(StateInvoking)
	rendered := 0
	out.enter(StateStreaming)
	for ev, err := range o.runtime.StreamQuery(ctx, t.userID, id, content) {
		if err != nil {
			return fmt.Errorf("runtime stream: %w", err)
		}
		if ev == nil || len(ev.Parts) == 0 {
			continue
		}
		first := ev.Parts[0]
		if first.Kind != agent.PartText || first.Text == "" {
			continue
		}
		upd := domain.Completed(first.Text).WithAgent(t.agentName)
		if err := o.repo.UpdateMessage(ctx, t.userID, t.sessionID, target.ID, upd); err != nil {
			return fmt.Errorf("render greeting: %w", err)
		}
		upd.Apply(target)
		rendered++
		o.sink.Log(ctx, t.entry(first.Text, analytics.ContentGreet))
	}
	if rendered == 0 {
		return ErrNoGreeting
	}
	return nil
}

// typingDelay picks a pause in [TypingDelayMin, TypingDelayMax].
func (o *Orchestrator) typingDelay() time.Duration {
	lo, hi := o.cfg.TypingDelayMin, o.cfg.TypingDelayMax
	if hi <= lo {
		return lo
	}
	steps := int((hi-lo)/time.Millisecond) + 1
	return lo + time.Duration(o.intn(steps))*time.Millisecond
}
