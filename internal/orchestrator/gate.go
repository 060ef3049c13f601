package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/metrics"
	"github.com/ashureev/proxima/internal/store"
	"github.com/ashureev/proxima/internal/trigger"
)

// verdict is the idempotency gate's decision for one trigger.
type verdict struct {
	proceed bool
	reason  string
	msg     *domain.Message
	// user and session are loaded for the greeting path only.
	user    *domain.User
	session *domain.Session
}

func skip(msg *domain.Message, reason string) verdict {
	return verdict{reason: reason, msg: msg}
}

// admit decides from document state whether the trigger is new work and, if
// so, claims the message before anything else is written. The claim is never
// released.
func (o *Orchestrator) admit(ctx context.Context, loc trigger.Locator) (verdict, error) {
	msg, err := o.repo.GetMessage(ctx, loc.UserID, loc.SessionID, loc.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.GateDecisions.WithLabelValues("unknown", "skip").Inc()
		return skip(nil, "message not found"), nil
	}
	if err != nil {
		return verdict{}, fmt.Errorf("read message: %w", err)
	}

	v, err := o.inspect(ctx, loc, msg)
	if err != nil {
		metrics.GateDecisions.WithLabelValues(string(msg.Role), "error").Inc()
		return verdict{}, err
	}
	if !v.proceed {
		metrics.GateDecisions.WithLabelValues(string(msg.Role), "skip").Inc()
		return v, nil
	}

	won, err := o.repo.ClaimMessage(ctx, loc.UserID, loc.SessionID, loc.MessageID)
	if err != nil {
		metrics.GateDecisions.WithLabelValues(string(msg.Role), "error").Inc()
		return verdict{}, fmt.Errorf("claim message: %w", err)
	}
	if !won {
		metrics.GateDecisions.WithLabelValues(string(msg.Role), "skip").Inc()
		return skip(msg, "claimed by a concurrent delivery"), nil
	}
	msg.Processing = true
	metrics.GateDecisions.WithLabelValues(string(msg.Role), "proceed").Inc()
	return v, nil
}

// inspect applies the per-role rules without writing.
func (o *Orchestrator) inspect(ctx context.Context, loc trigger.Locator, msg *domain.Message) (verdict, error) {
	switch msg.Role {
	case domain.RoleUser:
		if msg.Processing {
			return skip(msg, "already claimed"), nil
		}
		return verdict{proceed: true, msg: msg}, nil

	case domain.RoleModel:
		if !msg.IsPlaceholder() {
			return skip(msg, "model message is not an empty placeholder"), nil
		}
		if msg.Processing {
			return skip(msg, "placeholder owned by a running turn"), nil
		}
		session, err := o.repo.GetSession(ctx, loc.UserID, loc.SessionID)
		if err != nil {
			return verdict{}, fmt.Errorf("read session: %w", err)
		}
		if session.Greeted() {
			return skip(msg, "session already greeted"), nil
		}
		user, err := o.repo.GetUser(ctx, loc.UserID)
		if err != nil {
			return verdict{}, fmt.Errorf("read user: %w", err)
		}
		if user == nil || user.FirstGreet == domain.FirstGreetAbsent {
			return skip(msg, "first greet status not set"), nil
		}
		return verdict{proceed: true, msg: msg, user: user, session: session}, nil

	default:
		return skip(msg, "unknown role"), nil
	}
}
