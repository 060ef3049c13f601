package watch

import (
	"context"
	"log/slog"

	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/store"
)

// observed publishes a Change after every successful message write.
type observed struct {
	store.Repository
	pub Publisher
}

// Observe decorates repo so message writes are published to pub.
func Observe(repo store.Repository, pub Publisher) store.Repository {
	return &observed{Repository: repo, pub: pub}
}

func (o *observed) AddMessage(ctx context.Context, msg *domain.Message) error {
	if err := o.Repository.AddMessage(ctx, msg); err != nil {
		return err
	}
	snapshot := *msg
	o.pub.Publish(ctx, Change{Kind: ChangeAdded, UserID: msg.UserID, SessionID: msg.SessionID, Message: &snapshot})
	return nil
}

func (o *observed) UpdateMessage(ctx context.Context, userID, sessionID, messageID string, upd domain.MessageUpdate) error {
	if err := o.Repository.UpdateMessage(ctx, userID, sessionID, messageID, upd); err != nil {
		return err
	}
	msg, err := o.Repository.GetMessage(ctx, userID, sessionID, messageID)
	if err != nil {
		slog.Warn("Failed to read updated message for watchers",
			"user_id", userID, "session_id", sessionID, "message_id", messageID, "error", err)
		return nil
	}
	o.pub.Publish(ctx, Change{Kind: ChangeUpdated, UserID: userID, SessionID: sessionID, Message: msg})
	return nil
}
