package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/proxima/internal/domain"
)

// sessionSeparator separates the transcripts of different sessions.
const sessionSeparator = "\n------\n"

// transcriptReads bounds concurrent thread reads during context assembly.
const transcriptReads = 4

// memoryBlocks are the three opaque texts produced by context assembly.
type memoryBlocks struct {
	Preferences string
	Theme       string
	PastChats   string
}

// remember reads long-term memory, one randomly chosen theme block and the
// transcripts of the user's other recent sessions.
func (o *Orchestrator) remember(ctx context.Context, userID, sessionID string) (memoryBlocks, error) {
	var b memoryBlocks
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error
		b.Preferences, err = o.recall.SearchMemory(ctx, userID)
		if err != nil {
			return fmt.Errorf("search memory: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		var err error
		if o.intn(2) == 0 {
			b.Theme, err = o.recall.SearchInformation(ctx, userID)
		} else {
			b.Theme, err = o.recall.SearchTasks(ctx, userID)
		}
		if err != nil {
			return fmt.Errorf("search theme: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		var err error
		b.PastChats, err = o.pastChats(ctx, userID, sessionID)
		return err
	})

	if err := eg.Wait(); err != nil {
		return memoryBlocks{}, err
	}
	return b, nil
}

// pastChats renders sessions created within the remember window, excluding
// the current one, oldest session first.
func (o *Orchestrator) pastChats(ctx context.Context, userID, sessionID string) (string, error) {
	since := o.now().Add(-o.cfg.RememberWindow)
	sessions, err := o.repo.ListSessionsSince(ctx, userID, since)
	if err != nil {
		return "", fmt.Errorf("list recent sessions: %w", err)
	}

	others := make([]*domain.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ID != sessionID {
			others = append(others, s)
		}
	}

	transcripts := make([]string, len(others))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(transcriptReads)
	for i, s := range others {
		eg.Go(func() error {
			msgs, err := o.repo.ListMessages(ctx, userID, s.ID)
			if err != nil {
				return fmt.Errorf("list messages of session %s: %w", s.ID, err)
			}
			transcripts[i] = o.formatTranscript(msgs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	nonEmpty := transcripts[:0]
	for _, t := range transcripts {
		if t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	return strings.Join(nonEmpty, sessionSeparator), nil
}

func (o *Orchestrator) formatTranscript(msgs []*domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			m.CreatedAt.In(o.cfg.Location).Format("2006-01-02 15:04"), m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}

// renderContext splices the blocks into the information template.
func (o *Orchestrator) renderContext(userID string, b memoryBlocks) string {
	r := strings.NewReplacer(
		"$DATETIME$", o.now().In(o.cfg.Location).Format("2006-01-02 15:04:05"),
		"$USER_ID$", userID,
		"$PREFERENCES$", b.Preferences,
		"$THEME_CONTENT$", b.Theme,
		"$PAST_CHATS_TEXT$", b.PastChats,
	)
	return r.Replace(o.cfg.Script.InformationTemplate)
}
