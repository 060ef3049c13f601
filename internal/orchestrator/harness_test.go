package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/proxima/internal/agent"
	"github.com/ashureev/proxima/internal/analytics"
	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/jobs"
	"github.com/ashureev/proxima/internal/store"
	"github.com/ashureev/proxima/internal/trigger"
)

type fakeRuntime struct {
	mu        sync.Mutex
	created   int
	events    []*agent.Event
	streamErr error
	queries   []string
}

func (f *fakeRuntime) CreateSession(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("rt-%d", f.created), nil
}

func (f *fakeRuntime) StreamQuery(_ context.Context, _, _, message string) iter.Seq2[*agent.Event, error] {
	f.mu.Lock()
	f.queries = append(f.queries, message)
	events, streamErr := f.events, f.streamErr
	f.mu.Unlock()

	return func(yield func(*agent.Event, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		if streamErr != nil {
			yield(nil, streamErr)
		}
	}
}

func (f *fakeRuntime) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeRecall struct{}

func (fakeRecall) SearchMemory(context.Context, string) (string, error) { return "MEMORY-BLOCK", nil }
func (fakeRecall) SearchInformation(context.Context, string) (string, error) { return "INFO-BLOCK", nil }
func (fakeRecall) SearchTasks(context.Context, string) (string, error) { return "TASKS-BLOCK", nil }

type fakeJobs struct {
	mu         sync.Mutex
	triggerErr error
	triggered  []jobs.Job
	detached   []jobs.Job
}

func (f *fakeJobs) Trigger(_ context.Context, job jobs.Job, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, job)
	return f.triggerErr
}

func (f *fakeJobs) Detach(job jobs.Job, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, job)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []analytics.Entry
}

func (r *recordingSink) Log(_ context.Context, e analytics.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingSink) types() []analytics.ContentType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]analytics.ContentType, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.ContentType)
	}
	return out
}

type harness struct {
	repo    *store.SQLiteStore
	runtime *fakeRuntime
	jobs    *fakeJobs
	sink    *recordingSink
	orch    *Orchestrator
	now     time.Time

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, events ...*agent.Event) *harness {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "proxima.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	h := &harness{
		repo:    repo,
		runtime: &fakeRuntime{events: events},
		jobs:    &fakeJobs{},
		sink:    &recordingSink{},
		now:     time.Now(),
	}
	orch, err := New(Deps{
		Repo:      repo,
		Runtime:   h.runtime,
		Recall:    fakeRecall{},
		Jobs:      h.jobs,
		Analytics: h.sink,
	}, Config{
		Location:       time.FixedZone("JST", 9*60*60),
		TypingDelayMin: 2 * time.Second,
		TypingDelayMax: 5 * time.Second,
		ClosingPause:   time.Second,
	}, nil,
		WithClock(func() time.Time { return h.now }),
		WithRandom(func(int) int { return 0 }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) addSession(t *testing.T, userID, sessionID, agentSessionID string, createdAt time.Time) {
	t.Helper()
	err := h.repo.CreateSession(context.Background(), &domain.Session{
		UserID: userID, ID: sessionID, AgentSessionID: agentSessionID, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
}

func (h *harness) addUserMessage(t *testing.T, userID, sessionID, content string) string {
	t.Helper()
	msg := &domain.Message{
		UserID: userID, SessionID: sessionID, Role: domain.RoleUser,
		Content: content, Status: domain.StatusSuccess, Agent: domain.DefaultAgentName,
	}
	if err := h.repo.AddMessage(context.Background(), msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	return msg.ID
}

func (h *harness) addPlaceholder(t *testing.T, userID, sessionID string) string {
	t.Helper()
	msg := domain.NewPlaceholder(userID, sessionID, domain.DefaultAgentName, false)
	if err := h.repo.AddMessage(context.Background(), msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	return msg.ID
}

func (h *harness) setUser(t *testing.T, userID string, status domain.FirstGreetStatus) {
	t.Helper()
	if err := h.repo.UpsertUser(context.Background(), &domain.User{UserID: userID, FirstGreet: status}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
}

func (h *harness) handle(userID, sessionID, messageID string) (Outcome, error) {
	return h.orch.Handle(context.Background(), trigger.ForMessage("evt-"+messageID, userID, sessionID, messageID))
}

func (h *harness) modelMessages(t *testing.T, userID, sessionID string) []*domain.Message {
	t.Helper()
	msgs, err := h.repo.ListMessages(context.Background(), userID, sessionID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	var out []*domain.Message
	for _, m := range msgs {
		if m.Role == domain.RoleModel {
			out = append(out, m)
		}
	}
	return out
}

func openCount(msgs []*domain.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Status == domain.StatusThinking {
			n++
		}
	}
	return n
}

func text(parts ...string) *agent.Event {
	ev := &agent.Event{Author: "proxima_agent"}
	for _, p := range parts {
		ev.Parts = append(ev.Parts, agent.TextPart(p))
	}
	return ev
}

func handoff(agentID string) agent.Part {
	return agent.CallPart(agent.FunctionCall{
		ID:   "call-1",
		Name: agent.TransferToAgent,
		Args: map[string]any{"agent_name": agentID},
	})
}

var errRuntimeDown = errors.New("runtime unavailable")
