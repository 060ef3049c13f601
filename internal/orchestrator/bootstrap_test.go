package orchestrator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/proxima/internal/agent"
	"github.com/ashureev/proxima/internal/analytics"
	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/jobs"
)

func TestOnboardingRunsScriptedSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.setUser(t, "u1", domain.FirstGreetYet)
	h.addSession(t, "u1", "s1", "", h.now)
	id := h.addPlaceholder(t, "u1", "s1")

	out, err := h.handle("u1", "s1", id)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if out.State != StateDone || out.Variant != VariantOnboarding {
		t.Fatalf("unexpected outcome %+v", out)
	}

	script, _ := DefaultScript()
	want := append(append([]string{}, script.Greetings...), script.QuestCreated, script.Closing)
	model := h.modelMessages(t, "u1", "s1")
	if len(model) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(model))
	}
	for i, m := range model {
		if m.Content != want[i] || m.Status != domain.StatusSuccess {
			t.Errorf("message %d = %q (%s), want %q", i, m.Content, m.Status, want[i])
		}
	}
	if model[0].ID != id {
		t.Fatal("the first greeting must reuse the triggering placeholder")
	}

	wantSleeps := []time.Duration{2 * time.Second, 2 * time.Second, time.Second}
	if len(h.sleeps) != len(wantSleeps) {
		t.Fatalf("unexpected sleeps %v", h.sleeps)
	}
	for i := range wantSleeps {
		if h.sleeps[i] != wantSleeps[i] {
			t.Fatalf("sleep %d = %s, want %s", i, h.sleeps[i], wantSleeps[i])
		}
	}

	if len(h.jobs.triggered) != 1 || h.jobs.triggered[0] != jobs.CreateQuest {
		t.Fatalf("unexpected awaited jobs %v", h.jobs.triggered)
	}
	if len(h.jobs.detached) != 2 || h.jobs.detached[0] != jobs.CrawlEvents || h.jobs.detached[1] != jobs.Advice {
		t.Fatalf("unexpected detached jobs %v", h.jobs.detached)
	}
	if h.runtime.created != 1 || h.runtime.queryCount() != 0 {
		t.Fatalf("onboarding binds a session without querying, got created=%d queries=%d",
			h.runtime.created, h.runtime.queryCount())
	}
	if len(h.sink.types()) != 0 {
		t.Fatalf("onboarding writes no analytics, got %v", h.sink.types())
	}

	user, err := h.repo.GetUser(t.Context(), "u1")
	if err != nil || user.FirstGreet != domain.FirstGreetDone || user.Status != domain.AccountStatusCreated {
		t.Fatalf("unexpected user %+v err=%v", user, err)
	}
	session, err := h.repo.GetSession(t.Context(), "u1", "s1")
	if err != nil || !session.Greeted() || session.AgentSessionID != "rt-1" {
		t.Fatalf("unexpected session %+v err=%v", session, err)
	}

	out, err = h.handle("u1", "s1", id)
	if err != nil || !out.Skipped {
		t.Fatalf("retrigger should skip, got %+v err=%v", out, err)
	}
	late := h.addPlaceholder(t, "u1", "s1")
	out, err = h.handle("u1", "s1", late)
	if err != nil || !out.Skipped {
		t.Fatalf("placeholder in a greeted session should skip, got %+v err=%v", out, err)
	}
}

func TestOnboardingQuestFailureChangesText(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.jobs.triggerErr = &jobs.StatusError{Job: jobs.CreateQuest, Status: 500}
	h.setUser(t, "u1", domain.FirstGreetYet)
	h.addSession(t, "u1", "s1", "", h.now)
	id := h.addPlaceholder(t, "u1", "s1")

	if _, err := h.handle("u1", "s1", id); err != nil {
		t.Fatalf("quest failure must not fail onboarding: %v", err)
	}
	script, _ := DefaultScript()
	model := h.modelMessages(t, "u1", "s1")
	if len(model) != 5 || model[3].Content != script.QuestFailed || model[4].Content != script.Closing {
		t.Fatalf("unexpected sequence %d messages", len(model))
	}
	if len(h.jobs.detached) != 2 {
		t.Fatalf("background jobs still fire, got %v", h.jobs.detached)
	}
}

func TestGreetRendersFirstTextPart(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		text("Good morning!", "ignored second part"),
		&agent.Event{Parts: []agent.Part{handoff("career_agent")}},
		text("Ready for today's quests?"),
	)
	h.setUser(t, "u1", domain.FirstGreetDone)
	h.addSession(t, "u1", "s1", "", h.now)
	id := h.addPlaceholder(t, "u1", "s1")

	out, err := h.handle("u1", "s1", id)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if out.Variant != VariantGreet || out.State != StateDone {
		t.Fatalf("unexpected outcome %+v", out)
	}

	model := h.modelMessages(t, "u1", "s1")
	if len(model) != 1 {
		t.Fatalf("greeting renders into the single placeholder, got %d messages", len(model))
	}
	if model[0].Content != "Ready for today's quests?" || model[0].Agent != domain.DefaultAgentName {
		t.Fatalf("unexpected greeting %+v", model[0])
	}

	sent := h.runtime.queries[0]
	if !strings.Contains(sent, "MEMORY-BLOCK") || !strings.Contains(sent, "INFO-BLOCK") || strings.Contains(sent, "$") {
		t.Fatalf("unexpected greet input %q", sent)
	}

	types := h.sink.types()
	want := []analytics.ContentType{analytics.ContentGreet, analytics.ContentGreet, analytics.ContentGreetInput}
	if len(types) != len(want) {
		t.Fatalf("unexpected analytics %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("analytics[%d] = %s, want %s", i, types[i], want[i])
		}
	}

	session, _ := h.repo.GetSession(t.Context(), "u1", "s1")
	if !session.Greeted() {
		t.Fatal("session should be marked greeted")
	}
}

func TestGreetReusesBoundAgentSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, text("Hi again"))
	h.setUser(t, "u1", domain.FirstGreetDone)
	h.addSession(t, "u1", "s1", "rt-existing", h.now)
	id := h.addPlaceholder(t, "u1", "s1")

	if _, err := h.handle("u1", "s1", id); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if h.runtime.created != 0 {
		t.Fatalf("expected no new agent session, got %d", h.runtime.created)
	}
}

func TestGreetingSkippedWithoutFirstGreetStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, text("Hi"))
	h.addSession(t, "u1", "s1", "", h.now)
	id := h.addPlaceholder(t, "u1", "s1")

	out, err := h.handle("u1", "s1", id)
	if err != nil || !out.Skipped {
		t.Fatalf("expected skip for unknown user, got %+v err=%v", out, err)
	}

	h.setUser(t, "u1", domain.FirstGreetAbsent)
	out, err = h.handle("u1", "s1", id)
	if err != nil || !out.Skipped {
		t.Fatalf("expected skip for absent status, got %+v err=%v", out, err)
	}
	if h.runtime.queryCount() != 0 {
		t.Fatal("runtime must not be invoked")
	}
}

func TestGreetWithoutTextFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &agent.Event{Parts: []agent.Part{handoff("quest_agent")}})
	h.setUser(t, "u1", domain.FirstGreetDone)
	h.addSession(t, "u1", "s1", "", h.now)
	id := h.addPlaceholder(t, "u1", "s1")

	out, err := h.handle("u1", "s1", id)
	if !errors.Is(err, ErrNoGreeting) || out.State != StateFailed {
		t.Fatalf("expected ErrNoGreeting, got %+v err=%v", out, err)
	}
	if n := openCount(h.modelMessages(t, "u1", "s1")); n != 1 {
		t.Fatalf("placeholder should stay thinking, got %d open", n)
	}
	session, _ := h.repo.GetSession(t.Context(), "u1", "s1")
	if session.Greeted() {
		t.Fatal("failed greeting must not mark the session")
	}
}

func TestTypingDelayBounds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if got := h.orch.typingDelay(); got != 2*time.Second {
		t.Fatalf("lowest draw = %s, want 2s", got)
	}

	top, err := New(Deps{Repo: h.repo, Runtime: h.runtime, Recall: fakeRecall{}, Jobs: h.jobs},
		Config{TypingDelayMin: 2 * time.Second, TypingDelayMax: 5 * time.Second}, nil,
		WithRandom(func(n int) int { return n - 1 }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := top.typingDelay(); got != 5*time.Second {
		t.Fatalf("highest draw = %s, want 5s", got)
	}

	top.cfg.TypingDelayMax = time.Second
	if got := top.typingDelay(); got != 2*time.Second {
		t.Fatalf("inverted bounds should use the minimum, got %s", got)
	}
}
