package watch

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/store"
)

func newTestRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "watch.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestHubDeliversPerThread(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	_, mine, cancelMine := hub.Subscribe("u1", "s1")
	defer cancelMine()
	_, other, cancelOther := hub.Subscribe("u1", "s2")
	defer cancelOther()

	hub.Publish(context.Background(), Change{Kind: ChangeAdded, UserID: "u1", SessionID: "s1", Message: &domain.Message{ID: "m1"}})

	if c := receive(t, mine); c.Message.ID != "m1" {
		t.Fatalf("unexpected change %+v", c)
	}
	select {
	case c := <-other:
		t.Fatalf("other thread received %+v", c)
	default:
	}
}

func TestHubCancelUnregisters(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	_, ch, cancel := hub.Subscribe("u1", "s1")
	if hub.Subscribers("u1", "s1") != 1 {
		t.Fatal("expected one subscriber")
	}
	cancel()
	cancel()
	if hub.Subscribers("u1", "s1") != 0 {
		t.Fatal("expected no subscribers after cancel")
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	hub.Publish(context.Background(), Change{UserID: "u1", SessionID: "s1"})
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	_, ch, cancel := hub.Subscribe("u1", "s1")
	defer cancel()
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(context.Background(), Change{UserID: "u1", SessionID: "s1"})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected a full buffer of %d, got %d", subscriberBuffer, len(ch))
	}
}

func TestObservePublishesWrites(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	repo := Observe(newTestRepo(t), hub)
	_, ch, cancel := hub.Subscribe("u1", "s1")
	defer cancel()

	ctx := context.Background()
	msg := domain.NewPlaceholder("u1", "s1", domain.DefaultAgentName, true)
	if err := repo.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	added := receive(t, ch)
	if added.Kind != ChangeAdded || added.Message.ID != msg.ID || added.Message.Status != domain.StatusThinking {
		t.Fatalf("unexpected added change %+v", added)
	}

	if err := repo.UpdateMessage(ctx, "u1", "s1", msg.ID, domain.Completed("done")); err != nil {
		t.Fatalf("UpdateMessage failed: %v", err)
	}
	updated := receive(t, ch)
	if updated.Kind != ChangeUpdated || updated.Message.Content != "done" || updated.Message.Status != domain.StatusSuccess {
		t.Fatalf("unexpected updated change %+v", updated.Message)
	}
}

func TestHandlerSendsSnapshotThenChanges(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	base := newTestRepo(t)
	repo := Observe(base, hub)
	ctx := context.Background()

	first := &domain.Message{UserID: "u1", SessionID: "s1", Role: domain.RoleUser, Content: "hi", Status: domain.StatusSuccess}
	if err := repo.AddMessage(ctx, first); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	r := chi.NewRouter()
	r.Handle("/ws/users/{userID}/sessions/{sessionID}", NewHandler(base, hub, nil, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/users/u1/sessions/s1"
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snap frame
	if err := wsjson.Read(dialCtx, conn, &snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != "snapshot" || len(snap.Messages) != 1 || snap.Messages[0].Content != "hi" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	reply := domain.NewPlaceholder("u1", "s1", domain.DefaultAgentName, true)
	if err := repo.AddMessage(ctx, reply); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	var change frame
	if err := wsjson.Read(dialCtx, conn, &change); err != nil {
		t.Fatalf("read change: %v", err)
	}
	if change.Type != "change" || change.Change == nil || change.Change.Message.ID != reply.ID {
		t.Fatalf("unexpected change frame %+v", change)
	}
}

func TestDecodeChangeChecksChannel(t *testing.T) {
	t.Parallel()

	c := Change{Kind: ChangeUpdated, UserID: "u1", SessionID: "s1", Message: &domain.Message{ID: "m1"}}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if channelFor("u1", "s1") != "proxima:thread:u1:s1" {
		t.Fatalf("unexpected channel %q", channelFor("u1", "s1"))
	}
	got, err := decodeChange("proxima:thread:u1:s1", string(data))
	if err != nil || got.Message.ID != "m1" {
		t.Fatalf("decodeChange = %+v, %v", got, err)
	}
	if _, err := decodeChange("proxima:thread:u2:s1", string(data)); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := decodeChange("proxima:thread:u1:s1", `{"user_id":"u1","session_id":"s1"}`); err == nil {
		t.Fatal("expected error for change without message")
	}
	if _, err := decodeChange("proxima:thread:u1:s1", "not json"); err == nil {
		t.Fatal("expected decode error")
	}
}
