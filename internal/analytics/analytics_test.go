package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all.ndjson")
	logger, err := NewFileLogger(FileLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, nil)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	logger.Log(context.Background(), NewEntry("user-1", "sess-1", "rt-1", "hello", ContentUser))
	logger.Log(context.Background(), NewEntry("user-1", "sess-1", "rt-1", "hi there", ContentResponse))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "user-1", "sess-1.ndjson"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got Entry
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "hi there" || got.ContentType != ContentResponse || got.AgentSessionID != "rt-1" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.ID == "" {
		t.Fatal("expected entry id to be populated")
	}
	if n := len(readLines(t, global)); n != 2 {
		t.Fatalf("expected 2 global lines, got %d", n)
	}
}

func TestFileLoggerDropsAfterClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewFileLogger(FileLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	_ = logger.Close()
	_ = logger.Close()

	logger.Log(context.Background(), NewEntry("u", "s", "", "late", ContentUser))
	if _, err := os.Stat(filepath.Join(dir, "u", "s.ndjson")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no file after close, got %v", err)
	}
}

func TestSafeSegment(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"user-1":    "user-1",
		"../../etc": "______etc",
		"":          "unknown",
		"a/b":       "a_b",
	}
	for in, want := range tests {
		if got := safeSegment(in); got != want {
			t.Errorf("safeSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *recordingSink) Log(_ context.Context, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := &recordingSink{}, &recordingSink{}
	Multi{a, nil, b, Noop{}}.Log(context.Background(), NewEntry("u", "s", "", "x", ContentGreet))
	if len(a.entries) != 1 || len(b.entries) != 1 {
		t.Fatalf("expected both sinks to receive the entry, got %d and %d", len(a.entries), len(b.entries))
	}
}

func TestWithMetaCopies(t *testing.T) {
	t.Parallel()

	base := NewEntry("u", "s", "", "x", ContentFunctionCall)
	first := base.WithMeta("author", "proxima_agent")
	second := first.WithMeta("part", 1)
	if len(first.Meta) != 1 || len(second.Meta) != 2 || base.Meta != nil {
		t.Fatalf("WithMeta should not mutate receivers: %v %v %v", base.Meta, first.Meta, second.Meta)
	}
}

type failingWriter struct {
	calls    int
	deadline bool
}

func (f *failingWriter) InsertChatLog(ctx context.Context, _ Entry) error {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return errors.New("insert failed")
}

func TestTableSinkSwallowsErrors(t *testing.T) {
	t.Parallel()

	w := &failingWriter{}
	sink := NewTableSink(w, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Log(ctx, NewEntry("u", "s", "", "x", ContentUser))
	if w.calls != 1 {
		t.Fatalf("expected one insert, got %d", w.calls)
	}
	if !w.deadline {
		t.Fatal("expected insert to be bounded by a deadline")
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
