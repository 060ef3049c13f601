package agent

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type runtimeService interface{}

type fakeRuntime struct {
	events    []*Event
	streamErr error

	mu        sync.Mutex
	lastQuery map[string]any
}

func (f *fakeRuntime) query() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func (f *fakeRuntime) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*runtimeService)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "CreateSession",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := &structpb.Struct{}
				if err := dec(req); err != nil {
					return nil, err
				}
				userID := req.GetFields()["user_id"].GetStringValue()
				if userID == "" {
					return &structpb.Struct{}, nil
				}
				return structpb.NewStruct(map[string]any{"id": "rt-" + userID})
			},
		}},
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamQuery",
			ServerStreams: true,
			Handler: func(_ any, stream grpc.ServerStream) error {
				req := &structpb.Struct{}
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				f.mu.Lock()
				f.lastQuery = req.AsMap()
				f.mu.Unlock()
				for _, ev := range f.events {
					st, err := encodeEvent(ev)
					if err != nil {
						return err
					}
					if err := stream.SendMsg(st); err != nil {
						return err
					}
				}
				return f.streamErr
			},
		}},
	}
}

func newTestClient(t *testing.T, rt *fakeRuntime) *GrpcClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(rt.serviceDesc(), rt)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGrpcClientConfig("passthrough:///bufnet")
	cfg.ConnectTimeout = 2 * time.Second
	client, err := NewGrpcClient(cfg, slog.Default(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("NewGrpcClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestGrpcClientCreateSession(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeRuntime{})
	id, err := client.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id != "rt-u1" {
		t.Fatalf("unexpected session id %q", id)
	}

	if _, err := client.CreateSession(context.Background(), ""); !errors.Is(err, errMissingSessionID) {
		t.Fatalf("expected errMissingSessionID, got %v", err)
	}
}

func TestGrpcClientStreamQueryYieldsEventsInOrder(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{events: []*Event{
		{Author: "proxima_agent", Parts: []Part{TextPart("one")}},
		{Author: "proxima_agent", Parts: []Part{TextPart("two"), TextPart("three")}},
	}}
	client := newTestClient(t, rt)

	var texts []string
	for ev, err := range client.StreamQuery(context.Background(), "u1", "rt-u1", "hi") {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		for _, p := range ev.Parts {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) != 3 || texts[0] != "one" || texts[2] != "three" {
		t.Fatalf("unexpected texts %v", texts)
	}
	if q := rt.query(); q["message"] != "hi" || q["session_id"] != "rt-u1" {
		t.Fatalf("unexpected query %v", q)
	}
}

func TestGrpcClientStreamQuerySurfacesServerError(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{
		events:    []*Event{{Parts: []Part{TextPart("partial")}}},
		streamErr: status.Error(codes.Unavailable, "runtime down"),
	}
	client := newTestClient(t, rt)

	var events int
	var streamErr error
	for ev, err := range client.StreamQuery(context.Background(), "u1", "rt-u1", "hi") {
		if err != nil {
			streamErr = err
			break
		}
		if ev != nil {
			events++
		}
	}
	if events != 1 {
		t.Fatalf("expected 1 event before failure, got %d", events)
	}
	if status.Code(streamErr) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", streamErr)
	}
}

func TestNewGrpcClientRequiresAddress(t *testing.T) {
	t.Parallel()

	if _, err := NewGrpcClient(GrpcClientConfig{}, nil); err == nil {
		t.Fatal("expected error for empty address")
	}
}
