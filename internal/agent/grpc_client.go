package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName         = "proxima.agent.v1.AgentRuntime"
	createSessionMethod = "/" + serviceName + "/CreateSession"
	streamQueryMethod   = "/" + serviceName + "/StreamQuery"
)

var streamQueryDesc = &grpc.StreamDesc{
	StreamName:    "StreamQuery",
	ServerStreams: true,
}

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMissingSessionID         = errors.New("runtime returned no session id")
)

// GrpcClient talks to the agent runtime over gRPC using structpb messages.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	cfg    GrpcClientConfig
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// SkipReadyCheck disables the fail-fast connection attempt at startup.
	SkipReadyCheck bool
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient creates a new gRPC client to the agent runtime.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("agent runtime address is required")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent runtime at %s: %w", cfg.Address, err)
	}

	if !cfg.SkipReadyCheck {
		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := waitForReady(connectCtx, conn); err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
			}
			return nil, fmt.Errorf("agent runtime at %s not ready: %w", cfg.Address, err)
		}
	}

	logger.Info("Connected to agent runtime", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// CreateSession issues a new runtime session for the user.
func (c *GrpcClient) CreateSession(ctx context.Context, userID string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{"user_id": userID})
	if err != nil {
		return "", fmt.Errorf("build create session request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, createSessionMethod, req, resp); err != nil {
		return "", fmt.Errorf("create session failed: %w", err)
	}

	id := resp.GetFields()["id"].GetStringValue()
	if id == "" {
		return "", errMissingSessionID
	}
	c.logger.Info("Issued agent session", "user_id", userID, "agent_session_id", id)
	return id, nil
}

// StreamQuery sends message on the runtime session and yields events in order.
func (c *GrpcClient) StreamQuery(ctx context.Context, userID, agentSessionID, message string) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		req, err := structpb.NewStruct(map[string]any{
			"user_id":    userID,
			"session_id": agentSessionID,
			"message":    message,
		})
		if err != nil {
			yield(nil, fmt.Errorf("build stream query request: %w", err))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := c.conn.NewStream(ctx, streamQueryDesc, streamQueryMethod)
		if err != nil {
			yield(nil, fmt.Errorf("stream query request failed: %w", err))
			return
		}
		if err := stream.SendMsg(req); err != nil {
			yield(nil, fmt.Errorf("send stream query: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("close stream query send: %w", err))
			return
		}

		for {
			raw := &structpb.Struct{}
			err := stream.RecvMsg(raw)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("stream query error: %w", err))
				return
			}

			ev, err := decodeEvent(raw)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
