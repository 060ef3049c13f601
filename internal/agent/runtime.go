package agent

import (
	"context"
	"iter"
)

// Runtime defines the external agent runtime.
// This interface is implemented by the gRPC client.
type Runtime interface {
	// CreateSession issues a new runtime session for the user.
	CreateSession(ctx context.Context, userID string) (string, error)

	// StreamQuery sends a message on a runtime session and yields its events
	// in the order the runtime produced them.
	StreamQuery(ctx context.Context, userID, agentSessionID, message string) iter.Seq2[*Event, error]
}

// Ensure GrpcClient implements Runtime.
var _ Runtime = (*GrpcClient)(nil)
