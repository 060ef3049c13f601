package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownAgent is returned for agent identifiers outside the closed set.
var ErrUnknownAgent = errors.New("unknown agent identifier")

// AgentID identifies a sub-agent of the runtime.
type AgentID string

const (
	AgentProxima AgentID = "proxima_agent"
	AgentCareer  AgentID = "career_agent"
	AgentQuest   AgentID = "quest_agent"
)

// DefaultAgentName is the display name used before any hand-off.
const DefaultAgentName = "Misaki"

// DisplayName maps the identifier to the name shown on placeholders.
func (a AgentID) DisplayName() (string, error) {
	switch a {
	case AgentProxima:
		return "Misaki", nil
	case AgentCareer:
		return "Reika", nil
	case AgentQuest:
		return "Kaede", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, string(a))
	}
}
