// Package agent is the client side of the external multi-agent runtime.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned when a runtime event violates the part contract.
var ErrMalformedEvent = errors.New("malformed runtime event")

// TransferToAgent is the function name the runtime uses for agent hand-offs.
const TransferToAgent = "transfer_to_agent"

// PartKind tags the variant held by a Part.
type PartKind int

const (
	PartText PartKind = iota + 1
	PartFunctionCall
	PartFunctionResponse
)

func (k PartKind) String() string {
	switch k {
	case PartText:
		return "text"
	case PartFunctionCall:
		return "function_call"
	case PartFunctionResponse:
		return "function_response"
	default:
		return "unknown"
	}
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// HandoffTarget returns the target agent identifier if the call is a hand-off.
func (c *FunctionCall) HandoffTarget() (string, bool, error) {
	if c == nil || c.Name != TransferToAgent {
		return "", false, nil
	}
	name, ok := c.Args["agent_name"].(string)
	if !ok || name == "" {
		return "", true, fmt.Errorf("%w: %s without agent_name", ErrMalformedEvent, TransferToAgent)
	}
	return name, true, nil
}

// FunctionResponse is the result of a tool invocation.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Part is exactly one of text, function call or function response.
type Part struct {
	Kind     PartKind
	Text     string
	Call     *FunctionCall
	Response *FunctionResponse
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

// CallPart builds a function-call part.
func CallPart(call FunctionCall) Part { return Part{Kind: PartFunctionCall, Call: &call} }

// ResponsePart builds a function-response part.
func ResponsePart(resp FunctionResponse) Part {
	return Part{Kind: PartFunctionResponse, Response: &resp}
}

// Payload returns the JSON payload stored on the message for call/response parts.
func (p Part) Payload() (json.RawMessage, error) {
	var v any
	switch p.Kind {
	case PartFunctionCall:
		v = p.Call
	case PartFunctionResponse:
		v = p.Response
	default:
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind, err)
	}
	return data, nil
}

// Event is one item of the ordered runtime stream for a single invocation.
type Event struct {
	Author string
	Parts  []Part
}
