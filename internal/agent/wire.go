package agent

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// The runtime speaks structpb.Struct on the wire; these mirror its event shape.
type wireEvent struct {
	Author  string `json:"author"`
	Content *struct {
		Parts []wirePart `json:"parts"`
	} `json:"content"`
}

type wirePart struct {
	Text             *string           `json:"text"`
	FunctionCall     *FunctionCall     `json:"function_call"`
	FunctionResponse *FunctionResponse `json:"function_response"`
}

// decodeEvent converts a wire struct into an Event, expanding each wire part
// into typed parts in the fixed order text, call, response.
func decodeEvent(st *structpb.Struct) (*Event, error) {
	data, err := protojson.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode runtime event: %w", err)
	}
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := &Event{Author: we.Author}
	if we.Content == nil {
		return ev, nil
	}
	for i, wp := range we.Content.Parts {
		parts, err := wp.normalize()
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		ev.Parts = append(ev.Parts, parts...)
	}
	return ev, nil
}

func (wp wirePart) normalize() ([]Part, error) {
	if wp.Text == nil && wp.FunctionCall == nil && wp.FunctionResponse == nil {
		return nil, fmt.Errorf("%w: part has no text, function_call or function_response", ErrMalformedEvent)
	}

	var parts []Part
	if wp.Text != nil && *wp.Text != "" {
		parts = append(parts, TextPart(*wp.Text))
	}
	if wp.FunctionCall != nil {
		if wp.FunctionCall.Name == "" {
			return nil, fmt.Errorf("%w: function_call without name", ErrMalformedEvent)
		}
		parts = append(parts, CallPart(*wp.FunctionCall))
	}
	if wp.FunctionResponse != nil {
		if wp.FunctionResponse.Name == "" {
			return nil, fmt.Errorf("%w: function_response without name", ErrMalformedEvent)
		}
		parts = append(parts, ResponsePart(*wp.FunctionResponse))
	}
	return parts, nil
}

// encodeEvent is the inverse of decodeEvent, used by in-process runtimes and tests.
func encodeEvent(ev *Event) (*structpb.Struct, error) {
	parts := make([]any, 0, len(ev.Parts))
	for _, p := range ev.Parts {
		switch p.Kind {
		case PartText:
			parts = append(parts, map[string]any{"text": p.Text})
		case PartFunctionCall:
			parts = append(parts, map[string]any{"function_call": map[string]any{
				"id": p.Call.ID, "name": p.Call.Name, "args": p.Call.Args,
			}})
		case PartFunctionResponse:
			parts = append(parts, map[string]any{"function_response": map[string]any{
				"id": p.Response.ID, "name": p.Response.Name, "response": p.Response.Response,
			}})
		}
	}
	return structpb.NewStruct(map[string]any{
		"author":  ev.Author,
		"content": map[string]any{"parts": parts},
	})
}
