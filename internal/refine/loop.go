// Package refine implements a bounded draft, critique and revise loop.
package refine

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxIterations is the number of critique/revise rounds when unset.
const DefaultMaxIterations = 3

// Revision is the reviser's answer for one round. Draft is the draft to carry
// forward; Accept ends the loop with that draft.
type Revision[D any] struct {
	Draft  D
	Accept bool
}

// Loop refines a draft of type D using criticism of type C.
//
// Critique sees only the latest draft and Revise sees only the latest draft
// plus that round's criticism; neither receives earlier rounds.
type Loop[D, C any] struct {
	Draft         func(ctx context.Context) (D, error)
	Critique      func(ctx context.Context, draft D) (C, error)
	Revise        func(ctx context.Context, draft D, criticism C) (Revision[D], error)
	MaxIterations int
}

// Result reports the final draft and how the loop ended.
type Result[D any] struct {
	Draft D
	// Rounds is the number of completed critique/revise rounds.
	Rounds int
	// Accepted is true when the reviser explicitly accepted the draft.
	// Exhausting all rounds is not a failure; Draft then holds the last revision.
	Accepted bool
}

// Run produces the initial draft once and then applies up to MaxIterations
// rounds. On a collaborator error it returns the latest draft with the error.
func (l Loop[D, C]) Run(ctx context.Context) (Result[D], error) {
	var res Result[D]
	if l.Draft == nil || l.Critique == nil || l.Revise == nil {
		return res, errors.New("refine loop requires draft, critique and revise functions")
	}
	limit := l.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}

	draft, err := l.Draft(ctx)
	if err != nil {
		return res, fmt.Errorf("initial draft: %w", err)
	}
	res.Draft = draft

	for res.Rounds < limit {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		criticism, err := l.Critique(ctx, res.Draft)
		if err != nil {
			return res, fmt.Errorf("critique round %d: %w", res.Rounds+1, err)
		}
		rev, err := l.Revise(ctx, res.Draft, criticism)
		if err != nil {
			return res, fmt.Errorf("revise round %d: %w", res.Rounds+1, err)
		}

		res.Rounds++
		res.Draft = rev.Draft
		if rev.Accept {
			res.Accepted = true
			return res, nil
		}
	}
	return res, nil
}
