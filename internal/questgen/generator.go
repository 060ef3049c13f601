// Package questgen creates vetted daily quests with a critique/revise loop.
package questgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/proxima/internal/metrics"
	"github.com/ashureev/proxima/internal/refine"
	"github.com/ashureev/proxima/internal/relational"
)

// ExitLoopTool is the tool the reviser calls to accept a quest.
const ExitLoopTool = "exit_loop"

// ErrInvalidQuest is returned when the final draft is not a usable quest.
var ErrInvalidQuest = errors.New("invalid quest draft")

var exitLoopInfo = &schema.ToolInfo{
	Name: ExitLoopTool,
	Desc: "Signals that the daily quest is complete. Call it only when no further revision is needed.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"completed_quest": {
			Type:     schema.String,
			Desc:     "The accepted quest JSON.",
			Required: true,
		},
	}),
}

// Recall reads the user context the creator needs.
type Recall interface {
	SearchCareer(ctx context.Context, userID string) (string, error)
	SearchMemory(ctx context.Context, userID string) (string, error)
}

// TaskStore persists accepted quests.
type TaskStore interface {
	AddTask(ctx context.Context, task *relational.Task) (string, error)
}

// Models holds the chat models for each role. Critic and Reviser default to Creator.
type Models struct {
	Creator model.BaseChatModel
	Critic  model.BaseChatModel
	Reviser model.BaseChatModel
}

// Generator creates and stores daily quests.
type Generator struct {
	models        Models
	recall        Recall
	tasks         TaskStore
	maxIterations int
	logger        *slog.Logger
}

// NewGenerator creates a quest generator.
func NewGenerator(models Models, recall Recall, tasks TaskStore, maxIterations int, logger *slog.Logger) (*Generator, error) {
	if models.Creator == nil {
		return nil, errors.New("creator model is required")
	}
	if models.Critic == nil {
		models.Critic = models.Creator
	}
	if models.Reviser == nil {
		models.Reviser = models.Creator
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		models:        models,
		recall:        recall,
		tasks:         tasks,
		maxIterations: maxIterations,
		logger:        logger,
	}, nil
}

// Create generates one quest for userID, stores it and returns it.
func (g *Generator) Create(ctx context.Context, userID string) (*relational.Task, error) {
	var career, memory string
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		career, err = g.recall.SearchCareer(egCtx, userID)
		return err
	})
	eg.Go(func() error {
		var err error
		memory, err = g.recall.SearchMemory(egCtx, userID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("recall quest context: %w", err)
	}

	loop := refine.Loop[string, string]{
		Draft: func(ctx context.Context) (string, error) {
			return g.generate(ctx, g.models.Creator, creatorInstruction,
				"# Career goals\n"+career+"\n\n# Memory\n"+memory)
		},
		Critique: func(ctx context.Context, draft string) (string, error) {
			return g.generate(ctx, g.models.Critic, criticInstruction, draft)
		},
		Revise:        g.revise,
		MaxIterations: g.maxIterations,
	}

	res, err := loop.Run(ctx)
	metrics.RefinementRounds.WithLabelValues(strconv.FormatBool(res.Accepted)).Observe(float64(res.Rounds))
	if err != nil {
		return nil, fmt.Errorf("refine quest: %w", err)
	}
	g.logger.Info("Quest refined", "user_id", userID, "rounds", res.Rounds, "accepted", res.Accepted)

	task, err := parseQuest(res.Draft)
	if err != nil {
		return nil, err
	}
	task.UserID = userID
	if _, err := g.tasks.AddTask(ctx, task); err != nil {
		return nil, fmt.Errorf("store quest: %w", err)
	}
	return task, nil
}

func (g *Generator) generate(ctx context.Context, m model.BaseChatModel, instruction, input string, opts ...model.Option) (string, error) {
	out, err := g.call(ctx, m, instruction, input, opts...)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Content)
	if text == "" {
		return "", errors.New("model returned empty content")
	}
	return text, nil
}

func (g *Generator) call(ctx context.Context, m model.BaseChatModel, instruction, input string, opts ...model.Option) (*schema.Message, error) {
	out, err := m.Generate(ctx, []*schema.Message{
		schema.SystemMessage(instruction),
		schema.UserMessage(input),
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if out == nil {
		return nil, errors.New("model returned no message")
	}
	return out, nil
}

// revise asks the reviser for a new draft. An exit_loop tool call accepts.
func (g *Generator) revise(ctx context.Context, draft, criticism string) (refine.Revision[string], error) {
	input := "# Quest\n" + draft + "\n\n# Review\n" + criticism
	out, err := g.call(ctx, g.models.Reviser, reviserInstruction, input, model.WithTools([]*schema.ToolInfo{exitLoopInfo}))
	if err != nil {
		return refine.Revision[string]{}, err
	}

	for _, tc := range out.ToolCalls {
		if tc.Function.Name != ExitLoopTool {
			continue
		}
		accepted := draft
		var args struct {
			CompletedQuest string `json:"completed_quest"`
		}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err == nil && strings.TrimSpace(args.CompletedQuest) != "" {
			accepted = strings.TrimSpace(args.CompletedQuest)
		}
		return refine.Revision[string]{Draft: accepted, Accept: true}, nil
	}

	revised := strings.TrimSpace(out.Content)
	if revised == "" {
		revised = draft
	}
	return refine.Revision[string]{Draft: revised}, nil
}

type questDraft struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Recommend     json.RawMessage `json:"recommend"`
	Category      string          `json:"category"`
	EstimatedTime int             `json:"estimated_time"`
}

// parseQuest reads a JSON quest, tolerating a fenced code block around it.
func parseQuest(draft string) (*relational.Task, error) {
	text := strings.TrimSpace(draft)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var q questDraft
	if err := json.Unmarshal([]byte(text), &q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuest, err)
	}
	if strings.TrimSpace(q.Title) == "" {
		return nil, fmt.Errorf("%w: missing title", ErrInvalidQuest)
	}
	return &relational.Task{
		Title:         q.Title,
		Description:   q.Description,
		Recommend:     strings.Trim(string(q.Recommend), `"`),
		Category:      q.Category,
		EstimatedTime: q.EstimatedTime,
	}, nil
}
