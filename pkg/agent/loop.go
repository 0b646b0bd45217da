// Package agent drives one user request through the reasoning step, tool
// dispatch, and conversation append cycle.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tgokhale/batak/pkg/conversation"
	"github.com/tgokhale/batak/pkg/registry"
)

// Session binds one conversation history to the active tool registry.
// Exactly one exists per process lifetime; it is passed explicitly
// between loop iterations, never held at package scope.
type Session struct {
	ID       string
	History  *conversation.Store
	Registry *registry.Registry
}

// NewSession creates a session with a fresh id.
func NewSession(reg *registry.Registry, history *conversation.Store) *Session {
	return &Session{
		ID:       uuid.NewString(),
		History:  history,
		Registry: reg,
	}
}

// Config holds loop configuration.
type Config struct {
	Reasoner    Reasoner
	Registry    *registry.Registry
	Instruction func() string // system instruction per turn; may change between turns
	Model       string
	Temperature float64
	MaxTokens   int
	MaxTurns    int // reasoning/tool round cap per utterance
	MaxRetries  int
	Logger      zerolog.Logger
}

// Loop runs the request/tool-invocation/response cycle for one session.
// Tool invocation is explicit dispatch: the reasoning step returns either
// final text or structured tool calls, and the loop itself routes those
// through the registry before asking again.
type Loop struct {
	reasoner    Reasoner
	registry    *registry.Registry
	instruction func() string
	model       string
	temperature float64
	maxTokens   int
	maxTurns    int
	maxRetries  int
	logger      zerolog.Logger
}

// NewLoop creates a loop from the given configuration.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}

	instruction := cfg.Instruction
	if instruction == nil {
		instruction = func() string { return "You are a helpful assistant." }
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Loop{
		reasoner:    cfg.Reasoner,
		registry:    cfg.Registry,
		instruction: instruction,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		maxTurns:    maxTurns,
		maxRetries:  maxRetries,
		logger:      cfg.Logger,
	}, nil
}

// Handle processes one user utterance: appends the user turn, runs the
// reasoning/tool cycle to a final answer, appends the assistant turn, and
// returns the answer text. Any returned error is recoverable; nothing
// beyond the user turn has been appended when one occurs.
func (l *Loop) Handle(ctx context.Context, sess *Session, utterance string) (string, error) {
	logger := l.logger.With().Str("session_id", sess.ID).Logger()

	sess.History.Append(conversation.NewTurn(conversation.RoleUser, utterance))

	messages := historyMessages(sess.History.Snapshot())
	tools, err := l.toolSpecs()
	if err != nil {
		return "", fmt.Errorf("build tool specs: %w", err)
	}

	var executed []conversation.ToolCall

	for turn := 0; turn < l.maxTurns; turn++ {
		resp, err := l.complete(ctx, Request{
			Model:        l.model,
			SystemPrompt: l.instruction(),
			Messages:     messages,
			Tools:        tools,
			Temperature:  l.temperature,
			MaxTokens:    l.maxTokens,
		})
		if err != nil {
			return "", &ReasoningError{Provider: l.reasoner.Name(), Err: err}
		}

		if len(resp.ToolCalls) == 0 {
			answer := conversation.NewTurn(conversation.RoleAssistant, resp.Content)
			answer.ToolCalls = executed
			sess.History.Append(answer)

			logger.Debug().
				Int("rounds", turn+1).
				Int("tool_calls", len(executed)).
				Msg("Request completed")
			return resp.Content, nil
		}

		// Fold each tool result into the next request so the model can
		// keep going; dispatch failures become visible results rather
		// than killing the session.
		messages = append(messages, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			out, dispatchErr := l.registry.Dispatch(ctx, tc.Name, tc.Arguments)
			record := conversation.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
				Result:    out,
			}
			if dispatchErr != nil {
				record.Result = dispatchErr.Error()
				record.Failed = true
				logger.Warn().Str("tool", tc.Name).Err(dispatchErr).Msg("Tool dispatch failed")
			}
			executed = append(executed, record)

			messages = append(messages, Message{
				Role:       "tool",
				Content:    record.Result,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", fmt.Errorf("%w (%d)", ErrMaxTurns, l.maxTurns)
}

// complete calls the reasoning step with exponential backoff on retryable
// failures.
func (l *Loop) complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		resp, err := l.reason(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == l.maxRetries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		l.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying reasoning call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", l.maxRetries, lastErr)
}

// reason runs the (possibly blocking) reasoning call on a worker
// goroutine so the loop stays responsive to shutdown signals. Only one
// call is ever outstanding.
func (l *Loop) reason(ctx context.Context, req Request) (*Response, error) {
	type outcome struct {
		resp *Response
		err  error
	}
	ch := make(chan outcome, 1)

	go func() {
		resp, err := l.reasoner.Complete(ctx, req)
		ch <- outcome{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-ch:
		return o.resp, o.err
	}
}

// historyMessages maps the conversation log to reasoning-request
// messages. Tool traffic recorded on past turns stays out of the replay;
// it already shaped the answers that follow it.
func historyMessages(turns []conversation.Turn) []Message {
	messages := make([]Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return messages
}

// toolSpecs converts registry descriptors into the wire shape reasoners
// expect.
func (l *Loop) toolSpecs() ([]ToolSpec, error) {
	descs := l.registry.Descriptors()
	if len(descs) == 0 {
		return nil, nil
	}

	specs := make([]ToolSpec, 0, len(descs))
	for _, desc := range descs {
		schema := map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
		if len(desc.InputSchema) > 0 {
			if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("decode schema for tool %s: %w", desc.Name, err)
			}
		}
		specs = append(specs, ToolSpec{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: schema,
		})
	}
	return specs, nil
}
