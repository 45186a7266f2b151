// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jolks/persona-agent/internal/logging"
	"github.com/jolks/persona-agent/internal/persona"
)

// ErrMaxRoundsExceeded is returned when the model keeps requesting tools
// after the configured number of tool rounds.
var ErrMaxRoundsExceeded = errors.New("tool loop exceeded maximum rounds")

// State is the conversation loop's position in a turn.
type State int

const (
	StateAwaitingInference State = iota
	StateDispatchingTools
	StateDone
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateAwaitingInference:
		return "awaiting_inference"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateDone:
		return "done"
	case StateGaveUp:
		return "gave_up"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LoopConfig bounds a conversation turn.
type LoopConfig struct {
	Model            string
	MaxToolRounds    int
	InferenceTimeout time.Duration
	ToolTimeout      time.Duration
}

// Turn is the outcome of one user message.
type Turn struct {
	Reply string
	State State
	// Rounds counts inference calls; ToolRounds counts dispatch phases.
	Rounds     int
	ToolRounds int
	ToolCalls  int
	// Messages is the sequence submitted to the last inference call,
	// starting with the system message.
	Messages []Message
}

// Agent runs the tool-augmented conversation loop on behalf of a persona.
// It holds no per-conversation state and may serve concurrent turns.
type Agent struct {
	provider ChatProvider
	registry *Registry
	persona  *persona.Context
	cfg      LoopConfig
	logger   *logging.Logger
}

// NewAgent creates an agent. registry should be frozen before the first
// call to Chat.
func NewAgent(provider ChatProvider, registry *Registry, pc *persona.Context, cfg LoopConfig, logger *logging.Logger) *Agent {
	if cfg.MaxToolRounds < 1 {
		cfg.MaxToolRounds = 1
	}
	return &Agent{
		provider: provider,
		registry: registry,
		persona:  pc,
		cfg:      cfg,
		logger:   logger,
	}
}

// Chat answers message in the context of history. history is copied, never
// modified. On an inference error the partial conversation is discarded and
// a nil Turn is returned. When the round cap is hit the Turn is returned
// together with ErrMaxRoundsExceeded.
func (a *Agent) Chat(ctx context.Context, message string, history []Message) (*Turn, error) {
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: persona.SystemPrompt(a.persona)})
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: message})

	defs := a.registry.Definitions()
	turn := &Turn{State: StateAwaitingInference}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("conversation cancelled: %w", err)
		}

		resp, err := a.infer(ctx, msgs, defs)
		turn.Rounds++
		if err != nil {
			a.logger.Errorf("Inference failed on round %d: %v", turn.Rounds, err)
			return nil, fmt.Errorf("inference round %d: %w", turn.Rounds, err)
		}

		if resp.FinishReason != FinishReasonToolCalls || len(resp.ToolCalls) == 0 {
			turn.State = StateDone
			turn.Reply = resp.Content
			turn.Messages = msgs
			a.logger.Debugf("Turn done after %d rounds and %d tool calls", turn.Rounds, turn.ToolCalls)
			return turn, nil
		}

		if turn.ToolRounds >= a.cfg.MaxToolRounds {
			turn.State = StateGaveUp
			turn.Messages = msgs
			a.logger.Warnf("Giving up after %d tool rounds", turn.ToolRounds)
			return turn, fmt.Errorf("%w (%d)", ErrMaxRoundsExceeded, a.cfg.MaxToolRounds)
		}

		turn.State = StateDispatchingTools
		msgs = append(msgs, *resp)
		a.logger.Debugf("Dispatching %d tool calls in round %d", len(resp.ToolCalls), turn.Rounds)
		for _, call := range resp.ToolCalls {
			res := a.dispatch(ctx, call)
			msgs = append(msgs, Message{
				Role:       RoleTool,
				Content:    res.Content,
				ToolCallID: call.ID,
			})
			turn.ToolCalls++
		}
		turn.ToolRounds++
		turn.State = StateAwaitingInference
	}
}

func (a *Agent) infer(ctx context.Context, msgs []Message, defs []ToolDefinition) (*Message, error) {
	if a.cfg.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.InferenceTimeout)
		defer cancel()
	}

	resp, err := a.provider.CreateCompletion(ctx, a.cfg.Model, msgs[0].Content, msgs[1:], defs)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("provider returned no message")
	}
	return resp, nil
}

func (a *Agent) dispatch(ctx context.Context, call ToolCall) DispatchResult {
	if a.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ToolTimeout)
		defer cancel()
	}

	a.logger.Infof("Tool called: %s", call.Name)
	res := a.registry.Dispatch(ctx, call)
	if res.Err != nil {
		a.logger.Warnf("Tool %s failed: %v", call.Name, res.Err)
	}
	return res
}

// ValidateTranscript checks that every tool message answers a tool call
// made by an earlier assistant message.
func ValidateTranscript(msgs []Message) error {
	seen := make(map[string]bool)
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleUser:
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				seen[tc.ID] = true
			}
		case RoleTool:
			if m.ToolCallID == "" {
				return fmt.Errorf("message %d: tool message without tool_call_id", i)
			}
			if !seen[m.ToolCallID] {
				return fmt.Errorf("message %d: tool_call_id %s does not match an earlier tool call", i, m.ToolCallID)
			}
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return nil
}
