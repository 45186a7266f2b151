// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jolks/persona-agent/internal/errors"
	"github.com/jolks/persona-agent/internal/logging"
	"github.com/jolks/persona-agent/internal/model"
)

// Chatter answers one user message. *Agent is the production implementation.
type Chatter interface {
	Chat(ctx context.Context, message string, history []Message) (*Turn, error)
}

// TurnExecutor runs each user message as an independent, time-bounded unit
// of work and keeps an audit record of it.
type TurnExecutor struct {
	chatter Chatter
	store   model.TurnStore
	timeout time.Duration
	logger  *logging.Logger
}

// NewTurnExecutor creates a turn executor. store may be nil.
func NewTurnExecutor(chatter Chatter, store model.TurnStore, timeout time.Duration, logger *logging.Logger) *TurnExecutor {
	return &TurnExecutor{
		chatter: chatter,
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// Execute answers message. The returned record is always non-nil once
// input validation passes; the Turn is nil when the turn failed outright.
func (te *TurnExecutor) Execute(ctx context.Context, message string, history []Message) (*model.TurnRecord, *Turn, error) {
	if strings.TrimSpace(message) == "" {
		return nil, nil, errors.InvalidInput("message is required")
	}
	if err := ValidateTranscript(history); err != nil {
		return nil, nil, errors.InvalidInput(fmt.Sprintf("history: %v", err))
	}

	record := &model.TurnRecord{
		ID:        uuid.NewString(),
		Message:   message,
		StartTime: time.Now(),
	}
	logger := te.logger.WithField("turn_id", record.ID)
	logger.Infof("Handling message (%d bytes, %d history messages)", len(message), len(history))

	execCtx := ctx
	if te.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, te.timeout)
		defer cancel()
	}

	turn, err := te.chatter.Chat(execCtx, message, history)

	record.EndTime = time.Now()
	record.Duration = record.EndTime.Sub(record.StartTime).String()
	if turn != nil {
		record.Reply = turn.Reply
		record.Rounds = turn.Rounds
		record.ToolCalls = turn.ToolCalls
	}
	if err != nil {
		record.Error = err.Error()
		logger.Errorf("Turn failed after %s: %v", record.Duration, err)
	} else {
		logger.Infof("Turn completed in %s with %d rounds", record.Duration, record.Rounds)
	}

	model.PersistAndLogTurn(te.store, record, logger)

	return record, turn, err
}
