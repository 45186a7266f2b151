// SPDX-License-Identifier: AGPL-3.0-only
package model

import "time"

// TurnRecord is the audit record of one processed user message.
type TurnRecord struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Reply     string    `json:"reply,omitempty"`
	Error     string    `json:"error,omitempty"`
	Rounds    int       `json:"rounds"`
	ToolCalls int       `json:"tool_calls"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`
}

// Lead is a visitor who left contact details.
type Lead struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

// UnknownQuestion is a question the agent could not answer.
type UnknownQuestion struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnStore persists turn audit records.
type TurnStore interface {
	SaveTurn(turn *TurnRecord) error
	GetTurn(id string) (*TurnRecord, error)
}

// LeadStore persists what the side-effect tools record.
type LeadStore interface {
	SaveLead(lead *Lead) error
	ListLeads(since time.Time, limit int) ([]*Lead, error)
	SaveUnknownQuestion(q *UnknownQuestion) error
	ListUnknownQuestions(since time.Time, limit int) ([]*UnknownQuestion, error)
}

// DigestSource walks leads and questions oldest first, so a reader can
// page through a backlog by advancing since to the last record it saw.
type DigestSource interface {
	LeadsAfter(since time.Time, limit int) ([]*Lead, error)
	UnknownQuestionsAfter(since time.Time, limit int) ([]*UnknownQuestion, error)
}

// Store is the full persistence surface.
type Store interface {
	TurnStore
	LeadStore
	DigestSource
	Close() error
}
