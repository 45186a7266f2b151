// SPDX-License-Identifier: AGPL-3.0-only

// Package tools defines the side-effect tools the persona agent can call.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jolks/persona-agent/internal/agent"
	"github.com/jolks/persona-agent/internal/errors"
	"github.com/jolks/persona-agent/internal/logging"
	"github.com/jolks/persona-agent/internal/mailer"
	"github.com/jolks/persona-agent/internal/model"
)

const (
	defaultName  = "Name not provided"
	defaultNotes = "not provided"
)

// Notifier queues a push notification without blocking. *notify.Dispatcher
// satisfies it.
type Notifier interface {
	Notify(text string) bool
}

// Deps carries what the tools need. Store and Mailer may be nil.
type Deps struct {
	Notifier Notifier
	Store    model.LeadStore
	Mailer   mailer.Sender
	From     string
	To       []string
	Logger   *logging.Logger
}

// RecordUserDetailsArgs are the arguments to record_user_details.
type RecordUserDetailsArgs struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// RecordUnknownQuestionArgs are the arguments to record_unknown_question.
type RecordUnknownQuestionArgs struct {
	Question string `json:"question"`
}

// SendEmailArgs are the arguments to send_email.
type SendEmailArgs struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

var recorded = map[string]string{"recorded": "ok"}

// RecordUserDetails returns the tool that records a visitor's contact details.
func RecordUserDetails(deps Deps) *agent.Tool {
	return &agent.Tool{
		Name:        "record_user_details",
		Description: "Use this tool to record that a user is interested in being in touch and provided an email address",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"email": map[string]interface{}{
					"type":        "string",
					"description": "The email address of this user",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "The user's name, if they provided it",
				},
				"notes": map[string]interface{}{
					"type":        "string",
					"description": "Any additional information about the conversation that's worth recording to give context",
				},
			},
			"required":             []string{"email"},
			"additionalProperties": false,
		},
		Handler: agent.TypedHandler(func(ctx context.Context, args RecordUserDetailsArgs) (interface{}, error) {
			email := strings.TrimSpace(args.Email)
			if email == "" {
				return nil, errors.InvalidInput("email is required")
			}
			name := strings.TrimSpace(args.Name)
			if name == "" {
				name = defaultName
			}
			notes := strings.TrimSpace(args.Notes)
			if notes == "" {
				notes = defaultNotes
			}

			deps.push(fmt.Sprintf("Recording %s with email %s and notes %s", name, email, notes))
			if deps.Store != nil {
				if err := deps.Store.SaveLead(&model.Lead{Email: email, Name: name, Notes: notes}); err != nil {
					deps.Logger.Warnf("Failed to store lead %s: %v", email, err)
				}
			}
			return recorded, nil
		}),
	}
}

// RecordUnknownQuestion returns the tool that records a question the agent
// could not answer.
func RecordUnknownQuestion(deps Deps) *agent.Tool {
	return &agent.Tool{
		Name:        "record_unknown_question",
		Description: "Always use this tool to record any question that couldn't be answered as you didn't know the answer",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The question that couldn't be answered",
				},
			},
			"required":             []string{"question"},
			"additionalProperties": false,
		},
		Handler: agent.TypedHandler(func(ctx context.Context, args RecordUnknownQuestionArgs) (interface{}, error) {
			question := strings.TrimSpace(args.Question)
			if question == "" {
				return nil, errors.InvalidInput("question is required")
			}

			deps.push(fmt.Sprintf("Recording %s", question))
			if deps.Store != nil {
				if err := deps.Store.SaveUnknownQuestion(&model.UnknownQuestion{Question: question}); err != nil {
					deps.Logger.Warnf("Failed to store unknown question: %v", err)
				}
			}
			return recorded, nil
		}),
	}
}

// SendEmail returns the tool that emails the configured recipients. Bodies
// that are not already HTML are rendered from markdown.
func SendEmail(deps Deps) *agent.Tool {
	return &agent.Tool{
		Name:        "send_email",
		Description: "Send an email with the given subject and HTML body to the site owner",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"subject": map[string]interface{}{
					"type":        "string",
					"description": "The subject line of the email",
				},
				"html_body": map[string]interface{}{
					"type":        "string",
					"description": "The body of the email, as HTML or markdown",
				},
			},
			"required":             []string{"subject", "html_body"},
			"additionalProperties": false,
		},
		Handler: agent.TypedHandler(func(ctx context.Context, args SendEmailArgs) (interface{}, error) {
			if deps.Mailer == nil {
				return nil, fmt.Errorf("email is not configured")
			}
			if strings.TrimSpace(args.HTMLBody) == "" {
				return nil, errors.InvalidInput("html_body is required")
			}

			body := args.HTMLBody
			if !mailer.LooksLikeHTML(body) {
				rendered, err := mailer.RenderMarkdown(body)
				if err != nil {
					return nil, err
				}
				body = rendered
			}

			id, err := deps.Mailer.Send(ctx, mailer.Email{
				From:    deps.From,
				To:      deps.To,
				Subject: args.Subject,
				HTML:    body,
			})
			if err != nil {
				return nil, fmt.Errorf("send email: %w", err)
			}
			deps.Logger.Infof("Sent email %s: %s", id, args.Subject)
			return map[string]string{"status": "success", "id": id}, nil
		}),
	}
}

// Default returns the tools every persona agent carries, plus send_email
// when withEmail is set and a mailer is present.
func Default(deps Deps, withEmail bool) []*agent.Tool {
	tools := []*agent.Tool{
		RecordUserDetails(deps),
		RecordUnknownQuestion(deps),
	}
	if withEmail && deps.Mailer != nil {
		tools = append(tools, SendEmail(deps))
	}
	return tools
}

func (d Deps) push(text string) {
	if d.Notifier == nil {
		d.Logger.Infof("No notifier configured, dropping: %s", text)
		return
	}
	if !d.Notifier.Notify(text) {
		d.Logger.Warnf("Notification dropped: %s", text)
	}
}
