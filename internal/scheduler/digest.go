// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jolks/persona-agent/internal/logging"
	"github.com/jolks/persona-agent/internal/mailer"
	"github.com/jolks/persona-agent/internal/model"
)

// digestPageSize bounds how many leads and how many questions go into
// one email. A larger backlog is sent as several emails in one run.
const digestPageSize = 100

// DigestJob mails a summary of leads and unanswered questions recorded
// since its last successful run.
type DigestJob struct {
	store  model.DigestSource
	mailer mailer.Sender
	from   string
	to     []string
	name   string
	logger *logging.Logger

	mu        sync.Mutex
	watermark time.Time
}

// NewDigestJob creates a digest job for the named persona. The first run
// covers everything recorded after since.
func NewDigestJob(store model.DigestSource, m mailer.Sender, from string, to []string, persona string, since time.Time, logger *logging.Logger) *DigestJob {
	return &DigestJob{
		store:     store,
		mailer:    m,
		from:      from,
		to:        to,
		name:      persona,
		logger:    logger,
		watermark: since,
	}
}

// Watermark returns the creation time up to which records have been mailed.
func (d *DigestJob) Watermark() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermark
}

// Run is the JobFunc for the digest. It mails everything recorded after the
// watermark, oldest first, one page per email, and advances the watermark
// after each successful send.
func (d *DigestJob) Run(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := d.sendPage(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
		sent++
	}
	if sent == 0 {
		d.logger.Debugf("Digest: nothing new since %s", d.watermark.Format(time.RFC3339))
	}
	return nil
}

// sendPage mails the next page after the watermark. It reports false when
// there was nothing left to send.
func (d *DigestJob) sendPage(ctx context.Context) (bool, error) {
	leads, err := d.store.LeadsAfter(d.watermark, digestPageSize)
	if err != nil {
		return false, fmt.Errorf("list leads: %w", err)
	}
	questions, err := d.store.UnknownQuestionsAfter(d.watermark, digestPageSize)
	if err != nil {
		return false, fmt.Errorf("list unknown questions: %w", err)
	}
	if len(leads) == 0 && len(questions) == 0 {
		return false, nil
	}

	leads, questions, mark := page(leads, questions)

	html, err := mailer.RenderMarkdown(d.markdown(leads, questions))
	if err != nil {
		return false, err
	}
	subject := fmt.Sprintf("%s digest: %d new contacts, %d unanswered questions", d.name, len(leads), len(questions))
	id, err := d.mailer.Send(ctx, mailer.Email{From: d.from, To: d.to, Subject: subject, HTML: html})
	if err != nil {
		return false, fmt.Errorf("send digest: %w", err)
	}

	d.watermark = mark
	d.logger.Infof("Digest %s sent with %d leads and %d questions", id, len(leads), len(questions))
	return true, nil
}

func (d *DigestJob) markdown(leads []*model.Lead, questions []*model.UnknownQuestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s digest\n\n", d.name)
	if len(leads) > 0 {
		b.WriteString("## New contacts\n\n")
		for _, l := range leads {
			fmt.Fprintf(&b, "- **%s** <%s>: %s (%s)\n", l.Name, l.Email, l.Notes, l.CreatedAt.Format(time.RFC1123))
		}
		b.WriteString("\n")
	}
	if len(questions) > 0 {
		b.WriteString("## Unanswered questions\n\n")
		for _, q := range questions {
			fmt.Fprintf(&b, "- %s (%s)\n", q.Question, q.CreatedAt.Format(time.RFC1123))
		}
	}
	return b.String()
}

// page trims two oldest-first batches to a common time window and returns
// the new watermark. A full batch may have more rows behind it, so nothing
// newer than its last row is sent from the other batch either.
func page(leads []*model.Lead, questions []*model.UnknownQuestion) ([]*model.Lead, []*model.UnknownQuestion, time.Time) {
	var bound time.Time
	if len(leads) == digestPageSize {
		bound = leads[len(leads)-1].CreatedAt
	}
	if len(questions) == digestPageSize {
		last := questions[len(questions)-1].CreatedAt
		if bound.IsZero() || last.Before(bound) {
			bound = last
		}
	}

	if !bound.IsZero() {
		for len(leads) > 0 && leads[len(leads)-1].CreatedAt.After(bound) {
			leads = leads[:len(leads)-1]
		}
		for len(questions) > 0 && questions[len(questions)-1].CreatedAt.After(bound) {
			questions = questions[:len(questions)-1]
		}
		return leads, questions, bound
	}

	var latest time.Time
	if len(leads) > 0 {
		latest = leads[len(leads)-1].CreatedAt
	}
	if len(questions) > 0 && questions[len(questions)-1].CreatedAt.After(latest) {
		latest = questions[len(questions)-1].CreatedAt
	}
	return leads, questions, latest
}
