package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/bassamadnan/delivnotify/extract"
	"github.com/bassamadnan/delivnotify/mailbox"
	"github.com/bassamadnan/delivnotify/metrics"
	"github.com/bassamadnan/delivnotify/notify"
)

// Mailbox is the part of a mail backend the runner needs.
type Mailbox interface {
	Search(ctx context.Context, q mailbox.Query) (iter.Seq[mailbox.RawEmail], error)
	MarkRead(ctx context.Context, id string) error
}

// Sender posts one rendered notification.
type Sender interface {
	Send(ctx context.Context, markdown string) error
}

// Candidate is a message worth notifying about, ready to send.
type Candidate struct {
	Email    mailbox.RawEmail
	Record   extract.Record
	Markdown string
}

// Summary counts what one run did. Sent is the processed count.
type Summary struct {
	Found          int
	Skipped        int
	Sent           int
	Failed         int
	MarkReadFailed int
}

func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("found", s.Found),
		zap.Int("skipped", s.Skipped),
		zap.Int("sent", s.Sent),
		zap.Int("failed", s.Failed),
		zap.Int("mark_read_failed", s.MarkReadFailed),
	}
}

// Runner drives one pass over the mailbox: search, extract, notify and
// mark read, one message at a time.
type Runner struct {
	mailbox   Mailbox
	extractor *extract.Extractor
	sender    Sender
	query     mailbox.Query
	metrics   *metrics.Recorder
	logger    *zap.Logger

	// DryRun prints each notification to Out instead of sending it, and
	// leaves messages unread.
	DryRun bool
	Out    io.Writer
}

func NewRunner(mb Mailbox, ex *extract.Extractor, sender Sender, q mailbox.Query, rec *metrics.Recorder, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.New()
	}
	return &Runner{
		mailbox:   mb,
		extractor: ex,
		sender:    sender,
		query:     q,
		metrics:   rec,
		logger:    logger,
		Out:       os.Stdout,
	}
}

// Run processes every message the search returns. Only a failed search is
// returned as an error; per-message failures are logged and counted.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var s Summary
	emails, err := r.mailbox.Search(ctx, r.query)
	if err != nil {
		return s, fmt.Errorf("searching mailbox: %w", err)
	}

	for email := range emails {
		s.Found++
		r.metrics.Found()

		c, ok := r.candidate(email)
		if !ok {
			s.Skipped++
			continue
		}
		if r.DryRun {
			r.print(c)
			continue
		}

		err := r.Deliver(ctx, c)
		var markErr *MarkReadError
		switch {
		case err == nil:
			s.Sent++
		case errors.As(err, &markErr):
			s.Sent++
			s.MarkReadFailed++
		default:
			s.Failed++
		}
	}

	if s.Found == 0 {
		r.logger.Info("No candidate emails",
			zap.String("marker", r.query.SubjectMarker),
			zap.Duration("max_age", r.query.MaxAge),
			zap.Bool("unread_only", r.query.UnreadOnly),
			zap.String("raw_query", r.query.Raw),
		)
	}
	if err := ctx.Err(); err != nil {
		return s, fmt.Errorf("run interrupted: %w", err)
	}
	return s, nil
}

// Collect searches and extracts without sending anything.
func (r *Runner) Collect(ctx context.Context) ([]Candidate, error) {
	emails, err := r.mailbox.Search(ctx, r.query)
	if err != nil {
		return nil, fmt.Errorf("searching mailbox: %w", err)
	}
	var out []Candidate
	for email := range emails {
		r.metrics.Found()
		if c, ok := r.candidate(email); ok {
			out = append(out, c)
		}
	}
	return out, ctx.Err()
}

// Deliver sends one candidate and marks its message read once the send
// succeeded. A failed send returns *SendError and leaves the message
// unread; a failed mark-read returns *MarkReadError.
func (r *Runner) Deliver(ctx context.Context, c Candidate) error {
	log := r.logger.With(zap.String("message_id", c.Email.ID), zap.String("subject", c.Email.Subject))

	start := time.Now()
	err := r.sender.Send(ctx, c.Markdown)
	r.metrics.Notified(err == nil, time.Since(start))
	if err != nil {
		log.Error("Failed to send notification", zap.Error(err))
		return &SendError{MessageID: c.Email.ID, Err: err}
	}
	log.Info("Notification sent",
		zap.String("request_number", c.Record.RequestNumber),
		zap.String("item", c.Record.ItemName),
	)

	if err := r.mailbox.MarkRead(ctx, c.Email.ID); err != nil {
		r.metrics.MarkReadFailed()
		log.Error("Failed to mark message read", zap.Error(err))
		return &MarkReadError{MessageID: c.Email.ID, Err: err}
	}
	log.Debug("Marked message read")
	return nil
}

func (r *Runner) candidate(email mailbox.RawEmail) (Candidate, bool) {
	rec := r.extractor.Extract(email.Subject, email.Body)
	if !rec.Actionable() {
		r.metrics.Skipped()
		r.logger.Info("Skipping message without delivery details",
			zap.String("message_id", email.ID),
			zap.String("subject", email.Subject),
		)
		return Candidate{}, false
	}
	rec.Subject = email.Subject
	rec.Body = email.Body
	return Candidate{Email: email, Record: rec, Markdown: notify.Render(rec)}, true
}

func (r *Runner) print(c Candidate) {
	r.logger.Info("Dry run, not sending", zap.String("message_id", c.Email.ID))
	fmt.Fprintf(r.Out, "----- %s -----\n%s\n\n", c.Email.ID, c.Markdown)
}
