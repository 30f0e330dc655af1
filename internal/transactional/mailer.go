package transactional

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jawr/mxrelay/internal/account"
	"github.com/jawr/mxrelay/internal/address"
	"github.com/jawr/mxrelay/internal/headers"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/jawr/mxrelay/internal/scheduler"
	"github.com/jawr/mxrelay/internal/sender"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	HookSend  = "mail.send"
	HookBatch = "mail.batch"

	DefaultSendDelay     = 2 * time.Second
	DefaultBatchSize     = 10
	DefaultBatchInterval = 60 * time.Second
)

var ErrNoRecipients = errors.New("No valid recipients found")

// Scheduler is the part of the task queue the mailer needs
type Scheduler interface {
	DeferOnce(hook string, args interface{}, delay time.Duration) (scheduler.Task, error)
	Handle(hook string, h scheduler.Handler)
}

// Dispatcher delivers a resolved request and records the outcome
type Dispatcher interface {
	Dispatch(ctx context.Context, req sender.Request) sender.Result
}

type Options struct {
	SendDelay     time.Duration
	BatchSize     int
	BatchInterval time.Duration
}

// Mailer takes over outgoing mail from the host: it logs each message
// as pending and defers delivery to the scheduler
type Mailer struct {
	state      *account.State
	store      logger.Store
	scheduler  Scheduler
	dispatcher Dispatcher
	log        zerolog.Logger
	opts       Options
}

func NewMailer(state *account.State, store logger.Store, sched Scheduler, dispatcher Dispatcher, opts Options, log zerolog.Logger) *Mailer {
	if opts.SendDelay < 0 {
		opts.SendDelay = 0
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = DefaultBatchInterval
	}

	return &Mailer{
		state:      state,
		store:      store,
		scheduler:  sched,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "mailer").Logger(),
		opts:       opts,
	}
}

// Register installs the mail hooks on the scheduler
func (m *Mailer) Register() {
	m.scheduler.Handle(HookSend, m.handleSend)
	m.scheduler.Handle(HookBatch, m.handleBatch)
}

// Mail logs the message as pending and schedules it. It reports whether
// the message was queued; delivery errors only show in the log.
func (m *Mailer) Mail(ctx context.Context, msg Message) bool {
	_, ok := m.Queue(ctx, msg)
	return ok
}

// Queue is Mail that also returns the id of the log row, 0 when the row
// could not be created
func (m *Mailer) Queue(ctx context.Context, msg Message) (int64, bool) {
	to := address.Normalize(msg.To)
	header := headers.Interpret(msg.Headers)

	logID := m.createLog(ctx, msg.Subject, to, header, msg.content())

	req := sender.Request{
		To:           to,
		Cc:           msg.Cc,
		Bcc:          msg.Bcc,
		Subject:      msg.Subject,
		HTML:         msg.HTML,
		Text:         msg.Text,
		Header:       header,
		Attachments:  msg.Attachments,
		FromOverride: msg.FromOverride,
		LogID:        logID,
	}

	if _, err := m.scheduler.DeferOnce(HookSend, req, m.opts.SendDelay); err != nil {
		m.log.Error().Err(err).Int64("log_id", logID).Msg("schedule send")
		if logID > 0 {
			if uerr := m.store.UpdateStatus(ctx, logID, logger.StatusFailed, err.Error(), logger.Extra{}); uerr != nil {
				m.log.Error().Err(uerr).Int64("log_id", logID).Msg("mark log entry failed")
			}
		}
		return logID, false
	}

	return logID, true
}

// Broadcast splits recipients into chunks and schedules one batch task
// per chunk, spaced by the batch interval. It returns the task count.
func (m *Mailer) Broadcast(ctx context.Context, b Batch) (int, error) {
	recipients := address.Normalize(b.Recipients)
	if len(recipients) == 0 {
		return 0, ErrNoRecipients
	}

	var tasks int
	for idx, start := 0, 0; start < len(recipients); idx, start = idx+1, start+m.opts.BatchSize {
		end := start + m.opts.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		chunk := b
		chunk.Recipients = recipients[start:end]

		delay := time.Duration(idx) * m.opts.BatchInterval
		if _, err := m.scheduler.DeferOnce(HookBatch, chunk, delay); err != nil {
			return tasks, errors.WithMessagef(err, "DeferOnce chunk %d", idx)
		}
		tasks++
	}

	m.log.Info().
		Int("recipients", len(recipients)).
		Int("tasks", tasks).
		Str("subject", b.Subject).
		Msg("broadcast scheduled")

	return tasks, nil
}

func (m *Mailer) createLog(ctx context.Context, subject string, to []string, header headers.Header, content string) int64 {
	from := m.state.Settings().DefaultFrom()
	if header.HasFrom() {
		from = header.From()
	}

	entry := &logger.Entry{
		Subject:        subject,
		From:           from,
		To:             logger.SerializeRecipients(to),
		RecipientCount: len(to),
		Source:         logger.Text(header.Source),
		HTMLContent:    content,
		Status:         logger.StatusPending,
	}

	id, err := m.store.Create(ctx, entry)
	if err != nil {
		m.log.Error().Err(err).Str("subject", subject).Msg("create log entry")
		return 0
	}
	return id
}

func (m *Mailer) handleSend(ctx context.Context, args json.RawMessage) error {
	var req sender.Request
	if err := json.Unmarshal(args, &req); err != nil {
		return errors.WithMessage(err, "Unmarshal request")
	}

	result := m.dispatcher.Dispatch(ctx, req)
	if !result.Success {
		return errors.New(result.ErrorMessage)
	}
	return nil
}

// handleBatch sends each recipient of a chunk on its own, with its own
// log row
func (m *Mailer) handleBatch(ctx context.Context, args json.RawMessage) error {
	var b Batch
	if err := json.Unmarshal(args, &b); err != nil {
		return errors.WithMessage(err, "Unmarshal batch")
	}

	header := headers.Interpret(b.Headers)

	var failed int
	for _, recipient := range b.Recipients {
		to := []string{recipient}

		result := m.dispatcher.Dispatch(ctx, sender.Request{
			To:      to,
			Subject: b.Subject,
			HTML:    b.HTML,
			Text:    b.Text,
			Header:  header,
			LogID:   m.createLog(ctx, b.Subject, to, header, b.content()),
		})
		if !result.Success {
			failed++
		}
	}

	if failed > 0 {
		return errors.Errorf("%d of %d batch sends failed", failed, len(b.Recipients))
	}
	return nil
}
