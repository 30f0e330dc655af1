package sender

import (
	"context"
	"strings"

	"github.com/jawr/mxrelay/internal/account"
	"github.com/jawr/mxrelay/internal/address"
	"github.com/jawr/mxrelay/internal/emailit"
	"github.com/jawr/mxrelay/internal/headers"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/jawr/mxrelay/internal/metrics"
	"github.com/rs/zerolog"
)

// ForceErrorFrom is used in place of any from address on a force-error
// send so the provider rejects it
const ForceErrorFrom = "force-error@invalid-sending-domain.invalid"

// Transport delivers a single payload
type Transport interface {
	SendEmail(ctx context.Context, email emailit.Email) (emailit.Response, error)
}

// Notifier receives the outcome of every dispatch
type Notifier interface {
	Publish(m metrics.Typed) error
}

// Attachment is either a file loaded at dispatch time or inline content
type Attachment struct {
	Path        string `json:"path,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content,omitempty"`
}

// Request is one message handed to Dispatch. It is stored in scheduler
// tasks so must stay JSON serialisable.
type Request struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`

	Header      headers.Header `json:"header"`
	Attachments []Attachment   `json:"attachments,omitempty"`

	// host level from override, only used when its domain is verified
	FromOverride *address.Entry `json:"from_override,omitempty"`

	// 0 when the caller has no log row
	LogID int64 `json:"log_id,omitempty"`
}

type Result struct {
	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error_message,omitempty"`
	MessageIDs   []string `json:"message_ids,omitempty"`
}

// MessageID joins every collected provider id
func (r Result) MessageID() string {
	return strings.Join(r.MessageIDs, ",")
}

type Sender struct {
	state     *account.State
	store     logger.Store
	transport Transport
	notifier  Notifier
	log       zerolog.Logger
}

func NewSender(state *account.State, store logger.Store, transport Transport, notifier Notifier, log zerolog.Logger) *Sender {
	if notifier == nil {
		notifier = metrics.Noop{}
	}

	return &Sender{
		state:     state,
		store:     store,
		transport: transport,
		notifier:  notifier,
		log:       log.With().Str("component", "sender").Logger(),
	}
}
