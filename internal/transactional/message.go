package transactional

import (
	"github.com/jawr/mxrelay/internal/address"
	"github.com/jawr/mxrelay/internal/headers"
	"github.com/jawr/mxrelay/internal/sender"
)

// Message is an outgoing email as the host hands it over
type Message struct {
	To          address.List        `json:"to"`
	Cc          address.List        `json:"cc,omitempty"`
	Bcc         address.List        `json:"bcc,omitempty"`
	Subject     string              `json:"subject"`
	HTML        string              `json:"html,omitempty"`
	Text        string              `json:"text,omitempty"`
	Headers     headers.Raw         `json:"headers,omitempty"`
	Attachments []sender.Attachment `json:"attachments,omitempty"`

	FromOverride *address.Entry `json:"from_override,omitempty"`
}

func (m Message) content() string {
	if len(m.HTML) > 0 {
		return m.HTML
	}
	return m.Text
}

// Batch is a notification fanned out to many recipients, one send each
type Batch struct {
	Recipients address.List `json:"recipients"`
	Subject    string       `json:"subject"`
	HTML       string       `json:"html,omitempty"`
	Text       string       `json:"text,omitempty"`
	Headers    headers.Raw  `json:"headers,omitempty"`
}

func (b Batch) content() string {
	if len(b.HTML) > 0 {
		return b.HTML
	}
	return b.Text
}
