package smtp

import (
	"io"
	"sort"
	"strings"

	"github.com/jawr/mxrelay/internal/address"
	"github.com/jawr/mxrelay/internal/headers"
	"github.com/jawr/mxrelay/internal/sender"
	"github.com/jawr/mxrelay/internal/transactional"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"
)

// headers that describe the envelope or the MIME structure; everything
// else is handed to the header interpreter
var structural = map[string]struct{}{
	"to":                        {},
	"cc":                        {},
	"bcc":                       {},
	"subject":                   {},
	"date":                      {},
	"message-id":                {},
	"received":                  {},
	"return-path":               {},
	"dkim-signature":            {},
	"content-type":              {},
	"content-transfer-encoding": {},
	"content-disposition":       {},
	"mime-version":              {},
}

// readMessage parses a DATA payload. Envelope recipients become To;
// header recipients are ignored so Bcc never leaks.
func readMessage(r io.Reader, from string, to []string) (transactional.Message, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return transactional.Message{}, errors.WithMessage(err, "ReadEnvelope")
	}

	msg := transactional.Message{
		To:      to,
		Subject: env.GetHeader("Subject"),
		HTML:    env.HTML,
		Text:    env.Text,
	}

	var lines []string
	var hasFrom bool

	keys := make([]string, 0, len(env.Root.Header))
	for k := range env.Root.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		lower := strings.ToLower(k)
		if _, ok := structural[lower]; ok {
			continue
		}
		if lower == "from" {
			hasFrom = true
		}
		for _, v := range env.Root.Header[k] {
			if lower == "from" || lower == "reply-to" {
				v = env.GetHeader(k)
			}
			lines = append(lines, k+": "+v)
		}
	}
	msg.Headers = headers.Lines(lines...)

	// without a From header the envelope sender is the best guess
	if !hasFrom && len(from) > 0 {
		msg.FromOverride = &address.Entry{Email: from}
	}

	for _, a := range env.Attachments {
		msg.Attachments = append(msg.Attachments, sender.Attachment{
			Filename:    a.FileName,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}

	return msg, nil
}
