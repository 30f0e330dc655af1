package headers

import (
	"strings"

	"github.com/jawr/mxrelay/internal/address"
)

const (
	// SourceHeader tags where a message came from (FluentCRM, Test, ...)
	SourceHeader = "X-EmailIt-Source"

	// ForceErrorHeader marks a diagnostic send that must fail at the
	// provider. Only the exact ForceErrorMarker value enables it.
	ForceErrorHeader = "X-EmailIt-Force-Error"
	ForceErrorMarker = "true"

	BBPressHeader = "X-bbPress"
	BBPressSource = "BBPress"
)

// set by the transport, never forwarded
var transportOwned = map[string]struct{}{
	"content-type":              {},
	"content-transfer-encoding": {},
	"mime-version":              {},
}

// Field is a single passthrough header
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Header is the typed result of interpreting raw mail headers.
// Downstream code reads these fields and never re-parses the raw form.
type Header struct {
	FromEmail  string  `json:"from_email,omitempty"`
	FromName   string  `json:"from_name,omitempty"`
	ReplyTo    string  `json:"reply_to,omitempty"`
	Source     string  `json:"source,omitempty"`
	ForceError bool    `json:"force_error,omitempty"`
	Fields     []Field `json:"fields,omitempty"`
}

// HasFrom reports if a From header was present
func (h Header) HasFrom() bool {
	return len(h.FromEmail) > 0
}

// From renders the From header as it was given
func (h Header) From() string {
	return address.Entry{Email: h.FromEmail, Name: h.FromName}.String()
}

// Get returns the first passthrough value for name
func (h Header) Get(name string) (string, bool) {
	for _, f := range h.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Map returns the passthrough headers keyed by name
func (h Header) Map() map[string]string {
	if len(h.Fields) == 0 {
		return nil
	}
	m := make(map[string]string, len(h.Fields))
	for _, f := range h.Fields {
		m[f.Name] = f.Value
	}
	return m
}

// Interpret parses raw headers in input order
func Interpret(raw Raw) Header {
	var h Header
	var bbpress bool
	var hasSource, hasReplyTo bool

	setFrom := func(value string) {
		if !h.HasFrom() {
			from := address.Parse(value)
			h.FromEmail = from.Email
			h.FromName = from.Name
		}
	}

	for _, item := range raw.Items {
		// associative pairs only feed the From and source lookups
		if item.isPair() {
			for _, k := range pairKeys(item.Pair) {
				switch strings.ToLower(strings.TrimSpace(k)) {
				case "from":
					setFrom(item.Pair[k])
				case strings.ToLower(SourceHeader):
					if !hasSource {
						h.Source = strings.TrimSpace(item.Pair[k])
						hasSource = true
					}
				}
			}
			continue
		}

		line := item.Line
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}

		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if len(name) == 0 {
			continue
		}

		lower := strings.ToLower(name)

		switch lower {
		case "from":
			setFrom(value)

		case "reply-to":
			if !hasReplyTo {
				h.ReplyTo = address.ExtractEmail(value)
				hasReplyTo = len(h.ReplyTo) > 0
			}

		case strings.ToLower(SourceHeader):
			if !hasSource {
				h.Source = value
				hasSource = true
			}

		case strings.ToLower(ForceErrorHeader):
			if value == ForceErrorMarker {
				h.ForceError = true
			}

		default:
			if _, ok := transportOwned[lower]; ok {
				continue
			}

			if lower == strings.ToLower(BBPressHeader) {
				bbpress = true
			}

			h.Fields = append(h.Fields, Field{Name: name, Value: value})
		}
	}

	if !hasSource && bbpress {
		h.Source = BBPressSource
	}

	return h
}
