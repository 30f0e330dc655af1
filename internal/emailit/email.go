package emailit

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

type Attachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// Email is the POST /emails payload
type Email struct {
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// Response is the decoded JSON object the API answers with
type Response map[string]interface{}

func (e Email) validate() error {
	switch {
	case len(e.From) == 0:
		return errors.New("Missing required field: from")
	case len(e.To) == 0:
		return errors.New("Missing required field: to")
	case len(e.Subject) == 0:
		return errors.New("Missing required field: subject")
	case len(e.HTML) == 0 && len(e.Text) == 0:
		return errors.New("Either html or text content must be provided")
	}
	return nil
}

func (c *Client) SendEmail(ctx context.Context, email Email) (Response, error) {
	if err := email.validate(); err != nil {
		return nil, err
	}

	var resp Response
	if err := c.request(ctx, "POST", "/emails", nil, email, &resp); err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) GetEmail(ctx context.Context, id string) (Response, error) {
	var resp Response
	if err := c.request(ctx, "GET", "/emails/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// keys searched for a message identifier, most specific first
var messageIDKeys = []string{
	"message_id",
	"messageId",
	"email_id",
	"emailId",
	"id",
	"uuid",
}

// MessageID finds the provider's identifier for a sent message, looking
// at the top level first and then into nested objects and arrays
func MessageID(resp Response) string {
	return findMessageID(map[string]interface{}(resp))
}

func findMessageID(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		for _, k := range messageIDKeys {
			if id := scalar(t[k]); len(id) > 0 {
				return id
			}
		}

		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if id := findMessageID(t[k]); len(id) > 0 {
				return id
			}
		}

	case []interface{}:
		for _, item := range t {
			if id := findMessageID(item); len(id) > 0 {
				return id
			}
		}
	}

	return ""
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int64:
		return fmt.Sprintf("%d", t)
	}
	return ""
}
