// Package emailit is a small bearer token client for the EmailIt v2 API,
// covering what the relay needs: sending, fetching a sent email and
// listing sending domains.
package emailit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.emailit.com/v2"
	DefaultTimeout = time.Second * 30
)

// APIError is returned for any response with a status >= 400
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if len(msg) == 0 {
		msg = "Unknown error"
	}
	return "API Error: " + msg
}

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if len(baseURL) > 0 {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) buildURL(endpoint string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// request performs a call against the API and decodes a JSON object
// response into out. out may be nil.
func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.WithMessage(err, "Marshal")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.buildURL(endpoint, query), reader)
	if err != nil {
		return errors.WithMessage(err, "NewRequest")
	}
	req = req.WithContext(ctx)

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WithMessage(err, "API Request Error")
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.WithMessage(err, "ReadAll")
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var decoded struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(raw, &decoded); err == nil {
			apiErr.Message = decoded.Message
			if len(apiErr.Message) == 0 {
				apiErr.Message = decoded.Error
			}
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.WithMessage(err, "malformed response")
	}

	return nil
}
