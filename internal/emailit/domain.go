package emailit

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

type Domain struct {
	Name string `json:"name"`
}

// ListDomains returns the sending domains on the account. A response
// without a data array is treated as an error.
func (c *Client) ListDomains(ctx context.Context, limit, page int) ([]Domain, error) {
	if limit < 1 {
		limit = 1
	}
	if page < 1 {
		page = 1
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("page", strconv.Itoa(page))

	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.request(ctx, "GET", "/domains", query, nil, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 || resp.Data[0] != '[' {
		return nil, errors.New("unexpected domains response")
	}

	var domains []Domain
	if err := json.Unmarshal(resp.Data, &domains); err != nil {
		return nil, errors.WithMessage(err, "Unmarshal domains")
	}

	return domains, nil
}
