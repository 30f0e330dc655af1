package headers

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Item is one header as handed over: either a "Name: value" line or a
// {"Name": "value"} pair
type Item struct {
	Line string
	Pair map[string]string
}

func (i Item) isPair() bool {
	return i.Pair != nil
}

// Raw holds headers in the order a caller handed them over
type Raw struct {
	Items []Item
}

// String splits a header block on CRLF or LF
func String(s string) Raw {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if len(strings.TrimSpace(l)) > 0 {
			lines = append(lines, l)
		}
	}
	return Lines(lines...)
}

// Lines wraps already split header lines
func Lines(lines ...string) Raw {
	var r Raw
	for _, l := range lines {
		r.Items = append(r.Items, Item{Line: l})
	}
	return r
}

// Pairs wraps single key objects
func Pairs(pairs ...map[string]string) Raw {
	var r Raw
	for _, p := range pairs {
		if p == nil {
			p = map[string]string{}
		}
		r.Items = append(r.Items, Item{Pair: p})
	}
	return r
}

func (r Raw) IsEmpty() bool {
	return len(r.Items) == 0
}

// UnmarshalJSON accepts a header block string, or an array mixing
// "Name: value" strings and {"Name": "value"} objects
func (r *Raw) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = Raw{}
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.WithMessage(err, "Unmarshal string")
		}
		*r = String(s)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return errors.WithMessage(err, "Unmarshal array")
	}

	var raw Raw
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}

		switch item[0] {
		case '"':
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return errors.WithMessage(err, "Unmarshal line")
			}
			raw.Items = append(raw.Items, Item{Line: s})

		case '{':
			pair := map[string]string{}
			if err := json.Unmarshal(item, &pair); err != nil {
				return errors.WithMessage(err, "Unmarshal pair")
			}
			raw.Items = append(raw.Items, Item{Pair: pair})

		default:
			return errors.Errorf("unsupported header item: %s", item)
		}
	}

	*r = raw
	return nil
}

func (r Raw) MarshalJSON() ([]byte, error) {
	items := make([]interface{}, 0, len(r.Items))
	for _, i := range r.Items {
		if i.isPair() {
			items = append(items, i.Pair)
			continue
		}
		items = append(items, i.Line)
	}
	return json.Marshal(items)
}

// pairKeys orders the keys of a pair so objects with more than one key
// are read the same way every time
func pairKeys(pair map[string]string) []string {
	keys := make([]string, 0, len(pair))
	for k := range pair {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
