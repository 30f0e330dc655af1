package address

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// List is a recipient list as a caller hands it over: one string,
// possibly comma separated, or an array mixing strings and
// {"email", "name"} entries. Decoding normalizes it.
type List []string

func (l *List) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.WithMessage(err, "Unmarshal string")
		}
		*l = NormalizeString(s)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return errors.WithMessage(err, "Unmarshal array")
	}

	addresses := make([]string, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}

		switch item[0] {
		case '"':
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return errors.WithMessage(err, "Unmarshal address")
			}
			addresses = append(addresses, s)

		case '{':
			var e Entry
			if err := json.Unmarshal(item, &e); err != nil {
				return errors.WithMessage(err, "Unmarshal entry")
			}
			addresses = append(addresses, NormalizeEntries([]Entry{e})...)

		default:
			return errors.Errorf("unsupported recipient: %s", item)
		}
	}

	*l = Normalize(addresses)
	return nil
}
