package address

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	bracketed   = regexp.MustCompile(`<([^>]*)>`)
	displayForm = regexp.MustCompile(`^(.*?)\s*<(.+?)>$`)
)

// Entry is the structured form of a recipient,
// rendered as "Name <email>" when a name is set
type Entry struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (e Entry) String() string {
	email := strings.TrimSpace(e.Email)
	name := strings.TrimSpace(e.Name)
	if len(name) == 0 {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// Parse splits "Name <email>" into its parts. A value
// without brackets is taken as a bare email
func Parse(address string) Entry {
	address = strings.TrimSpace(address)
	if m := displayForm.FindStringSubmatch(address); m != nil {
		return Entry{
			Email: strings.TrimSpace(m[2]),
			Name:  strings.TrimSpace(m[1]),
		}
	}
	return Entry{Email: address}
}

// ExtractEmail returns the bracketed email if there is one,
// otherwise the trimmed input
func ExtractEmail(address string) string {
	if m := bracketed.FindStringSubmatch(address); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(address)
}

// Key is the identity used for deduplication
func Key(address string) string {
	return strings.ToLower(ExtractEmail(address))
}

// Split breaks a comma separated list, dropping empty parts
func Split(addresses string) []string {
	parts := strings.Split(addresses, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Normalize trims and dedupes a list of addresses. The first
// occurrence of an email wins and keeps its original casing
// and display name; entries without an email are dropped.
func Normalize(addresses []string) []string {
	normalized := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))

	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if len(a) == 0 {
			continue
		}

		key := Key(a)
		if len(key) == 0 {
			continue
		}

		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		normalized = append(normalized, a)
	}

	return normalized
}

// NormalizeString normalizes a single, possibly comma separated, string
func NormalizeString(addresses string) []string {
	return Normalize(Split(addresses))
}

// NormalizeEntries renders structured entries and normalizes them
func NormalizeEntries(entries []Entry) []string {
	rendered := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(strings.TrimSpace(e.Email)) == 0 {
			continue
		}
		rendered = append(rendered, e.String())
	}
	return Normalize(rendered)
}
