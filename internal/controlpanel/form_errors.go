package controlpanel

import (
	"encoding/json"
	"sort"
	"strings"
)

// FormErrors collects per field validation messages for a request body
type FormErrors struct {
	m map[string]string
}

func newFormErrors() FormErrors {
	return FormErrors{
		m: make(map[string]string, 0),
	}
}

func (f FormErrors) Add(field, message string) {
	f.m[field] = message
}

func (f FormErrors) Error() bool {
	return len(f.m) > 0
}

func (f FormErrors) HasError(field string) bool {
	_, ok := f.m[field]
	return ok
}

func (f FormErrors) Field(field string) string {
	return f.m[field]
}

// All returns every message ordered by field
func (f FormErrors) All() []string {
	fields := make([]string, 0, len(f.m))
	for field := range f.m {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	all := make([]string, 0, len(f.m))
	for _, field := range fields {
		all = append(all, f.m[field])
	}
	return all
}

func (f FormErrors) String() string {
	return strings.Join(f.All(), "; ")
}

func (f FormErrors) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.m)
}
