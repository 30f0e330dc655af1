package account

import (
	"fmt"
	"strings"
	"sync"
)

// Settings are read at dispatch time and never changed by
// a dispatch
type Settings struct {
	APIKey     string
	FromPrefix string
	FromDomain string
	FromName   string
}

// FromEmail joins prefix and domain, empty unless both are set
func (s Settings) FromEmail() string {
	if len(s.FromPrefix) == 0 || len(s.FromDomain) == 0 {
		return ""
	}
	return s.FromPrefix + "@" + s.FromDomain
}

// DefaultFrom is the From used for log rows when the message
// itself has none
func (s Settings) DefaultFrom() string {
	email := s.FromEmail()
	if len(email) == 0 {
		return ""
	}
	if len(s.FromName) == 0 {
		return email
	}
	return fmt.Sprintf("%s <%s>", s.FromName, email)
}

// State is the relay's shared context: configured settings, the
// verified sending domains and whether the API connection is usable.
// It is built once at start and handed to everything that needs it.
type State struct {
	mu sync.RWMutex

	settings Settings
	domains  map[string]struct{}
	active   bool
}

func NewState(settings Settings) *State {
	return &State{
		settings: settings,
	}
}

func (s *State) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *State) SetSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// Active reports the outcome of the last connectivity test
func (s *State) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func normalizeDomains(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if len(d) > 0 {
			set[d] = struct{}{}
		}
	}
	return set
}
