package account

import (
	"context"
	"sort"
	"strings"

	"github.com/jawr/mxrelay/internal/emailit"
	"github.com/pkg/errors"
)

// how many domains the connectivity test asks for
const domainListLimit = 100

// DomainLister is the part of the API used by the connectivity test
type DomainLister interface {
	ListDomains(ctx context.Context, limit, page int) ([]emailit.Domain, error)
}

// IsValidSendingDomain checks the domain after the last '@' against the
// verified set. The match is exact and case sensitive; an empty set
// rejects everything.
func (s *State) IsValidSendingDomain(email string) bool {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return false
	}
	domain := email[idx+1:]

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.domains) == 0 {
		return false
	}

	_, ok := s.domains[domain]
	return ok
}

// Domains returns the current sending domain set, sorted
func (s *State) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	domains := make([]string, 0, len(s.domains))
	for d := range s.domains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// ReplaceDomains swaps the whole set and marks the connection active
func (s *State) ReplaceDomains(domains []string) {
	set := normalizeDomains(domains)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.domains = set
	s.active = true
}

// ClearDomains empties the set and marks the connection inactive
func (s *State) ClearDomains() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.domains = nil
	s.active = false
}

// Refresh is the connectivity test. Without an API key, or when the
// domain listing fails, the set is cleared; otherwise it is replaced
// with what the API returned. When no from domain is configured the
// first listed domain becomes the default.
func (s *State) Refresh(ctx context.Context, lister DomainLister) error {
	settings := s.Settings()

	if len(settings.APIKey) == 0 {
		s.ClearDomains()
		return errors.New("no API key configured")
	}

	listed, err := lister.ListDomains(ctx, domainListLimit, 1)
	if err != nil {
		s.ClearDomains()
		return errors.WithMessage(err, "ListDomains")
	}

	domains := make([]string, 0, len(listed))
	for _, d := range listed {
		domains = append(domains, d.Name)
	}

	s.ReplaceDomains(domains)

	if len(settings.FromDomain) == 0 && len(domains) > 0 {
		s.mu.Lock()
		if len(s.settings.FromDomain) == 0 {
			s.settings.FromDomain = domains[0]
		}
		s.mu.Unlock()
	}

	return nil
}
