package account

import (
	"context"
	"errors"
	"testing"

	"github.com/jawr/mxrelay/internal/emailit"
)

type listerStub struct {
	domains []emailit.Domain
	err     error
	calls   int
}

func (l *listerStub) ListDomains(ctx context.Context, limit, page int) ([]emailit.Domain, error) {
	l.calls++
	return l.domains, l.err
}

func TestIsValidSendingDomain(t *testing.T) {
	s := NewState(Settings{APIKey: "key"})
	s.ReplaceDomains([]string{"good.com"})

	tests := []struct {
		email string
		want  bool
	}{
		{"u@good.com", true},
		{"u@bad.com", false},
		{"u@GOOD.COM", false},
		{"weird@name@good.com", true},
		{"no-at-sign", false},
		{"u@sub.good.com", false},
	}

	for _, tt := range tests {
		if got := s.IsValidSendingDomain(tt.email); got != tt.want {
			t.Errorf("IsValidSendingDomain(%q) = %v want %v", tt.email, got, tt.want)
		}
	}
}

func TestIsValidSendingDomainEmptySetFailsClosed(t *testing.T) {
	s := NewState(Settings{})
	if s.IsValidSendingDomain("u@good.com") {
		t.Fatal("empty set must reject")
	}
}

func TestRefreshReplacesWholesale(t *testing.T) {
	s := NewState(Settings{APIKey: "key", FromPrefix: "noreply"})
	s.ReplaceDomains([]string{"old.com"})

	lister := &listerStub{domains: []emailit.Domain{{Name: "good.com"}, {Name: "other.org"}}}
	if err := s.Refresh(context.Background(), lister); err != nil {
		t.Fatal(err)
	}

	if !s.Active() {
		t.Fatal("expected active")
	}
	if s.IsValidSendingDomain("a@old.com") {
		t.Fatal("old domain should be gone")
	}
	if !s.IsValidSendingDomain("a@other.org") {
		t.Fatal("new domain missing")
	}

	// first domain becomes the default from domain
	if got := s.Settings().FromEmail(); got != "noreply@good.com" {
		t.Fatalf("from email = %q", got)
	}
}

func TestRefreshClearsOnFailure(t *testing.T) {
	s := NewState(Settings{APIKey: "key"})
	s.ReplaceDomains([]string{"good.com"})

	if err := s.Refresh(context.Background(), &listerStub{err: errors.New("boom")}); err == nil {
		t.Fatal("expected error")
	}

	if s.Active() || len(s.Domains()) != 0 {
		t.Fatalf("expected cleared inactive state, active=%v domains=%v", s.Active(), s.Domains())
	}
}

func TestRefreshWithoutKey(t *testing.T) {
	s := NewState(Settings{})
	s.ReplaceDomains([]string{"good.com"})

	lister := &listerStub{}
	if err := s.Refresh(context.Background(), lister); err == nil {
		t.Fatal("expected error")
	}
	if lister.calls != 0 {
		t.Fatal("no API call expected without a key")
	}
	if s.Active() || len(s.Domains()) != 0 {
		t.Fatal("expected cleared state")
	}
}

func TestSettingsDefaultFrom(t *testing.T) {
	s := Settings{FromPrefix: "noreply", FromDomain: "good.com", FromName: "Site"}
	if got := s.DefaultFrom(); got != "Site <noreply@good.com>" {
		t.Fatalf("got %q", got)
	}
	if got := (Settings{FromPrefix: "noreply"}).FromEmail(); got != "" {
		t.Fatalf("got %q", got)
	}
}
