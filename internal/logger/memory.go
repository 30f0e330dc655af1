package logger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgtype"
)

// MemoryStore keeps log rows in process. Used when no database is
// configured and in tests.
type MemoryStore struct {
	sync.Mutex
	entries map[int64]Entry
	nextID  int64
	now     func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for created_at and sent_at
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[int64]Entry),
		nextID:  1,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, entry *Entry) (int64, error) {
	s.Lock()
	defer s.Unlock()

	e := *entry
	e.ID = s.nextID
	s.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if len(e.Status) == 0 {
		e.Status = StatusPending
	}
	if e.Source.Status == pgtype.Undefined {
		e.Source = pgtype.Text{Status: pgtype.Null}
	}

	s.entries[e.ID] = e
	entry.ID = e.ID
	entry.CreatedAt = e.CreatedAt
	entry.Status = e.Status

	return e.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Entry, error) {
	s.Lock()
	defer s.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) FindPendingByFingerprint(ctx context.Context, subject, to string) (int64, bool, error) {
	s.Lock()
	defer s.Unlock()

	for _, e := range s.sorted() {
		if e.Status == StatusPending && e.Subject == subject && e.To == to {
			return e.ID, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, status Status, errorMessage string, extra Extra) error {
	s.Lock()
	defer s.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}

	e.Status = status
	e.SentAt = pgtype.Timestamptz{Time: s.now(), Status: pgtype.Present}
	e.ErrorMessage = Text(errorMessage)
	if len(extra.ProviderMessageID) > 0 {
		e.ProviderMessageID = Text(extra.ProviderMessageID)
	}

	s.entries[id] = e
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter, page Page) ([]Entry, error) {
	s.Lock()
	defer s.Unlock()

	matched := s.filter(filter)

	limit, offset := page.limitOffset()
	if offset >= len(matched) {
		return []Entry{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	return matched[offset:end], nil
}

func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int, error) {
	s.Lock()
	defer s.Unlock()
	return len(s.filter(filter)), nil
}

func (s *MemoryStore) Sources(ctx context.Context) ([]string, error) {
	s.Lock()
	defer s.Unlock()

	seen := make(map[string]struct{})
	sources := []string{}
	for _, e := range s.entries {
		if e.Source.Status != pgtype.Present || len(e.Source.String) == 0 {
			continue
		}
		if _, ok := seen[e.Source.String]; ok {
			continue
		}
		seen[e.Source.String] = struct{}{}
		sources = append(sources, e.Source.String)
	}
	sort.Strings(sources)
	return sources, nil
}

func (s *MemoryStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	s.Lock()
	defer s.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeByAge(ctx context.Context, cutoff time.Time) (int64, error) {
	s.Lock()
	defer s.Unlock()

	var n int64
	for id, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeKeepingNewest(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	s.Lock()
	defer s.Unlock()

	sorted := s.sorted()
	if len(sorted) <= keep {
		return 0, nil
	}

	var n int64
	for _, e := range sorted[keep:] {
		delete(s.entries, e.ID)
		n++
	}
	return n, nil
}

// sorted returns all rows newest first; caller holds the lock
func (s *MemoryStore) sorted() []Entry {
	all := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all
}

func (s *MemoryStore) filter(f Filter) []Entry {
	email := strings.ToLower(f.Email)
	subject := strings.ToLower(f.Subject)

	matched := []Entry{}
	for _, e := range s.sorted() {
		if len(email) > 0 && !strings.Contains(strings.ToLower(e.To), email) {
			continue
		}
		if len(subject) > 0 && !strings.Contains(strings.ToLower(e.Subject), subject) {
			continue
		}
		if len(f.Status) > 0 && e.Status != f.Status {
			continue
		}
		if len(f.Source) > 0 && (e.Source.Status != pgtype.Present || e.Source.String != f.Source) {
			continue
		}
		matched = append(matched, e)
	}
	return matched
}
