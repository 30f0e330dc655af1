package logger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type RetentionMode string

const (
	RetentionDays  RetentionMode = "days"
	RetentionCount RetentionMode = "count"
)

const (
	DefaultRetentionDays  = 30
	DefaultRetentionCount = 10000

	minRetentionDays  = 1
	maxRetentionDays  = 365
	minRetentionCount = 100
	maxRetentionCount = 1000000
)

type RetentionPolicy struct {
	Mode  RetentionMode `json:"mode" yaml:"mode"`
	Days  int           `json:"days" yaml:"days"`
	Count int           `json:"count" yaml:"count"`
}

func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Mode:  RetentionDays,
		Days:  DefaultRetentionDays,
		Count: DefaultRetentionCount,
	}
}

// Sanitize fills zero values with defaults and clamps the rest into range
func (p RetentionPolicy) Sanitize() RetentionPolicy {
	if p.Mode != RetentionDays && p.Mode != RetentionCount {
		p.Mode = RetentionDays
	}

	switch {
	case p.Days == 0:
		p.Days = DefaultRetentionDays
	case p.Days < minRetentionDays:
		p.Days = minRetentionDays
	case p.Days > maxRetentionDays:
		p.Days = maxRetentionDays
	}

	switch {
	case p.Count == 0:
		p.Count = DefaultRetentionCount
	case p.Count < minRetentionCount:
		p.Count = minRetentionCount
	case p.Count > maxRetentionCount:
		p.Count = maxRetentionCount
	}

	return p
}

// Sweeper applies the current retention policy to a Store
type Sweeper struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time

	mu     sync.RWMutex
	policy RetentionPolicy
}

func NewSweeper(store Store, policy RetentionPolicy, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		log:    log.With().Str("component", "retention").Logger(),
		now:    time.Now,
		policy: policy.Sanitize(),
	}
}

func (s *Sweeper) Policy() RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy stores the sanitized policy and returns it
func (s *Sweeper) SetPolicy(policy RetentionPolicy) RetentionPolicy {
	policy = policy.Sanitize()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy

	return policy
}

// Sweep deletes rows outside the policy and returns how many went
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	policy := s.Policy()

	var deleted int64
	var err error

	switch policy.Mode {
	case RetentionCount:
		deleted, err = s.store.PurgeKeepingNewest(ctx, policy.Count)
	default:
		cutoff := s.now().AddDate(0, 0, -policy.Days)
		deleted, err = s.store.PurgeByAge(ctx, cutoff)
	}
	if err != nil {
		return 0, errors.WithMessage(err, "Sweep")
	}

	s.log.Info().
		Str("mode", string(policy.Mode)).
		Int("days", policy.Days).
		Int("count", policy.Count).
		Int64("deleted", deleted).
		Msg("retention sweep")

	return deleted, nil
}
