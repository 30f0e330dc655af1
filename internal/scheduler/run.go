package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Run polls for due tasks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.log.Info().Dur("poll", s.poll).Msg("scheduler running")

	for {
		if _, err := s.RunDue(ctx, s.now()); err != nil {
			s.log.Error().Err(err).Msg("RunDue")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunDue runs every task due at now in fire order, one at a time. Each
// task is claimed in its own transaction just before its handler runs,
// so a cancelled ctx leaves the rest stored. Recurring tasks are
// rescheduled as they are claimed. It returns how many handlers ran.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) (int, error) {
	s.running.Lock()
	defer s.running.Unlock()

	var ran int
	for ctx.Err() == nil {
		t, ok, err := s.claim(now)
		if err != nil {
			return ran, err
		}
		if !ok {
			break
		}

		h, ok := s.handler(t.Identity.Hook)
		if !ok {
			s.log.Warn().Str("hook", t.Identity.Hook).Str("id", t.ID).Msg("no handler, task dropped")
			continue
		}

		s.run(ctx, h, t)
		ran++
	}

	return ran, nil
}

// claim removes the earliest task if it is due at now
func (s *Scheduler) claim(now time.Time) (Task, bool, error) {
	var task Task
	var found bool

	err := s.db.Update(func(txn *badger.Txn) error {
		t, ok, err := first(txn)
		if err != nil || !ok || t.RunAt.After(now) {
			return err
		}

		if err := txn.Delete(t.key()); err != nil {
			return err
		}

		if t.Interval > 0 {
			next := t
			for !next.RunAt.After(now) {
				next.RunAt = next.RunAt.Add(t.Interval)
			}
			if err := put(txn, next); err != nil {
				return err
			}
		}

		task = t
		found = true
		return nil
	})
	if err != nil {
		return Task{}, false, errors.WithMessage(err, "Update")
	}

	return task, found, nil
}

func (s *Scheduler) run(ctx context.Context, h Handler, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("hook", t.Identity.Hook).Str("id", t.ID).Interface("panic", r).Msg("task panic")
		}
	}()

	start := time.Now()
	if err := h(ctx, t.Args); err != nil {
		s.log.Error().Err(err).Str("hook", t.Identity.Hook).Str("id", t.ID).Msg("task failed")
		return
	}

	s.log.Debug().Str("hook", t.Identity.Hook).Str("id", t.ID).Dur("took", time.Since(start)).Msg("task done")
}

// badgerLogger routes badger's own logging through zerolog
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error().Msg(trim(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn().Msg(trim(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Infof(f string, v ...interface{}) {
	l.log.Debug().Msg(trim(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.Trace().Msg(trim(fmt.Sprintf(f, v...)))
}

func trim(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}
