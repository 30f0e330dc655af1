package scheduler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 5 * time.Second

	keyPrefix = "task:"
)

// Identity is the hook plus a digest of its arguments. Two tasks with
// the same identity are the same job as far as Clear and Next go.
type Identity struct {
	Hook string `json:"hook"`
	Key  string `json:"key"`
}

func (i Identity) String() string {
	return i.Hook + ":" + i.Key
}

// IdentityFor computes the identity a task with these args would have
func IdentityFor(hook string, args interface{}) (Identity, error) {
	b, err := marshalArgs(args)
	if err != nil {
		return Identity{}, err
	}
	return identity(hook, b), nil
}

func identity(hook string, args []byte) Identity {
	sum := sha256.Sum256(args)
	return Identity{Hook: hook, Key: hex.EncodeToString(sum[:8])}
}

type Task struct {
	ID       string          `json:"id"`
	Identity Identity        `json:"identity"`
	Args     json.RawMessage `json:"args"`
	RunAt    time.Time       `json:"run_at"`

	// zero for one shot tasks
	Interval time.Duration `json:"interval,omitempty"`
}

func (t Task) key() []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", keyPrefix, t.RunAt.UnixNano(), t.ID))
}

type Handler func(ctx context.Context, args json.RawMessage) error

// Scheduler is a persistent deferred task queue. Tasks are stored in
// badger keyed by fire time so iteration order is execution order.
type Scheduler struct {
	db  *badger.DB
	log zerolog.Logger

	poll time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	// serialises RunDue
	running sync.Mutex
}

type Option func(*Scheduler)

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Open opens the task store at path, or an in-memory store when path
// is empty
func Open(path string, log zerolog.Logger, opts ...Option) (*Scheduler, error) {
	log = log.With().Str("component", "scheduler").Logger()

	bopts := badger.DefaultOptions(path).WithLogger(badgerLogger{log: log})
	if len(path) == 0 {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.WithMessage(err, "badger.Open")
	}

	s := &Scheduler{
		db:       db,
		log:      log,
		poll:     DefaultPollInterval,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
	for _, o := range opts {
		o(s)
	}

	return s, nil
}

func (s *Scheduler) Close() error {
	return s.db.Close()
}

// Handle registers the handler for a hook, replacing any previous one
func (s *Scheduler) Handle(hook string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[hook] = h
}

func (s *Scheduler) handler(hook string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[hook]
	return h, ok
}

// DeferOnce schedules a single run after delay
func (s *Scheduler) DeferOnce(hook string, args interface{}, delay time.Duration) (Task, error) {
	return s.DeferAt(hook, args, s.now().Add(delay))
}

// DeferAt schedules a single run at a fixed time
func (s *Scheduler) DeferAt(hook string, args interface{}, at time.Time) (Task, error) {
	return s.add(hook, args, at, 0)
}

// DeferRecurring schedules hook to run at first and every interval after
func (s *Scheduler) DeferRecurring(hook string, args interface{}, first time.Time, interval time.Duration) (Task, error) {
	if interval <= 0 {
		return Task{}, errors.Errorf("invalid interval %s", interval)
	}
	return s.add(hook, args, first, interval)
}

func (s *Scheduler) add(hook string, args interface{}, at time.Time, interval time.Duration) (Task, error) {
	b, err := marshalArgs(args)
	if err != nil {
		return Task{}, err
	}

	task := Task{
		ID:       uuid.New().String(),
		Identity: identity(hook, b),
		Args:     b,
		RunAt:    at,
		Interval: interval,
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return put(txn, task)
	})
	if err != nil {
		return Task{}, errors.WithMessage(err, "Update")
	}

	s.log.Debug().
		Str("hook", hook).
		Str("id", task.ID).
		Time("run_at", at).
		Dur("interval", interval).
		Msg("task scheduled")

	return task, nil
}

// Clear removes every task with the identity and returns how many went
func (s *Scheduler) Clear(id Identity) (int, error) {
	var n int
	err := s.db.Update(func(txn *badger.Txn) error {
		tasks, err := scan(txn)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Identity != id {
				continue
			}
			if err := txn.Delete(t.key()); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, errors.WithMessage(err, "Update")
	}
	return n, nil
}

// Next returns the earliest fire time for the identity
func (s *Scheduler) Next(id Identity) (time.Time, bool, error) {
	var next time.Time
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		tasks, err := scan(txn)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Identity == id {
				next = t.RunAt
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, errors.WithMessage(err, "View")
	}

	return next, found, nil
}

// Pending lists every stored task in fire order
func (s *Scheduler) Pending() ([]Task, error) {
	var tasks []Task
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		tasks, err = scan(txn)
		return err
	})
	if err != nil {
		return nil, errors.WithMessage(err, "View")
	}
	return tasks, nil
}

func marshalArgs(args interface{}) ([]byte, error) {
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, errors.WithMessage(err, "Marshal args")
	}
	return b, nil
}

func put(txn *badger.Txn, task Task) error {
	b, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return txn.Set(task.key(), b)
}

// first returns the task with the earliest fire time
func first(txn *badger.Txn) (Task, bool, error) {
	prefix := []byte(keyPrefix)

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return Task{}, false, nil
	}

	var t Task
	err := it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	})
	if err != nil {
		return Task{}, false, err
	}

	return t, true, nil
}

func scan(txn *badger.Txn) ([]Task, error) {
	prefix := []byte(keyPrefix)

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var tasks []Task
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			var t Task
			if err := json.NewDecoder(bytes.NewReader(val)).Decode(&t); err != nil {
				return err
			}
			tasks = append(tasks, t)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return tasks, nil
}
