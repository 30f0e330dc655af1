package transactional

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jawr/mxrelay/internal/account"
	"github.com/jawr/mxrelay/internal/headers"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/jawr/mxrelay/internal/scheduler"
	"github.com/jawr/mxrelay/internal/sender"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type dispatcherStub struct {
	requests []sender.Request
	fail     bool
}

func (d *dispatcherStub) Dispatch(ctx context.Context, req sender.Request) sender.Result {
	d.requests = append(d.requests, req)
	if d.fail {
		return sender.Result{ErrorMessage: "boom"}
	}
	return sender.Result{Success: true}
}

type fixture struct {
	now        time.Time
	store      *logger.MemoryStore
	sched      *scheduler.Scheduler
	dispatcher *dispatcherStub
	mailer     *Mailer
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		now:        time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		store:      logger.NewMemoryStore(),
		dispatcher: &dispatcherStub{},
	}

	sched, err := scheduler.Open("", zerolog.Nop(), scheduler.WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sched.Close() })
	f.sched = sched

	state := account.NewState(account.Settings{APIKey: "key", FromPrefix: "noreply", FromDomain: "good.com", FromName: "Site"})
	f.mailer = NewMailer(state, f.store, sched, f.dispatcher, Options{SendDelay: 2 * time.Second}, zerolog.Nop())
	f.mailer.Register()

	return f
}

func TestMailCreatesPendingRowAndTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok := f.mailer.Mail(ctx, Message{
		To:      []string{"a@x.com", "A@X.com", "b@y.com"},
		Subject: "Welcome",
		HTML:    "<p>hi</p>",
		Headers: headers.String("X-EmailIt-Source: Forms\r\nX-Campaign: spring"),
	})
	if !ok {
		t.Fatal("expected queued")
	}

	rows, _ := f.store.List(ctx, logger.Filter{}, logger.Page{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Status != logger.StatusPending || row.RecipientCount != 2 || row.Source.String != "Forms" {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.From != "Site <noreply@good.com>" {
		t.Fatalf("unexpected from %q", row.From)
	}

	pending, _ := f.sched.Pending()
	if len(pending) != 1 || pending[0].Identity.Hook != HookSend {
		t.Fatalf("expected one send task, got %+v", pending)
	}
	if !pending[0].RunAt.Equal(f.now.Add(2 * time.Second)) {
		t.Fatalf("unexpected run at %v", pending[0].RunAt)
	}

	// the task carries the log id through to dispatch
	f.sched.RunDue(ctx, f.now.Add(time.Minute))
	if len(f.dispatcher.requests) != 1 {
		t.Fatalf("expected dispatch, got %d", len(f.dispatcher.requests))
	}
	req := f.dispatcher.requests[0]
	if req.LogID != row.ID || len(req.To) != 2 || req.Header.Source != "Forms" {
		t.Fatalf("unexpected request %+v", req)
	}
	if v, _ := req.Header.Get("X-Campaign"); v != "spring" {
		t.Fatalf("passthrough header lost: %+v", req.Header)
	}
}

func TestMailHeaderFromUsedForLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mailer.Mail(ctx, Message{
		To:      []string{"a@x.com"},
		Subject: "Hi",
		Text:    "plain",
		Headers: headers.Lines("From: Shop <shop@good.com>"),
	})

	rows, _ := f.store.List(ctx, logger.Filter{}, logger.Page{})
	if rows[0].From != "Shop <shop@good.com>" || rows[0].HTMLContent != "plain" {
		t.Fatalf("unexpected row %+v", rows[0])
	}
}

func TestBroadcastChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var recipients []string
	for i := 0; i < 25; i++ {
		recipients = append(recipients, fmt.Sprintf("user%d@x.com", i))
	}

	n, err := f.mailer.Broadcast(ctx, Batch{
		Recipients: recipients,
		Subject:    "New reply",
		HTML:       "<p>reply</p>",
		Headers:    headers.Lines("X-bbPress: 2.6"),
	})
	if err != nil || n != 3 {
		t.Fatalf("expected 3 tasks, got %d %v", n, err)
	}

	pending, _ := f.sched.Pending()
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending tasks, got %d", len(pending))
	}
	for i, task := range pending {
		want := f.now.Add(time.Duration(i) * time.Minute)
		if task.Identity.Hook != HookBatch || !task.RunAt.Equal(want) {
			t.Fatalf("task %d: hook %s at %v, want %v", i, task.Identity.Hook, task.RunAt, want)
		}
	}

	// first chunk runs now, one log row and dispatch per recipient
	f.sched.RunDue(ctx, f.now)
	if len(f.dispatcher.requests) != 10 {
		t.Fatalf("expected 10 dispatches, got %d", len(f.dispatcher.requests))
	}

	rows, _ := f.store.List(ctx, logger.Filter{Source: headers.BBPressSource}, logger.Page{PerPage: 50})
	if len(rows) != 10 {
		t.Fatalf("expected 10 BBPress rows, got %d", len(rows))
	}
	for _, r := range f.dispatcher.requests {
		if r.LogID == 0 || len(r.To) != 1 {
			t.Fatalf("unexpected request %+v", r)
		}
	}
}

func TestBroadcastNoRecipients(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mailer.Broadcast(context.Background(), Batch{Recipients: []string{" "}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestQueueReturnsLogID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, ok := f.mailer.Queue(ctx, Message{To: []string{"a@x.com"}, Subject: "Receipt", Text: "thanks"})
	if !ok || id == 0 {
		t.Fatalf("expected queued with a log id, got %d %v", id, ok)
	}

	// another message with the same subject must not be confused with it
	other, _ := f.mailer.Queue(ctx, Message{To: []string{"b@x.com"}, Subject: "Receipt", Text: "thanks"})
	if other == id {
		t.Fatal("expected distinct log ids")
	}

	e, err := f.store.Get(ctx, id)
	if err != nil || e.Subject != "Receipt" || e.RecipientCount != 1 || !strings.Contains(e.To, "a@x.com") {
		t.Fatalf("unexpected row %+v %v", e, err)
	}
}

func TestMailAcceptsRecipientForms(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"comma string", `{"to":"a@x.com, b@y.com","subject":"s","text":"t"}`, []string{"a@x.com", "b@y.com"}},
		{"strings", `{"to":["a@x.com","A@x.com"],"subject":"s","text":"t"}`, []string{"a@x.com"}},
		{"entries", `{"to":[{"email":"a@x.com","name":"A"},{"email":"b@y.com"}],"subject":"s","text":"t"}`, []string{"A <a@x.com>", "b@y.com"}},
	}

	for _, tt := range tests {
		f := newFixture(t)
		ctx := context.Background()

		var msg Message
		if err := json.Unmarshal([]byte(tt.body), &msg); err != nil {
			t.Fatalf("%s: %s", tt.name, err)
		}

		if !f.mailer.Mail(ctx, msg) {
			t.Fatalf("%s: expected queued", tt.name)
		}

		f.sched.RunDue(ctx, f.now.Add(time.Minute))
		if len(f.dispatcher.requests) != 1 {
			t.Fatalf("%s: expected 1 dispatch, got %d", tt.name, len(f.dispatcher.requests))
		}
		if got := f.dispatcher.requests[0].To; !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func TestBroadcastAcceptsCommaString(t *testing.T) {
	f := newFixture(t)

	var b Batch
	if err := json.Unmarshal([]byte(`{"recipients":"a@x.com, b@y.com","subject":"New topic"}`), &b); err != nil {
		t.Fatal(err)
	}

	n, err := f.mailer.Broadcast(context.Background(), b)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 task, got %d %v", n, err)
	}
}

type failingScheduler struct{}

func (failingScheduler) DeferOnce(hook string, args interface{}, delay time.Duration) (scheduler.Task, error) {
	return scheduler.Task{}, errors.New("queue closed")
}

func (failingScheduler) Handle(hook string, h scheduler.Handler) {}

type failingUpdates struct {
	*logger.MemoryStore
}

func (failingUpdates) UpdateStatus(ctx context.Context, id int64, status logger.Status, errorMessage string, extra logger.Extra) error {
	return errors.New("database gone")
}

func TestQueueScheduleFailure(t *testing.T) {
	ctx := context.Background()
	state := account.NewState(account.Settings{APIKey: "key", FromPrefix: "noreply", FromDomain: "good.com"})

	store := logger.NewMemoryStore()
	mailer := NewMailer(state, store, failingScheduler{}, &dispatcherStub{}, Options{}, zerolog.Nop())

	id, ok := mailer.Queue(ctx, Message{To: []string{"a@x.com"}, Subject: "Hi", Text: "t"})
	if ok || id == 0 {
		t.Fatalf("expected failure with a log id, got %d %v", id, ok)
	}

	e, _ := store.Get(ctx, id)
	if e.Status != logger.StatusFailed || e.ErrorMessage.String != "queue closed" {
		t.Fatalf("row should be failed, got %+v", e)
	}

	// the row can not be updated either, which must at least be logged
	var buf bytes.Buffer
	mailer = NewMailer(state, failingUpdates{logger.NewMemoryStore()}, failingScheduler{}, &dispatcherStub{}, Options{}, zerolog.New(&buf))

	if _, ok := mailer.Queue(ctx, Message{To: []string{"a@x.com"}, Subject: "Hi", Text: "t"}); ok {
		t.Fatal("expected failure")
	}
	if !strings.Contains(buf.String(), "database gone") || !strings.Contains(buf.String(), "mark log entry failed") {
		t.Fatalf("update failure not logged: %s", buf.String())
	}
}
