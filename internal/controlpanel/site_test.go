package controlpanel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jawr/mxrelay/internal/account"
	"github.com/jawr/mxrelay/internal/emailit"
	"github.com/jawr/mxrelay/internal/headers"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/jawr/mxrelay/internal/transactional"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type mailerStub struct {
	messages []transactional.Message
	batches  []transactional.Batch
}

func (m *mailerStub) Mail(ctx context.Context, msg transactional.Message) bool {
	m.messages = append(m.messages, msg)
	return true
}

func (m *mailerStub) Broadcast(ctx context.Context, b transactional.Batch) (int, error) {
	m.batches = append(m.batches, b)
	if len(b.Recipients) == 1 && b.Recipients[0] == "not-an-address" {
		return 0, transactional.ErrNoRecipients
	}
	return (len(b.Recipients) + 9) / 10, nil
}

type listerStub struct {
	domains []emailit.Domain
	err     error
}

func (l *listerStub) ListDomains(ctx context.Context, limit, page int) ([]emailit.Domain, error) {
	return l.domains, l.err
}

type providerStub struct {
	asked []string
}

func (p *providerStub) GetEmail(ctx context.Context, id string) (emailit.Response, error) {
	p.asked = append(p.asked, id)
	if id == "missing" {
		return nil, &emailit.APIError{StatusCode: 404, Message: "Email not found"}
	}
	return emailit.Response{"id": id, "status": "delivered"}, nil
}

type fixture struct {
	srv      *httptest.Server
	store    *logger.MemoryStore
	state    *account.State
	mailer   *mailerStub
	lister   *listerStub
	provider *providerStub
}

func newFixture(t *testing.T) *fixture {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		store:    logger.NewMemoryStore(),
		state:    account.NewState(account.Settings{APIKey: "key", FromPrefix: "noreply"}),
		mailer:   &mailerStub{},
		lister:   &listerStub{domains: []emailit.Domain{{Name: "good.com"}}},
		provider: &providerStub{},
	}

	site, err := NewSite(Config{
		State:        f.state,
		Store:        f.store,
		Mailer:       f.mailer,
		Lister:       f.lister,
		Provider:     f.provider,
		Username:     "admin",
		PasswordHash: string(hash),
		Log:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	f.srv = httptest.NewServer(site)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("admin", "secret")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %s", method, path, err)
		}
	}
	return resp.StatusCode
}

func (f *fixture) seed(t *testing.T, n int) []int64 {
	var ids []int64
	for i := 0; i < n; i++ {
		e := &logger.Entry{
			Subject:     fmt.Sprintf("Order %d", i),
			To:          logger.SerializeRecipients([]string{fmt.Sprintf("c%d@x.com", i)}),
			HTMLContent: fmt.Sprintf("<p>order %d</p>", i),
			Status:      logger.StatusPending,
		}
		if i%2 == 0 {
			e.Source = logger.Text("Shop")
		}
		id, err := f.store.Create(context.Background(), e)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/logs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", f.srv.URL+"/logs", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPostMail(t *testing.T) {
	f := newFixture(t)

	var out map[string]bool
	code := f.do(t, "POST", "/mail", map[string]interface{}{
		"to":      []string{"a@x.com"},
		"subject": "Hi",
		"html":    "<p>hi</p>",
		"headers": "X-EmailIt-Source: Forms",
	}, &out)

	if code != http.StatusAccepted || !out["queued"] {
		t.Fatalf("unexpected %d %v", code, out)
	}
	if len(f.mailer.messages) != 1 || headers.Interpret(f.mailer.messages[0].Headers).Source != "Forms" {
		t.Fatalf("unexpected messages %+v", f.mailer.messages)
	}
}

func TestPostMailValidation(t *testing.T) {
	f := newFixture(t)

	var out struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	code := f.do(t, "POST", "/mail", map[string]interface{}{"html": "x"}, &out)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	if len(out.Fields["to"]) == 0 || len(out.Fields["subject"]) == 0 {
		t.Fatalf("unexpected fields %+v", out)
	}
}

func TestPostMailBatch(t *testing.T) {
	f := newFixture(t)

	var recipients []string
	for i := 0; i < 25; i++ {
		recipients = append(recipients, fmt.Sprintf("u%d@x.com", i))
	}

	var out map[string]int
	code := f.do(t, "POST", "/mail/batch", map[string]interface{}{
		"recipients": recipients,
		"subject":    "New topic",
		"html":       "<p>topic</p>",
	}, &out)
	if code != http.StatusAccepted || out["tasks"] != 3 {
		t.Fatalf("unexpected %d %v", code, out)
	}
}

func TestPostMailBatchNoRecipients(t *testing.T) {
	f := newFixture(t)

	code := f.do(t, "POST", "/mail/batch", map[string]interface{}{
		"recipients": []string{"not-an-address"},
		"subject":    "New topic",
	}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected %d", code)
	}
}

func TestPostMailTestForceError(t *testing.T) {
	f := newFixture(t)

	code := f.do(t, "POST", "/mail/test", map[string]interface{}{"to": "me@x.com", "force_error": true}, nil)
	if code != http.StatusAccepted {
		t.Fatalf("unexpected %d", code)
	}

	h := headers.Interpret(f.mailer.messages[0].Headers)
	if !h.ForceError || h.Source != "Test" {
		t.Fatalf("unexpected header %+v", h)
	}
}

func TestListLogs(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 25)

	var out struct {
		Entries []map[string]interface{} `json:"entries"`
		Total   int                      `json:"total"`
		Pages   int                      `json:"pages"`
	}
	code := f.do(t, "GET", "/logs?page=2", nil, &out)
	if code != http.StatusOK || out.Total != 25 || out.Pages != 2 || len(out.Entries) != 5 {
		t.Fatalf("unexpected %d %+v", code, out)
	}

	code = f.do(t, "GET", "/logs?source=Shop&subject=order%201", nil, &out)
	// Order 10, 12, 14, 16, 18
	if code != http.StatusOK || out.Total != 5 {
		t.Fatalf("unexpected %d total %d", code, out.Total)
	}

	if code := f.do(t, "GET", "/logs?status=bogus", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}

	var sources map[string][]string
	f.do(t, "GET", "/sources", nil, &sources)
	if len(sources["sources"]) != 1 || sources["sources"][0] != "Shop" {
		t.Fatalf("unexpected sources %v", sources)
	}
}

func TestLogDetailAndContent(t *testing.T) {
	f := newFixture(t)
	ids := f.seed(t, 1)

	var entry map[string]interface{}
	code := f.do(t, "GET", fmt.Sprintf("/logs/%d", ids[0]), nil, &entry)
	if code != http.StatusOK || entry["subject"] != "Order 0" {
		t.Fatalf("unexpected %d %v", code, entry)
	}

	req, _ := http.NewRequest("GET", fmt.Sprintf("%s/logs/%d/content", f.srv.URL, ids[0]), nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "<p>order 0</p>" {
		t.Fatalf("unexpected content %q", body)
	}

	if code := f.do(t, "GET", "/logs/999", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestLogProvider(t *testing.T) {
	f := newFixture(t)
	ids := f.seed(t, 3)
	ctx := context.Background()

	if err := f.store.UpdateStatus(ctx, ids[0], logger.StatusSent, "", logger.Extra{ProviderMessageID: "em_1,em_2"}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.UpdateStatus(ctx, ids[1], logger.StatusSent, "", logger.Extra{ProviderMessageID: "missing"}); err != nil {
		t.Fatal(err)
	}

	var out struct {
		ID       int64                    `json:"id"`
		Messages []map[string]interface{} `json:"messages"`
	}
	code := f.do(t, "GET", fmt.Sprintf("/logs/%d/provider", ids[0]), nil, &out)
	if code != http.StatusOK || out.ID != ids[0] || len(out.Messages) != 2 || out.Messages[1]["id"] != "em_2" {
		t.Fatalf("unexpected %d %+v", code, out)
	}

	if code := f.do(t, "GET", fmt.Sprintf("/logs/%d/provider", ids[1]), nil, nil); code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", code)
	}

	// never sent, nothing to look up
	if code := f.do(t, "GET", fmt.Sprintf("/logs/%d/provider", ids[2]), nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	if len(f.provider.asked) != 3 {
		t.Fatalf("unexpected lookups %v", f.provider.asked)
	}
}

func TestDeleteLogs(t *testing.T) {
	f := newFixture(t)
	ids := f.seed(t, 3)

	var out map[string]int64
	if code := f.do(t, "DELETE", fmt.Sprintf("/logs/%d", ids[0]), nil, &out); code != http.StatusOK || out["deleted"] != 1 {
		t.Fatalf("unexpected %d %v", code, out)
	}
	if code := f.do(t, "DELETE", fmt.Sprintf("/logs/%d", ids[0]), nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	f.do(t, "POST", "/logs/delete", map[string]interface{}{"ids": ids[1:]}, &out)
	if out["deleted"] != 2 {
		t.Fatalf("unexpected %v", out)
	}
}

func TestPurgeLogs(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4)

	var out map[string]int64
	before := time.Now().Add(time.Hour).Format(time.RFC3339)
	code := f.do(t, "POST", "/logs/purge?before="+url.QueryEscape(before), nil, &out)
	if code != http.StatusOK || out["deleted"] != 4 {
		t.Fatalf("unexpected %d %v", code, out)
	}

	if code := f.do(t, "POST", "/logs/purge?before=not-a-date", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestRetention(t *testing.T) {
	f := newFixture(t)

	var policy logger.RetentionPolicy
	f.do(t, "GET", "/retention", nil, &policy)
	if policy != logger.DefaultRetentionPolicy() {
		t.Fatalf("unexpected default %+v", policy)
	}

	f.do(t, "PUT", "/retention", map[string]interface{}{"mode": "count", "count": 5}, &policy)
	if policy.Mode != logger.RetentionCount || policy.Count != 100 || policy.Days != 30 {
		t.Fatalf("unexpected sanitized policy %+v", policy)
	}

	f.seed(t, 3)
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if code := f.do(t, "POST", "/retention/sweep", nil, &out); code != http.StatusOK || out.Deleted != 0 {
		t.Fatalf("unexpected %d %+v", code, out)
	}
}

func TestConnectionTest(t *testing.T) {
	f := newFixture(t)

	var status connectionStatus
	f.do(t, "GET", "/connection", nil, &status)
	if status.Active {
		t.Fatal("expected inactive before the first test")
	}

	f.do(t, "POST", "/connection/test", nil, &status)
	if !status.Active || len(status.Domains) != 1 || status.FromEmail != "noreply@good.com" {
		t.Fatalf("unexpected status %+v", status)
	}

	f.lister.err = errors.New("unauthorized")
	f.do(t, "POST", "/connection/test", nil, &status)
	if status.Active || status.Error == "" {
		t.Fatalf("unexpected status %+v", status)
	}
}
