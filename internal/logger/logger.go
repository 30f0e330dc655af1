package logger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgtype"
	"github.com/pkg/errors"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// DefaultPerPage matches the admin list page size
const DefaultPerPage = 20

var ErrNotFound = errors.New("log entry not found")

// Entry is one row per logical send attempt
type Entry struct {
	ID int64 `db:"id"`

	Subject        string      `db:"subject"`
	From           string      `db:"email_from"`
	To             string      `db:"email_to"`
	RecipientCount int         `db:"recipient_count"`
	Source         pgtype.Text `db:"source"`

	// actual email message
	HTMLContent string `db:"html_content"`

	CreatedAt time.Time          `db:"created_at"`
	SentAt    pgtype.Timestamptz `db:"sent_at"`

	Status            Status      `db:"status"`
	ErrorMessage      pgtype.Text `db:"error_message"`
	ProviderMessageID pgtype.Text `db:"provider_message_id"`
}

func (e Entry) DateTime() string {
	return e.CreatedAt.Format("2006/01/02 15:04")
}

// Recipients decodes the stored recipient list
func (e Entry) Recipients() []string {
	var to []string
	if err := json.Unmarshal([]byte(e.To), &to); err != nil {
		return []string{e.To}
	}
	return to
}

func (e Entry) MarshalJSON() ([]byte, error) {
	type view struct {
		ID                int64      `json:"id"`
		Subject           string     `json:"subject"`
		From              string     `json:"from"`
		To                []string   `json:"to"`
		RecipientCount    int        `json:"recipient_count"`
		Source            *string    `json:"source"`
		CreatedAt         time.Time  `json:"created_at"`
		SentAt            *time.Time `json:"sent_at"`
		Status            Status     `json:"status"`
		ErrorMessage      *string    `json:"error_message"`
		ProviderMessageID *string    `json:"provider_message_id"`
	}

	v := view{
		ID:                e.ID,
		Subject:           e.Subject,
		From:              e.From,
		To:                e.Recipients(),
		RecipientCount:    e.RecipientCount,
		Source:            textPtr(e.Source),
		CreatedAt:         e.CreatedAt,
		Status:            e.Status,
		ErrorMessage:      textPtr(e.ErrorMessage),
		ProviderMessageID: textPtr(e.ProviderMessageID),
	}
	if e.SentAt.Status == pgtype.Present {
		t := e.SentAt.Time
		v.SentAt = &t
	}

	return json.Marshal(v)
}

// SerializeRecipients is the stored form of a recipient list and the
// form used for fingerprint correlation
func SerializeRecipients(to []string) string {
	if to == nil {
		to = []string{}
	}
	b, err := json.Marshal(to)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Text returns a NULL value for empty strings
func Text(s string) pgtype.Text {
	if len(s) == 0 {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: s, Status: pgtype.Present}
}

func textPtr(t pgtype.Text) *string {
	if t.Status != pgtype.Present {
		return nil
	}
	s := t.String
	return &s
}

// Filter narrows List and Count. Empty fields are ignored; Email and
// Subject are substring matches.
type Filter struct {
	Email   string
	Subject string
	Status  Status
	Source  string
}

type Page struct {
	Number  int
	PerPage int
}

func (p Page) limitOffset() (int, int) {
	per := p.PerPage
	if per < 1 {
		per = DefaultPerPage
	}
	n := p.Number
	if n < 1 {
		n = 1
	}
	return per, (n - 1) * per
}

// Extra carries optional columns written with a status update
type Extra struct {
	ProviderMessageID string
}

// Store owns log persistence. Status writes are not checked against
// any transition order.
type Store interface {
	Create(ctx context.Context, entry *Entry) (int64, error)
	Get(ctx context.Context, id int64) (*Entry, error)

	// FindPendingByFingerprint returns the newest pending row with an
	// exact subject and serialized recipient match
	FindPendingByFingerprint(ctx context.Context, subject, to string) (int64, bool, error)

	UpdateStatus(ctx context.Context, id int64, status Status, errorMessage string, extra Extra) error

	List(ctx context.Context, filter Filter, page Page) ([]Entry, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Sources(ctx context.Context) ([]string, error)

	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	PurgeByAge(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeKeepingNewest(ctx context.Context, n int) (int64, error)
}
