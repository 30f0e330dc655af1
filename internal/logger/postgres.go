package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS email_logs (
	id BIGSERIAL PRIMARY KEY,
	subject TEXT NOT NULL DEFAULT '',
	email_from TEXT NOT NULL DEFAULT '',
	email_to TEXT NOT NULL DEFAULT '[]',
	recipient_count INT NOT NULL DEFAULT 0,
	source TEXT,
	html_content TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sent_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	provider_message_id TEXT
);
CREATE INDEX IF NOT EXISTS email_logs_status_idx ON email_logs (status);
CREATE INDEX IF NOT EXISTS email_logs_created_at_idx ON email_logs (created_at);
`

const columns = `id, subject, email_from, email_to, recipient_count, source, html_content,
	created_at, sent_at, status, error_message, provider_message_id`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the log table if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return errors.WithMessage(err, "Exec schema")
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, entry *Entry) (int64, error) {
	if len(entry.Status) == 0 {
		entry.Status = StatusPending
	}

	err := s.db.QueryRow(
		ctx,
		`
		INSERT INTO email_logs
			(subject, email_from, email_to, recipient_count, source, html_content, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
		`,
		entry.Subject,
		entry.From,
		entry.To,
		entry.RecipientCount,
		entry.Source,
		entry.HTMLContent,
		entry.Status,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return 0, errors.WithMessage(err, "QueryRow")
	}

	return entry.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Entry, error) {
	var e Entry
	err := pgxscan.Get(
		ctx,
		s.db,
		&e,
		"SELECT "+columns+" FROM email_logs WHERE id = $1",
		id,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.WithMessage(err, "Get")
	}
	return &e, nil
}

func (s *PostgresStore) FindPendingByFingerprint(ctx context.Context, subject, to string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(
		ctx,
		`
		SELECT id FROM email_logs
		WHERE subject = $1 AND email_to = $2 AND status = 'pending'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		`,
		subject,
		to,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.WithMessage(err, "QueryRow")
	}
	return id, true, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status Status, errorMessage string, extra Extra) error {
	tag, err := s.db.Exec(
		ctx,
		`
		UPDATE email_logs SET
			status = $2,
			sent_at = NOW(),
			error_message = $3,
			provider_message_id = COALESCE($4, provider_message_id)
		WHERE id = $1
		`,
		id,
		status,
		Text(errorMessage),
		Text(extra.ProviderMessageID),
	)
	if err != nil {
		return errors.WithMessage(err, "Exec")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter, page Page) ([]Entry, error) {
	where, args := filter.where()
	limit, offset := page.limitOffset()

	args = append(args, limit, offset)
	query := fmt.Sprintf(
		"SELECT %s FROM email_logs %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		columns, where, len(args)-1, len(args),
	)

	entries := []Entry{}
	if err := pgxscan.Select(ctx, s.db, &entries, query, args...); err != nil {
		return nil, errors.WithMessage(err, "Select")
	}
	return entries, nil
}

func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where()

	var n int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM email_logs "+where, args...).Scan(&n); err != nil {
		return 0, errors.WithMessage(err, "QueryRow")
	}
	return n, nil
}

func (s *PostgresStore) Sources(ctx context.Context) ([]string, error) {
	sources := []string{}
	err := pgxscan.Select(
		ctx,
		s.db,
		&sources,
		"SELECT DISTINCT source FROM email_logs WHERE source IS NOT NULL AND source <> '' ORDER BY source",
	)
	if err != nil {
		return nil, errors.WithMessage(err, "Select")
	}
	return sources, nil
}

func (s *PostgresStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM email_logs WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, errors.WithMessage(err, "Exec")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PurgeByAge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM email_logs WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, errors.WithMessage(err, "Exec")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PurgeKeepingNewest(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(
		ctx,
		`
		DELETE FROM email_logs WHERE id NOT IN (
			SELECT id FROM email_logs ORDER BY created_at DESC, id DESC LIMIT $1
		)
		`,
		n,
	)
	if err != nil {
		return 0, errors.WithMessage(err, "Exec")
	}
	return tag.RowsAffected(), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (f Filter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if len(f.Email) > 0 {
		add("email_to ILIKE $%d", "%"+likeEscaper.Replace(f.Email)+"%")
	}
	if len(f.Subject) > 0 {
		add("subject ILIKE $%d", "%"+likeEscaper.Replace(f.Subject)+"%")
	}
	if len(f.Status) > 0 {
		add("status = $%d", string(f.Status))
	}
	if len(f.Source) > 0 {
		add("source = $%d", f.Source)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
