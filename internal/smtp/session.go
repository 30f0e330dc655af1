package smtp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

type Session struct {
	start time.Time

	ID uuid.UUID

	// references server
	server *Server

	// connection meta data
	State *smtp.ConnectionState

	// envelope
	From string
	To   []string
}

func (s *Server) newSession(state *smtp.ConnectionState) (*Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	return &Session{
		start:  time.Now(),
		ID:     id,
		server: s,
		State:  state,
	}, nil
}

func (s *Session) String() string {
	return s.ID.String()
}

func (s *Session) Mail(from string, opts smtp.MailOptions) error {
	s.From = from
	s.server.log.Debug().Str("session", s.String()).Str("from", from).Msg("Mail")
	return nil
}

func (s *Session) Rcpt(to string) error {
	s.To = append(s.To, to)
	s.server.log.Debug().Str("session", s.String()).Str("to", to).Msg("Rcpt")
	return nil
}

func (s *Session) Data(r io.Reader) error {
	start := time.Now()

	if len(s.To) == 0 {
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	msg, err := readMessage(r, s.From, s.To)
	if err != nil {
		s.server.log.Warn().Err(err).Str("session", s.String()).Msg("Data; readMessage")
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      fmt.Sprintf("can not read message (%s)", s),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.server.timeout)
	defer cancel()

	if !s.server.mailer.Mail(ctx, msg) {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      fmt.Sprintf("temporary error, please try again later (%s)", s),
		}
	}

	s.server.log.Info().
		Str("session", s.String()).
		Str("from", s.From).
		Int("recipients", len(s.To)).
		Dur("took", time.Since(start)).
		Msg("message accepted")

	return nil
}

func (s *Session) Reset() {
	s.From = ""
	s.To = nil
}

func (s *Session) Logout() error {
	s.Reset()
	s.server.log.Debug().Str("session", s.String()).Dur("after", time.Since(s.start)).Msg("Logout")
	return nil
}
