package smtp

import (
	"crypto/subtle"

	"github.com/emersion/go-smtp"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

func (s *Server) Login(state *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	if len(s.opts.Username) == 0 || len(s.opts.PasswordHash) == 0 {
		return nil, smtp.ErrAuthUnsupported
	}

	if subtle.ConstantTimeCompare([]byte(username), []byte(s.opts.Username)) != 1 {
		s.log.Warn().Str("username", username).Msg("auth failed")
		return nil, errors.New("Not authorized")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.opts.PasswordHash), []byte(password)); err != nil {
		s.log.Warn().Str("username", username).Msg("auth failed")
		return nil, errors.New("Not authorized")
	}

	session, err := s.newSession(state)
	if err != nil {
		s.log.Error().Err(err).Msg("Login; unable to create new Session")
		return nil, errors.New("temporary error, please try again later")
	}

	s.log.Debug().Str("session", session.String()).Msg("init")

	return session, nil
}

func (s *Server) AnonymousLogin(state *smtp.ConnectionState) (smtp.Session, error) {
	if !s.opts.AllowAnonymous {
		return nil, smtp.ErrAuthRequired
	}

	session, err := s.newSession(state)
	if err != nil {
		s.log.Error().Err(err).Msg("AnonymousLogin; unable to create new Session")
		return nil, errors.New("temporary error, please try again later")
	}

	s.log.Debug().Str("session", session.String()).Msg("init anonymous")

	return session, nil
}
