package smtp

import (
	"context"
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/jawr/mxrelay/internal/transactional"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultMaxMessageBytes = 25 << 20

// Mailer takes over each accepted message
type Mailer interface {
	Mail(ctx context.Context, msg transactional.Message) bool
}

type Options struct {
	Addr   string
	Domain string

	Username     string
	PasswordHash string

	// accept mail without AUTH, for trusted local networks only
	AllowAnonymous bool

	MaxMessageBytes int
	Debug           io.Writer
}

// Server is a submission endpoint for applications that can only speak
// SMTP. Accepted messages go through the same hand-off as the API.
type Server struct {
	s      *smtp.Server
	mailer Mailer
	opts   Options
	log    zerolog.Logger

	// bounds the time a hand-off may take
	timeout time.Duration
}

func NewServer(mailer Mailer, opts Options, log zerolog.Logger) (*Server, error) {
	if mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if !opts.AllowAnonymous && (len(opts.Username) == 0 || len(opts.PasswordHash) == 0) {
		return nil, errors.New("credentials are required unless anonymous access is allowed")
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}

	server := &Server{
		mailer:  mailer,
		opts:    opts,
		log:     log.With().Str("component", "smtp").Logger(),
		timeout: 30 * time.Second,
	}

	s := smtp.NewServer(server)
	s.Addr = opts.Addr
	s.Domain = opts.Domain
	s.ReadTimeout = 60 * time.Second
	s.WriteTimeout = 60 * time.Second
	s.MaxMessageBytes = opts.MaxMessageBytes
	s.MaxRecipients = 100
	// submission is expected behind a TLS terminating proxy or on localhost
	s.AllowInsecureAuth = true
	if opts.Debug != nil {
		s.Debug = opts.Debug
	}

	server.s = s

	return server, nil
}

// Run listens until ctx is done
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Str("domain", s.opts.Domain).Msg("smtp listening")
		errCh <- s.s.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		if err := s.s.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close")
		}
		return nil

	case err := <-errCh:
		return errors.WithMessage(err, "ListenAndServe")
	}
}
