package controlpanel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jawr/mxrelay/internal/account"
	"github.com/jawr/mxrelay/internal/cache"
	"github.com/jawr/mxrelay/internal/emailit"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/jawr/mxrelay/internal/transactional"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Mailer is the hand-off used by the mail routes
type Mailer interface {
	Mail(ctx context.Context, msg transactional.Message) bool
	Broadcast(ctx context.Context, b transactional.Batch) (int, error)
}

// Provider looks up sent messages at the email API
type Provider interface {
	GetEmail(ctx context.Context, id string) (emailit.Response, error)
}

// Config holds everything the admin API is built from
type Config struct {
	State   *account.State
	Store   logger.Store
	Sweeper *logger.Sweeper
	Mailer  Mailer
	Lister  account.DomainLister
	// optional, enables GET /logs/:id/provider
	Provider Provider
	Cache    *cache.Cache

	Username     string
	PasswordHash string

	Log zerolog.Logger
}

// Site is the admin JSON API
type Site struct {
	state    *account.State
	store    logger.Store
	sweeper  *logger.Sweeper
	mailer   Mailer
	lister   account.DomainLister
	provider Provider
	cache    *cache.Cache

	username     string
	passwordHash []byte

	router     *httprouter.Router
	bufferPool sync.Pool

	log zerolog.Logger
}

func NewSite(cfg Config) (*Site, error) {
	if cfg.State == nil || cfg.Store == nil || cfg.Mailer == nil {
		return nil, errors.New("state, store and mailer are required")
	}

	s := &Site{
		state:        cfg.State,
		store:        cfg.Store,
		sweeper:      cfg.Sweeper,
		mailer:       cfg.Mailer,
		lister:       cfg.Lister,
		provider:     cfg.Provider,
		cache:        cfg.Cache,
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
		log: cfg.Log.With().Str("component", "controlpanel").Logger(),
	}

	if s.sweeper == nil {
		s.sweeper = logger.NewSweeper(s.store, logger.DefaultRetentionPolicy(), cfg.Log)
	}

	if err := s.setupRoutes(); err != nil {
		return nil, errors.WithMessage(err, "setupRoutes")
	}

	return s, nil
}

func (s *Site) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

// Run serves until ctx is done
func (s *Site) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("admin api listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WithMessage(err, "ListenAndServe")
	}
	return nil
}

// Error is a request level failure with a client facing message
type Error struct {
	StatusCode int
	Message    string
	Fields     *FormErrors
}

func (e *Error) Error() string { return e.Message }

func badRequest(format string, args ...interface{}) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func notFound() *Error {
	return &Error{StatusCode: http.StatusNotFound, Message: "Not Found"}
}

func invalid(fields FormErrors) *Error {
	return &Error{StatusCode: http.StatusUnprocessableEntity, Message: fields.String(), Fields: &fields}
}

func (s *Site) handleError(w http.ResponseWriter, r *route, err error) {
	var e *Error
	if errors.As(err, &e) {
		body := map[string]interface{}{"error": e.Message}
		if e.Fields != nil {
			body["fields"] = e.Fields
		}
		s.writeJSON(w, e.StatusCode, body)
		return
	}

	id, uerr := uuid.NewRandom()
	if uerr != nil {
		s.log.Error().Err(err).AnErr("uuid", uerr).Str("route", r.String()).Msg("request failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.log.Error().Err(err).Str("route", r.String()).Str("error_id", id.String()).Msg("request failed")

	s.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": fmt.Sprintf("Internal Server Error (%s)", id),
	})
}

func (s *Site) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b := s.bufferPool.Get().(*bytes.Buffer)
	defer s.bufferPool.Put(b)
	b.Reset()

	if err := json.NewEncoder(b).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b.Bytes())
}

func (s *Site) readJSON(req *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, req.Body, 25<<20))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %s", err)
	}
	return nil
}
