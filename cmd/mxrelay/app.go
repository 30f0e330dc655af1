package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/isayme/go-amqp-reconnect/rabbitmq"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jawr/mxrelay/internal/account"
	"github.com/jawr/mxrelay/internal/config"
	"github.com/jawr/mxrelay/internal/emailit"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/jawr/mxrelay/internal/metrics"
	"github.com/jawr/mxrelay/internal/scheduler"
	"github.com/jawr/mxrelay/internal/sender"
	"github.com/jawr/mxrelay/internal/transactional"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const hookSweep = "logs.sweep"

// app holds the components shared by the commands
type app struct {
	cfg *config.Config
	log zerolog.Logger

	state   *account.State
	client  *emailit.Client
	store   logger.Store
	sweeper *logger.Sweeper
	sched   *scheduler.Scheduler
	sender  *sender.Sender
	mailer  *transactional.Mailer

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{
		cfg: cfg,
		log: log,
		state: account.NewState(account.Settings{
			APIKey:     cfg.EmailIt.APIKey,
			FromPrefix: cfg.Sender.FromPrefix,
			FromDomain: cfg.Sender.FromDomain,
			FromName:   cfg.Sender.FromName,
		}),
		client: emailit.NewClient(
			cfg.EmailIt.APIKey,
			emailit.WithBaseURL(cfg.EmailIt.BaseURL),
			emailit.WithTimeout(cfg.EmailIt.Timeout),
		),
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.sweeper = logger.NewSweeper(a.store, cfg.Retention.RetentionPolicy, log)

	notifier, err := a.openNotifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sched, err = scheduler.Open(
		cfg.Scheduler.Path,
		log,
		scheduler.WithPollInterval(cfg.Scheduler.PollInterval),
	)
	if err != nil {
		a.Close()
		return nil, errors.WithMessage(err, "scheduler.Open")
	}
	a.closers = append(a.closers, func() { a.sched.Close() })

	a.sender = sender.NewSender(a.state, a.store, a.client, notifier, log)

	a.mailer = transactional.NewMailer(a.state, a.store, a.sched, a.sender, transactional.Options{
		SendDelay:     cfg.Scheduler.SendDelay,
		BatchSize:     cfg.Scheduler.BatchSize,
		BatchInterval: cfg.Scheduler.BatchInterval,
	}, log)
	a.mailer.Register()

	a.sched.Handle(hookSweep, func(ctx context.Context, _ json.RawMessage) error {
		_, err := a.sweeper.Sweep(ctx)
		return err
	})

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if len(a.cfg.Database.URL) == 0 {
		a.log.Warn().Msg("no database configured, logs are kept in memory")
		a.store = logger.NewMemoryStore()
		return nil
	}

	db, err := pgxpool.Connect(ctx, a.cfg.Database.URL)
	if err != nil {
		return errors.WithMessage(err, "pgxpool.Connect")
	}
	a.closers = append(a.closers, db.Close)

	store := logger.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		return errors.WithMessage(err, "Migrate")
	}

	a.log.Info().Msg("Connected to the Database")
	a.store = store

	return nil
}

func (a *app) openNotifier() (sender.Notifier, error) {
	if len(a.cfg.MQ.URL) == 0 {
		return metrics.Noop{}, nil
	}

	conn, err := rabbitmq.Dial(a.cfg.MQ.URL)
	if err != nil {
		return nil, errors.WithMessage(err, "rabbitmq.Dial")
	}
	a.closers = append(a.closers, func() { conn.Close() })

	ch, err := createPublisher(conn, a.cfg.MQ.MetricsQueue)
	if err != nil {
		return nil, errors.WithMessage(err, "createPublisher")
	}
	a.closers = append(a.closers, func() { ch.Close() })

	a.log.Info().Str("queue", a.cfg.MQ.MetricsQueue).Msg("Connected to the MQ")

	return metrics.NewPublisher(ch, a.cfg.MQ.MetricsQueue), nil
}

func createPublisher(conn *rabbitmq.Connection, queueName string) (*rabbitmq.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.WithMessage(err, "Channel")
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, errors.WithMessage(err, "QueueDeclare")
	}

	return ch, nil
}

// refresh runs the connectivity test; a failure leaves the relay
// inactive but running
func (a *app) refresh(ctx context.Context) {
	if len(a.cfg.EmailIt.APIKey) == 0 {
		a.log.Warn().Msg("no API key configured, dispatch is disabled")
		return
	}

	if err := a.state.Refresh(ctx, a.client); err != nil {
		a.log.Warn().Err(err).Msg("connection test failed")
		return
	}

	a.log.Info().Strs("domains", a.state.Domains()).Msg("connection active")
}

// scheduleSweep replaces any existing sweep task with one starting
// an interval from now
func (a *app) scheduleSweep() error {
	id, err := scheduler.IdentityFor(hookSweep, nil)
	if err != nil {
		return err
	}

	if _, err := a.sched.Clear(id); err != nil {
		return errors.WithMessage(err, "Clear")
	}

	interval := a.cfg.Retention.SweepInterval
	if _, err := a.sched.DeferRecurring(hookSweep, nil, time.Now().Add(interval), interval); err != nil {
		return errors.WithMessage(err, "DeferRecurring")
	}

	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
