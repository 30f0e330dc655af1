package metrics

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

const DefaultQueue = "metrics"

// Channel is satisfied by a reconnecting rabbitmq channel
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch    Channel
	queue string
	pool  sync.Pool
}

func NewPublisher(ch Channel, queue string) *Publisher {
	if len(queue) == 0 {
		queue = DefaultQueue
	}
	return &Publisher{
		ch:    ch,
		queue: queue,
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

func (p *Publisher) Publish(m Typed) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.WithMessage(err, "Marshal")
	}

	b := p.pool.Get().(*bytes.Buffer)
	defer p.pool.Put(b)
	b.Reset()

	if err := json.NewEncoder(b).Encode(Metric{T: m.Type(), M: data}); err != nil {
		return errors.WithMessage(err, "Encode")
	}

	msg := amqp.Publishing{
		Timestamp:   time.Now(),
		ContentType: "application/json",
		Body:        append([]byte(nil), b.Bytes()...),
	}

	err = p.ch.Publish(
		"",
		p.queue,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return errors.WithMessage(err, "Publish")
	}

	return nil
}

// Noop is used when no message queue is configured
type Noop struct{}

func (Noop) Publish(Typed) error { return nil }
