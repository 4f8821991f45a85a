// Package rabbitmq implements a broadcast.Adapter over a RabbitMQ fanout
// exchange per broadcast channel: every subscriber gets its own exclusive
// queue bound to the exchange, so publishing never requires knowing who is
// listening.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/evkernel/evkernel/pkg/broadcast"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Adapter holds one AMQP channel, used for both publishing and declaring
// consumer queues.
type Adapter struct {
	name string
	conn *amqp.Connection
	ch   *amqp.Channel

	mu     sync.Mutex
	queues map[string]amqp.Queue
	done   map[string]chan struct{}
}

func New(name, url string) (*Adapter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, &broadcast.Error{Adapter: name, Op: "New", Err: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, &broadcast.Error{Adapter: name, Op: "New", Err: err}
	}

	return &Adapter{
		name:   name,
		conn:   conn,
		ch:     ch,
		queues: make(map[string]amqp.Queue),
		done:   make(map[string]chan struct{}),
	}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) exchangeName(channel string) string {
	return fmt.Sprintf("broadcast.%s", channel)
}

func (a *Adapter) declareExchange(channel string) error {
	return a.ch.ExchangeDeclare(a.exchangeName(channel), "fanout", true, false, false, false, nil)
}

func (a *Adapter) Publish(ctx context.Context, channel string, msg broadcast.Message) error {
	if err := a.declareExchange(channel); err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Publish", Err: err}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Publish", Err: err}
	}

	err = a.ch.PublishWithContext(ctx, a.exchangeName(channel), "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Publish", Err: err}
	}
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channel string, cb broadcast.Callback) error {
	if err := a.declareExchange(channel); err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Subscribe", Err: err}
	}

	queue, err := a.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Subscribe", Err: err}
	}
	if err := a.ch.QueueBind(queue.Name, "", a.exchangeName(channel), false, nil); err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Subscribe", Err: err}
	}

	deliveries, err := a.ch.Consume(queue.Name, a.name, true, true, false, false, nil)
	if err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Subscribe", Err: err}
	}

	stop := make(chan struct{})
	a.mu.Lock()
	a.queues[channel] = queue
	a.done[channel] = stop
	a.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var msg broadcast.Message
				if err := json.Unmarshal(delivery.Body, &msg); err != nil {
					continue
				}
				// Tolerate callback errors; keep consuming.
				_ = cb(ctx, msg)
			}
		}
	}()
	return nil
}

func (a *Adapter) Unsubscribe(ctx context.Context, channel string) error {
	a.mu.Lock()
	stop, ok := a.done[channel]
	delete(a.done, channel)
	delete(a.queues, channel)
	a.mu.Unlock()

	if ok {
		close(stop)
	}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if err := a.ch.Close(); err != nil {
		return err
	}
	return a.conn.Close()
}
