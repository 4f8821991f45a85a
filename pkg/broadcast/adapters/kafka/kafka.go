// Package kafka implements a broadcast.Adapter over segmentio/kafka-go,
// one topic per broadcast channel.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/evkernel/evkernel/pkg/broadcast"
	kafkago "github.com/segmentio/kafka-go"
)

// Adapter publishes to, and consumes from, one Kafka topic per broadcast
// channel name.
type Adapter struct {
	name    string
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafkago.Writer
	readers map[string]*kafkago.Reader
}

func New(name string, brokers []string) *Adapter {
	return &Adapter{
		name:    name,
		brokers: brokers,
		writers: make(map[string]*kafkago.Writer),
		readers: make(map[string]*kafkago.Reader),
	}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) writer(topic string) *kafkago.Writer {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.writers[topic]
	if !ok {
		w = &kafkago.Writer{
			Addr:     kafkago.TCP(a.brokers...),
			Topic:    topic,
			Balancer: &kafkago.LeastBytes{},
		}
		a.writers[topic] = w
	}
	return w
}

func (a *Adapter) Publish(ctx context.Context, channel string, msg broadcast.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Publish", Err: err}
	}

	err = a.writer(channel).WriteMessages(ctx, kafkago.Message{
		Key:   []byte(msg.BroadcastID),
		Value: body,
	})
	if err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Publish", Err: err}
	}
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channel string, cb broadcast.Callback) error {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     a.brokers,
		Topic:       channel,
		GroupID:     a.name,
		StartOffset: kafkago.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	a.mu.Lock()
	a.readers[channel] = reader
	a.mu.Unlock()

	go func() {
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				continue
			}

			var msg broadcast.Message
			if err := json.Unmarshal(m.Value, &msg); err != nil {
				continue
			}
			// Tolerate callback errors; keep reading.
			_ = cb(ctx, msg)
		}
	}()
	return nil
}

func (a *Adapter) Unsubscribe(ctx context.Context, channel string) error {
	a.mu.Lock()
	reader, ok := a.readers[channel]
	delete(a.readers, channel)
	a.mu.Unlock()

	if !ok {
		return nil
	}
	if err := reader.Close(); err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Unsubscribe", Err: err}
	}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for _, w := range a.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range a.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
