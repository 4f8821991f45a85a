// Package redis implements a broadcast.Adapter over Redis Pub/Sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/evkernel/evkernel/pkg/broadcast"
	goredis "github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings. Mirrors the shape of a
// general-purpose Redis cache config: host/port pair, pool sizing, and
// per-operation timeouts.
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Adapter publishes broadcast.Messages as JSON on one Redis channel per
// broadcast channel name, and maintains one *redis.PubSub per subscribed
// channel.
type Adapter struct {
	name   string
	client *goredis.Client

	mu   sync.Mutex
	subs map[string]*goredis.PubSub
}

// New dials Redis eagerly (a failed Ping surfaces at construction time,
// matching the teacher's cache client).
func New(ctx context.Context, name string, cfg Config) (*Adapter, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, &broadcast.Error{Adapter: name, Op: "New", Err: err}
	}

	return &Adapter{name: name, client: client, subs: make(map[string]*goredis.PubSub)}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Publish(ctx context.Context, channel string, msg broadcast.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Publish", Err: err}
	}
	if err := a.client.Publish(ctx, channel, data).Err(); err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Publish", Err: err}
	}
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channel string, cb broadcast.Callback) error {
	pubsub := a.client.Subscribe(ctx, channel)

	a.mu.Lock()
	a.subs[channel] = pubsub
	a.mu.Unlock()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				var msg broadcast.Message
				if err := json.Unmarshal([]byte(payload.Payload), &msg); err != nil {
					continue
				}
				// Tolerate callback errors; keep consuming the channel.
				_ = cb(ctx, msg)
			}
		}
	}()
	return nil
}

func (a *Adapter) Unsubscribe(ctx context.Context, channel string) error {
	a.mu.Lock()
	pubsub, ok := a.subs[channel]
	delete(a.subs, channel)
	a.mu.Unlock()

	if !ok {
		return nil
	}
	if err := pubsub.Close(); err != nil {
		return &broadcast.Error{Adapter: a.name, Op: "Unsubscribe", Err: err}
	}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.client.Close()
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}
