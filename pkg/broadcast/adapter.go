package broadcast

import "context"

// Callback receives an inbound Message from an adapter's transport. Adapters
// must tolerate a callback that returns an error and keep delivering to
// other subscribers; they do not interpret the error themselves.
type Callback func(ctx context.Context, msg Message) error

// Adapter is the pluggable transport contract. Name must be unique within a
// Manager. Disconnect and HealthCheck are optional: an adapter that has
// nothing useful to report for either simply omits them, detected via the
// Disconnector/HealthChecker capability interfaces below.
type Adapter interface {
	Name() string
	Publish(ctx context.Context, channel string, msg Message) error
	Subscribe(ctx context.Context, channel string, cb Callback) error
	Unsubscribe(ctx context.Context, channel string) error
}

// Disconnector is an optional Adapter capability for transports that hold a
// persistent connection (Redis, Kafka, RabbitMQ) and need explicit teardown.
type Disconnector interface {
	Disconnect(ctx context.Context) error
}

// HealthChecker is an optional Adapter capability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
