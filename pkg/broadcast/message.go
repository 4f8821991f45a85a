package broadcast

// Message is the wire shape published on every adapter: JSON-safe so any
// transport (Redis, Kafka, RabbitMQ, or an in-process channel) can carry it
// without a bespoke encoding.
type Message struct {
	BroadcastID string
	ID          string
	Source      string
	EventName   string
	Context     any
	TraceID     string
	Version     int
	TimestampMS int64
}

// key identifies a message for deduplication purposes.
func (m Message) key() string {
	return m.BroadcastID + "|" + m.Source
}
