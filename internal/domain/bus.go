package domain

import "context"

// EventBus carries engine and ingestion events to downstream consumers
// (notification workers, dashboards). Backed by Go channels for single-node
// deployments or NATS for distributed ones.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// Standard topic names.
const (
	TopicAlertCreated    = "kestrel.alert.created"
	TopicFlagCreated     = "kestrel.flag.created"
	TopicEngineSummary   = "kestrel.engine.summary"
	TopicIngestCompleted = "kestrel.ingest.completed"
)
