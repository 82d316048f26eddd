package domain

import (
	"bytes"
	"context"
	"encoding/json"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Every subscriber receives
	// every message. Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// SubscribeGroup registers a handler as a member of a consumer group.
	// Each message is delivered to exactly one member of the group, so
	// replicas sharing a group split the work instead of repeating it.
	SubscribeGroup(ctx context.Context, tenantID string, topic string, group string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds
}

// Standard topic names for the scoring pipeline.
const (
	TopicTransactionIngested = "fraudguard.transaction.ingested"
	TopicDecision            = "fraudguard.decision"
	TopicAlert               = "fraudguard.alert"

	// TopicModelPublished announces a newly persisted artifact so that other
	// nodes sharing the artifact store can restore it.
	TopicModelPublished = "fraudguard.model.published"
)

// GlobalTenantID is used for subscriptions and records that span all tenants.
const GlobalTenantID = "*"

// IngestedTransaction is the payload of TopicTransactionIngested. The record
// travels as its raw attribute object and is parsed again by the consumer,
// since any publisher on the subject can produce one.
type IngestedTransaction struct {
	TenantID    string          `json:"tenantId"`
	TraceID     string          `json:"traceId,omitempty"`
	Transaction json.RawMessage `json:"transaction"`
}

// NewIngestedTransaction wraps a parsed record for the bus.
func NewIngestedTransaction(tenantID, traceID string, tx Transaction) (IngestedTransaction, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return IngestedTransaction{}, err
	}
	return IngestedTransaction{TenantID: tenantID, TraceID: traceID, Transaction: raw}, nil
}

// Record parses and validates the carried record. A missing or malformed
// attribute fails with ErrSchemaMismatch.
func (in *IngestedTransaction) Record() (Transaction, error) {
	if len(in.Transaction) == 0 {
		return Transaction{}, &FieldError{Field: "transaction", Reason: "is required"}
	}
	return DecodeTransaction(bytes.NewReader(in.Transaction))
}

// AlertEvent is the payload of TopicAlert. AlertsInWindow counts the alerts
// raised for the same user within the alert window, this one included.
type AlertEvent struct {
	Prediction     PredictionRecord `json:"prediction"`
	AlertsInWindow int64            `json:"alertsInWindow"`
}

// ModelPublished is the payload of TopicModelPublished.
type ModelPublished struct {
	ArtifactID string `json:"artifactId"`
	RunID      string `json:"runId,omitempty"`
	Source     string `json:"source"`
}
