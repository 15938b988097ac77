package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sluicelabs/sluice/ext"
	"github.com/sluicelabs/sluice/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Broker)(nil)
	_ ext.RequestSubmitted = (*Broker)(nil)
	_ ext.RequestAdmitted  = (*Broker)(nil)
	_ ext.RequestStarted   = (*Broker)(nil)
	_ ext.RequestRetrying  = (*Broker)(nil)
	_ ext.RequestFinished  = (*Broker)(nil)
	_ ext.RequestRejected  = (*Broker)(nil)
	_ ext.Shutdown         = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the real-time stream broker. It implements the ext.Extension
// interface to receive lifecycle events and fans them out to subscribers
// via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
// The subscriber's drop count is folded into the broker total.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.totalDropped.Add(sub.Dropped())
		sub.Close()
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	dropped := b.totalDropped.Load()
	b.subscribers.Range(func(_, val any) bool {
		count++
		dropped += val.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    dropped,
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish creates an event and broadcasts it to all matching topics.
func (b *Broker) publish(evt *Event) {
	topics := resolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Request lifecycle hooks ─────────────────────────

func (b *Broker) OnRequestSubmitted(_ context.Context, req *task.Request) error {
	b.publish(&Event{
		Type:      EventRequestSubmitted,
		Timestamp: time.Now().UTC(),
		Topic:     RequestTopic(req.ID.String()),
		Data: mustMarshal(RequestEventData{
			RequestID:    req.ID.String(),
			PayloadBytes: len(req.Payload),
		}),
	})
	return nil
}

func (b *Broker) OnRequestAdmitted(_ context.Context, req *task.Request) error {
	b.publish(&Event{
		Type:      EventRequestAdmitted,
		Timestamp: time.Now().UTC(),
		Topic:     RequestTopic(req.ID.String()),
		Data: mustMarshal(RequestEventData{
			RequestID:    req.ID.String(),
			PayloadBytes: len(req.Payload),
		}),
	})
	return nil
}

func (b *Broker) OnRequestStarted(_ context.Context, req *task.Request) error {
	b.publish(&Event{
		Type:      EventRequestStarted,
		Timestamp: time.Now().UTC(),
		Topic:     RequestTopic(req.ID.String()),
		Data: mustMarshal(RequestEventData{
			RequestID:    req.ID.String(),
			PayloadBytes: len(req.Payload),
		}),
	})
	return nil
}

func (b *Broker) OnRequestRetrying(_ context.Context, req *task.Request, attempt int, delay time.Duration) error {
	b.publish(&Event{
		Type:      EventRequestRetrying,
		Timestamp: time.Now().UTC(),
		Topic:     RequestTopic(req.ID.String()),
		Data: mustMarshal(RequestEventData{
			RequestID:   req.ID.String(),
			Attempt:     attempt,
			NextDelayMs: delay.Milliseconds(),
		}),
	})
	return nil
}

func (b *Broker) OnRequestFinished(_ context.Context, req *task.Request, out *task.Outcome) error {
	data := RequestEventData{
		RequestID: req.ID.String(),
		Status:    string(out.Status),
		Attempts:  out.Attempts,
		LatencyMs: out.Latency.Milliseconds(),
		Error:     out.ErrorDetail(),
	}
	if !out.WorkerID.IsNil() {
		data.WorkerID = out.WorkerID.String()
	}
	b.publish(&Event{
		Type:      EventRequestFinished,
		Timestamp: time.Now().UTC(),
		Topic:     RequestTopic(req.ID.String()),
		Data:      mustMarshal(data),
	})
	return nil
}

func (b *Broker) OnRequestRejected(_ context.Context, req *task.Request, reason error) error {
	b.publish(&Event{
		Type:      EventRequestRejected,
		Timestamp: time.Now().UTC(),
		Topic:     RequestTopic(req.ID.String()),
		Data: mustMarshal(RequestEventData{
			RequestID: req.ID.String(),
			Error:     reason.Error(),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.totalDropped.Add(sub.Dropped())
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
