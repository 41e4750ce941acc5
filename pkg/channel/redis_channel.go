package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowwatch/flowwatch/pkg/events"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

// redisEnvelope wraps events on the wire: Redis Pub/Sub messages carry no
// metadata, so the event type travels inside the payload.
type redisEnvelope struct {
	EventType  events.EventType `json:"event_type"`
	Credential string           `json:"credential,omitempty"`
	Payload    json.RawMessage  `json:"payload"`
}

// RedisChannel implements UpdateChannel over Redis Pub/Sub. Reconnection
// of the underlying connection is handled by the go-redis client itself;
// the channel only tracks the observable connection state.
type RedisChannel struct {
	*dispatcher

	url    string
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	lastErr       error
	credential    string
	connectHooks  []func(ctx context.Context)
	client        redis.UniversalClient
	pubsub        *redis.PubSub
	consumeCancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func NewRedisChannel(redisURL string, logger *slog.Logger) *RedisChannel {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "channel", "provider", "redis")

	return &RedisChannel{
		dispatcher: newDispatcher(logger, otel.Tracer("flowwatch/channel")),
		url:        redisURL,
		logger:     logger,
		state:      StateDisconnected,
	}
}

func (c *RedisChannel) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()

	if c.client != nil && c.state == StateConnected {
		c.mu.Unlock()

		return nil
	}

	if credential == "" {
		c.state = StateErrored
		c.lastErr = ErrNoCredential
		c.mu.Unlock()

		return ErrNoCredential
	}

	c.credential = credential

	return c.connectLocked(ctx)
}

func (c *RedisChannel) Reconnect(ctx context.Context) error {
	c.mu.Lock()

	if c.state == StateConnected {
		c.mu.Unlock()

		return nil
	}

	if c.credential == "" {
		c.state = StateErrored
		c.lastErr = ErrNoCredential
		c.mu.Unlock()

		return ErrNoCredential
	}

	return c.connectLocked(ctx)
}

// connectLocked dials Redis and starts the consumer. Called with c.mu
// held; releases it before running connect hooks.
func (c *RedisChannel) connectLocked(ctx context.Context) error {
	c.state = StateConnecting

	opts, err := redis.ParseURL(c.url)
	if err != nil {
		c.state = StateErrored
		c.lastErr = fmt.Errorf("parse redis url: %w", err)
		c.mu.Unlock()

		return c.lastErr
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		c.state = StateErrored
		c.lastErr = fmt.Errorf("ping redis: %w", err)
		c.mu.Unlock()

		c.logger.Error("failed to connect update channel", "error", err)

		return c.lastErr
	}

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	pubsub := client.Subscribe(consumeCtx, events.UpdatesTopic)

	c.client = client
	c.pubsub = pubsub
	c.consumeCancel = cancel
	c.state = StateConnected
	c.lastErr = nil

	hooks := make([]func(ctx context.Context), len(c.connectHooks))
	copy(hooks, c.connectHooks)

	c.mu.Unlock()

	go c.consume(consumeCtx, pubsub)

	c.logger.Info("update channel connected", "url", c.url)

	for _, id := range c.subscribedIDs() {
		c.publishIntent(consumeCtx, events.SubscribeExecution{
			BaseEvent:   events.NewBaseEvent(events.SubscribeExecutionEvent),
			ExecutionID: id,
		})
	}

	for _, hook := range hooks {
		hook(ctx)
	}

	return nil
}

func (c *RedisChannel) consume(ctx context.Context, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var envelope redisEnvelope

		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			c.logger.Warn("dropping message with unreadable envelope", "error", err)

			continue
		}

		c.deliver(ctx, envelope.EventType, envelope.Payload)
	}
}

func (c *RedisChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *RedisChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

func (c *RedisChannel) Subscribe(executionID string) bool {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		c.logger.Warn("cannot subscribe to execution: channel not connected",
			"execution_id", executionID)

		return false
	}

	sent := c.publishIntent(context.Background(), events.SubscribeExecution{
		BaseEvent:   events.NewBaseEvent(events.SubscribeExecutionEvent),
		ExecutionID: executionID,
	})
	if !sent {
		return false
	}

	c.addSubscription(executionID)

	return true
}

func (c *RedisChannel) Unsubscribe(executionID string) {
	c.removeSubscription(executionID)

	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		c.publishIntent(context.Background(), events.UnsubscribeExecution{
			BaseEvent:   events.NewBaseEvent(events.UnsubscribeExecutionEvent),
			ExecutionID: executionID,
		})
	}
}

func (c *RedisChannel) publishIntent(ctx context.Context, event Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("failed to marshal intent", "event_type", event.GetType(), "error", err)

		return false
	}

	c.mu.Lock()
	client := c.client
	credential := c.credential
	c.mu.Unlock()

	if client == nil {
		return false
	}

	envelope, err := json.Marshal(redisEnvelope{
		EventType:  event.GetType(),
		Credential: "Bearer " + credential,
		Payload:    payload,
	})
	if err != nil {
		return false
	}

	if err := client.Publish(ctx, events.ControlTopic, envelope).Err(); err != nil {
		c.logger.Error("failed to publish intent", "event_type", event.GetType(), "error", err)

		return false
	}

	return true
}

func (c *RedisChannel) Handle(eventType events.EventType, handler Handler) {
	c.handle(eventType, handler)
}

func (c *RedisChannel) Unhandle(eventType events.EventType) {
	c.unhandle(eventType)
}

func (c *RedisChannel) OnConnect(hook func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connectHooks = append(c.connectHooks, hook)
}

func (c *RedisChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()

		c.state = StateDisconnected

		if c.consumeCancel != nil {
			c.consumeCancel()
		}

		pubsub := c.pubsub
		client := c.client

		c.mu.Unlock()

		if pubsub != nil {
			if err := pubsub.Close(); err != nil {
				c.closeErr = err
			}
		}

		if client != nil {
			if err := client.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}

		c.logger.Info("update channel closed")
	})

	return c.closeErr
}
