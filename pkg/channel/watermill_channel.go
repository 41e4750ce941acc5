package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flowwatch/flowwatch/pkg/events"
	"go.opentelemetry.io/otel"
)

const (
	maxReconnectAttempts = 5
	reconnectBaseDelay   = time.Second
)

// ErrReconnectExhausted indicates the channel gave up reconnecting after
// the bounded number of attempts. A manual Reconnect resets the budget.
var ErrReconnectExhausted = errors.New("reconnection attempts exhausted")

// WatermillChannel implements UpdateChannel on top of a watermill
// publisher/subscriber pair: GoChannel in-memory for tests and local
// development, Kafka in production. A single consumer goroutine reads the
// updates topic and dispatches decoded events to the registered handlers;
// subscription intents go out on the control topic.
type WatermillChannel struct {
	*dispatcher

	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu             sync.Mutex
	state          State
	lastErr        error
	credential     string
	connectHooks   []func(ctx context.Context)
	consumeCancel  context.CancelFunc
	reconnectTimer *time.Timer
	attempts       int
	closed         bool

	closeOnce sync.Once
	closeErr  error
}

func NewWatermillChannel(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillChannel {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "channel")

	return &WatermillChannel{
		dispatcher: newDispatcher(logger, otel.Tracer("flowwatch/channel")),
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
		state:      StateDisconnected,
	}
}

func (c *WatermillChannel) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return ErrClosed
	}

	if c.state == StateConnected {
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

func (c *WatermillChannel) Reconnect(ctx context.Context) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return ErrClosed
	}

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

	c.attempts = 0

	return c.connectLocked(ctx)
}

// connectLocked performs the subscribe handshake. Called with c.mu held;
// releases it before running connect hooks.
func (c *WatermillChannel) connectLocked(ctx context.Context) error {
	c.state = StateConnecting

	// The consumer must outlive the caller's context: a page-level
	// connect call returning does not end the session.
	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	messages, err := c.subscriber.Subscribe(consumeCtx, events.UpdatesTopic)
	if err != nil {
		cancel()

		c.state = StateErrored
		c.lastErr = fmt.Errorf("subscribe to %s: %w", events.UpdatesTopic, err)
		c.mu.Unlock()

		c.logger.Error("failed to connect update channel", "error", err)

		return c.lastErr
	}

	c.consumeCancel = cancel
	c.state = StateConnected
	c.lastErr = nil
	c.attempts = 0

	hooks := make([]func(ctx context.Context), len(c.connectHooks))
	copy(hooks, c.connectHooks)

	c.mu.Unlock()

	go c.consume(consumeCtx, messages)

	c.logger.Info("update channel connected")

	// Re-issue intents for subscriptions that predate this connection.
	for _, id := range c.subscribedIDs() {
		c.sendIntent(events.SubscribeExecution{
			BaseEvent:   events.NewBaseEvent(events.SubscribeExecutionEvent),
			ExecutionID: id,
		}, id)
	}

	for _, hook := range hooks {
		hook(ctx)
	}

	return nil
}

func (c *WatermillChannel) consume(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		c.deliver(ctx, eventType, msg.Payload)
		msg.Ack()
	}

	c.streamClosed()
}

// streamClosed handles the consumer channel closing underneath a live
// connection: a network drop. Deliberate teardown is recognized by the
// state no longer being connected.
func (c *WatermillChannel) streamClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateConnected {
		return
	}

	c.logger.Warn("update channel disconnected")

	c.state = StateDisconnected
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the next reconnection attempt with linear
// backoff, up to the bounded attempt count. Caller holds c.mu.
func (c *WatermillChannel) scheduleReconnectLocked() {
	if c.attempts >= maxReconnectAttempts {
		c.state = StateErrored
		c.lastErr = ErrReconnectExhausted

		c.logger.Error("giving up on reconnection", "attempts", c.attempts)

		return
	}

	c.attempts++
	delay := time.Duration(c.attempts) * reconnectBaseDelay

	c.logger.Info("scheduling reconnection attempt", "attempt", c.attempts, "delay", delay)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()

		if c.closed || c.state == StateConnected {
			c.mu.Unlock()

			return
		}

		if err := c.connectLocked(context.Background()); err != nil {
			c.mu.Lock()
			c.scheduleReconnectLocked()
			c.mu.Unlock()
		}
	})
}

func (c *WatermillChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *WatermillChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

func (c *WatermillChannel) Subscribe(executionID string) bool {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		c.logger.Warn("cannot subscribe to execution: channel not connected",
			"execution_id", executionID)

		return false
	}

	sent := c.sendIntent(events.SubscribeExecution{
		BaseEvent:   events.NewBaseEvent(events.SubscribeExecutionEvent),
		ExecutionID: executionID,
	}, executionID)
	if !sent {
		return false
	}

	c.addSubscription(executionID)

	return true
}

func (c *WatermillChannel) Unsubscribe(executionID string) {
	c.removeSubscription(executionID)

	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		c.sendIntent(events.UnsubscribeExecution{
			BaseEvent:   events.NewBaseEvent(events.UnsubscribeExecutionEvent),
			ExecutionID: executionID,
		}, executionID)
	}
}

// sendIntent publishes one outbound control event, carrying the bearer
// credential and correlation key as message metadata.
func (c *WatermillChannel) sendIntent(event Event, executionID string) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("failed to marshal intent", "event_type", event.GetType(), "error", err)

		return false
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, executionID)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	c.mu.Lock()
	credential := c.credential
	c.mu.Unlock()

	msg.Metadata.Set(events.CredentialMetadataKey, "Bearer "+credential)

	if err := c.publisher.Publish(events.ControlTopic, msg); err != nil {
		c.logger.Error("failed to publish intent",
			"event_type", event.GetType(), "execution_id", executionID, "error", err)

		return false
	}

	return true
}

func (c *WatermillChannel) Handle(eventType events.EventType, handler Handler) {
	c.handle(eventType, handler)
}

func (c *WatermillChannel) Unhandle(eventType events.EventType) {
	c.unhandle(eventType)
}

func (c *WatermillChannel) OnConnect(hook func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connectHooks = append(c.connectHooks, hook)
}

func (c *WatermillChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()

		c.closed = true
		c.state = StateDisconnected

		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
		}

		if c.consumeCancel != nil {
			c.consumeCancel()
		}

		c.mu.Unlock()

		if err := c.publisher.Close(); err != nil {
			c.closeErr = err
		}

		if err := c.subscriber.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}

		c.logger.Info("update channel closed")
	})

	return c.closeErr
}
