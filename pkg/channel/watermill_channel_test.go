package channel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/flowwatch/flowwatch/pkg/channels/gochannel"
	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCredential = "test-token"

func newTestChannel(t *testing.T) (*WatermillChannel, wmmessage.Publisher) {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	channel := NewWatermillChannel(pub, sub, nil)
	t.Cleanup(func() {
		_ = channel.Close()
	})

	return channel, pub
}

// publishInbound simulates the backend emitting an event on the updates topic.
func publishInbound(t *testing.T, pub wmmessage.Publisher, eventType events.EventType, event any) {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	msg := wmmessage.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(eventType))

	require.NoError(t, pub.Publish(events.UpdatesTopic, msg))
}

func waitForEvent(t *testing.T, received <-chan any) any {
	t.Helper()

	select {
	case event := <-received:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")

		return nil
	}
}

func TestWatermillChannel_Connect_RequiresCredential(t *testing.T) {
	channel, _ := newTestChannel(t)

	err := channel.Connect(context.Background(), "")
	require.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, StateErrored, channel.State())
	assert.ErrorIs(t, channel.Err(), ErrNoCredential)
}

func TestWatermillChannel_Connect_Idempotent(t *testing.T) {
	channel, _ := newTestChannel(t)

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	assert.Equal(t, StateConnected, channel.State())

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	assert.Equal(t, StateConnected, channel.State())
}

func TestWatermillChannel_Subscribe_WhileDisconnected(t *testing.T) {
	channel, _ := newTestChannel(t)

	assert.False(t, channel.Subscribe("exec-1"))
}

func TestWatermillChannel_Subscribe_SendsIntent(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	intents, err := sub.Subscribe(context.Background(), events.ControlTopic)
	require.NoError(t, err)

	channel := NewWatermillChannel(pub, sub, nil)
	t.Cleanup(func() {
		_ = channel.Close()
	})

	// Publishing blocks until the observer acks, so drain concurrently.
	got := make(chan *wmmessage.Message, 1)

	go func() {
		msg := <-intents
		msg.Ack()
		got <- msg
	}()

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	require.True(t, channel.Subscribe("exec-1"))

	select {
	case msg := <-got:
		assert.Equal(t, string(events.SubscribeExecutionEvent),
			msg.Metadata.Get(events.EventTypeMetadataKey))
		assert.Equal(t, "exec-1", msg.Metadata.Get(events.EventMetadataKey))
		assert.Equal(t, "Bearer "+testCredential,
			msg.Metadata.Get(events.CredentialMetadataKey))

		var intent events.SubscribeExecution
		require.NoError(t, json.Unmarshal(msg.Payload, &intent))
		assert.Equal(t, "exec-1", intent.ExecutionID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe intent")
	}
}

func TestWatermillChannel_DeliversSubscribedUpdates(t *testing.T) {
	channel, pub := newTestChannel(t)

	received := make(chan any, 1)
	channel.Handle(events.ExecutionUpdateEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	require.True(t, channel.Subscribe("exec-1"))

	publishInbound(t, pub, events.ExecutionUpdateEvent, events.ExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusRunning,
	})

	event := waitForEvent(t, received)
	update, ok := event.(*events.ExecutionUpdate)
	require.True(t, ok)
	assert.Equal(t, "exec-1", update.ExecutionID)
	assert.Equal(t, models.ExecutionStatusRunning, update.Status)
}

func TestWatermillChannel_FiltersUnsubscribedUpdates(t *testing.T) {
	channel, pub := newTestChannel(t)

	received := make(chan any, 2)
	channel.Handle(events.ExecutionUpdateEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	require.True(t, channel.Subscribe("exec-1"))

	publishInbound(t, pub, events.ExecutionUpdateEvent, events.ExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
		ExecutionID: "exec-other",
		Status:      models.ExecutionStatusRunning,
	})
	publishInbound(t, pub, events.ExecutionUpdateEvent, events.ExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusCompleted,
	})

	// Only the subscribed execution's update arrives.
	event := waitForEvent(t, received)
	update, ok := event.(*events.ExecutionUpdate)
	require.True(t, ok)
	assert.Equal(t, "exec-1", update.ExecutionID)
	assert.Empty(t, received)
}

func TestWatermillChannel_StartedEventsBypassSubscriptionFilter(t *testing.T) {
	channel, pub := newTestChannel(t)

	received := make(chan any, 1)
	channel.Handle(events.ExecutionStartedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, channel.Connect(context.Background(), testCredential))

	publishInbound(t, pub, events.ExecutionStartedEvent, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent),
		Execution: models.Execution{
			ID:         "exec-brand-new",
			WorkflowID: "wf-1",
			Status:     models.ExecutionStatusPending,
		},
	})

	event := waitForEvent(t, received)
	started, ok := event.(*events.ExecutionStarted)
	require.True(t, ok)
	assert.Equal(t, "exec-brand-new", started.Execution.ID)
}

func TestWatermillChannel_DropsMalformedPayloads(t *testing.T) {
	channel, pub := newTestChannel(t)

	received := make(chan any, 1)
	channel.Handle(events.ExecutionUpdateEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	require.True(t, channel.Subscribe("exec-1"))

	// Missing required status field: rejected by schema validation.
	msg := wmmessage.NewMessage(watermill.NewUUID(), []byte(`{"execution_id":"exec-1"}`))
	msg.Metadata.Set(events.EventTypeMetadataKey, string(events.ExecutionUpdateEvent))
	require.NoError(t, pub.Publish(events.UpdatesTopic, msg))

	publishInbound(t, pub, events.ExecutionUpdateEvent, events.ExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusRunning,
	})

	event := waitForEvent(t, received)
	update, ok := event.(*events.ExecutionUpdate)
	require.True(t, ok)
	assert.Equal(t, models.ExecutionStatusRunning, update.Status)
	assert.Empty(t, received)
}

func TestWatermillChannel_HandlerErrorDoesNotBreakStream(t *testing.T) {
	channel, pub := newTestChannel(t)

	received := make(chan any, 2)
	channel.Handle(events.ExecutionUpdateEvent, func(_ context.Context, event any) error {
		received <- event

		return assert.AnError
	})

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	require.True(t, channel.Subscribe("exec-1"))

	for range 2 {
		publishInbound(t, pub, events.ExecutionUpdateEvent, events.ExecutionUpdate{
			BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
			ExecutionID: "exec-1",
			Status:      models.ExecutionStatusRunning,
		})
	}

	waitForEvent(t, received)
	waitForEvent(t, received)

	assert.Equal(t, StateConnected, channel.State())
}

func TestWatermillChannel_OnConnectHookRuns(t *testing.T) {
	channel, _ := newTestChannel(t)

	ran := make(chan struct{}, 1)
	channel.OnConnect(func(_ context.Context) {
		ran <- struct{}{}
	})

	require.NoError(t, channel.Connect(context.Background(), testCredential))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("connect hook never ran")
	}
}

func TestWatermillChannel_Unhandle(t *testing.T) {
	channel, pub := newTestChannel(t)

	received := make(chan any, 1)
	channel.Handle(events.ExecutionUpdateEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	channel.Unhandle(events.ExecutionUpdateEvent)

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	require.True(t, channel.Subscribe("exec-1"))

	publishInbound(t, pub, events.ExecutionUpdateEvent, events.ExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusRunning,
	})

	select {
	case <-received:
		t.Fatal("handler ran after Unhandle")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatermillChannel_CloseThenConnect(t *testing.T) {
	channel, _ := newTestChannel(t)

	require.NoError(t, channel.Connect(context.Background(), testCredential))
	require.NoError(t, channel.Close())

	// Idempotent close.
	require.NoError(t, channel.Close())

	assert.ErrorIs(t, channel.Connect(context.Background(), testCredential), ErrClosed)
	assert.ErrorIs(t, channel.Reconnect(context.Background()), ErrClosed)
	assert.Equal(t, StateDisconnected, channel.State())
}
