package web

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flowwatch/flowwatch/pkg/channel"
	"github.com/flowwatch/flowwatch/pkg/events"
)

// UpdatePublisher emits execution lifecycle events to the update channel
// transport so connected clients see backend-side changes in real time.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, key string, event channel.Event) error
}

// WatermillPublisher publishes update events over a watermill publisher.
type WatermillPublisher struct {
	publisher message.Publisher
}

func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) PublishUpdate(_ context.Context, key string, event channel.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return p.publisher.Publish(events.UpdatesTopic, msg)
}
