package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flowwatch/flowwatch/pkg/channels/gochannel"
	"github.com/flowwatch/flowwatch/pkg/channels/kafka"
)

// NewUpdatePublisher creates a bare watermill publisher for binaries that
// only emit lifecycle events ("kafka" or "gochannel").
func NewUpdatePublisher(provider string, logger *slog.Logger) message.Publisher {
	switch provider {
	case "kafka":
		pub, _, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "flowwatch-sim")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka publisher: %w", err))
		}

		return pub
	case "gochannel":
		pub, _, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel publisher: %w", err))
		}

		return pub
	default:
		panic("Unsupported update publisher provider: " + provider)
	}
}
