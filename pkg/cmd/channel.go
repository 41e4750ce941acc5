// Package cmd provides common initialization functions for the
// command-line binaries.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/flowwatch/flowwatch/pkg/channel"
	"github.com/flowwatch/flowwatch/pkg/channels/gochannel"
	"github.com/flowwatch/flowwatch/pkg/channels/kafka"
)

// NewUpdateChannel creates an update channel for the given provider:
// "kafka", "gochannel", or a redis:// URL.
func NewUpdateChannel(provider string, logger *slog.Logger) channel.UpdateChannel {
	switch {
	case provider == "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "flowwatch")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return channel.NewWatermillChannel(pub, sub, logger)
	case provider == "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel pub/sub: %w", err))
		}

		return channel.NewWatermillChannel(pub, sub, logger)
	case strings.HasPrefix(provider, "redis://"), strings.HasPrefix(provider, "rediss://"):
		return channel.NewRedisChannel(provider, logger)
	default:
		panic("Unsupported update channel provider: " + provider)
	}
}
