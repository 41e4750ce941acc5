// Package notify defines the notification collaborator the tracking core
// routes human-readable messages through. A UI embeds its own toaster
// behind this interface; the default implementation logs.
package notify

import "log/slog"

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier receives user-facing messages. Implementations must not block.
type Notifier interface {
	Notify(level Level, message string)
}

// SlogNotifier routes notifications to the structured logger.
type SlogNotifier struct {
	logger *slog.Logger
}

func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &SlogNotifier{logger: logger.With("module", "notify")}
}

func (n *SlogNotifier) Notify(level Level, message string) {
	switch level {
	case LevelWarning:
		n.logger.Warn(message)
	case LevelError:
		n.logger.Error(message)
	default:
		n.logger.Info(message)
	}
}

// NopNotifier discards all notifications. Useful in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(Level, string) {}
