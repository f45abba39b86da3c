// Package notify delivers operator notifications.
package notify

import (
	"context"
	"log/slog"
)

// Message is a plain-text notification.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Notifier delivers a Message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to a logger instead of sending them.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.log.InfoContext(ctx, "notification",
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
