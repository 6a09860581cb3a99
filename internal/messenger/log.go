package messenger

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
)

// LogMessenger writes messages to the log instead of a chat platform.
// It is used when no bot token is configured.
type LogMessenger struct {
	log *slog.Logger
	seq atomic.Int64
}

func NewLogMessenger(log *slog.Logger) *LogMessenger {
	return &LogMessenger{log: log}
}

func (m *LogMessenger) Post(_ context.Context, channel string, msg Message) (string, error) {
	ref := "log-" + strconv.FormatInt(m.seq.Add(1), 10)

	m.log.Info("post message",
		slog.String("channel", channel),
		slog.String("ref", ref),
		slog.String("text", msg.Text),
		slog.Any("lines", msg.Lines),
		slog.Int("buttons", len(msg.Buttons)),
	)

	return ref, nil
}

func (m *LogMessenger) Update(_ context.Context, channel, ref string, msg Message) error {
	m.log.Info("update message",
		slog.String("channel", channel),
		slog.String("ref", ref),
		slog.String("text", msg.Text),
		slog.Any("lines", msg.Lines),
	)

	return nil
}
