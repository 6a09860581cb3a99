package queue

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindReport      Kind = "report"
	KindInteraction Kind = "interaction"
)

// Task is one webhook delivery handed off for background processing:
// either a chat report or a button click. For clicks ReporterID holds
// the clicking user.
type Task struct {
	Kind       Kind      `json:"kind"`
	EventID    string    `json:"event_id,omitempty"`
	ReporterID string    `json:"reporter_id"`
	ChannelID  string    `json:"channel_id"`
	Text       string    `json:"text,omitempty"`
	ActionID   string    `json:"action_id,omitempty"`
	PendingID  string    `json:"pending_id,omitempty"`
	MessageRef string    `json:"message_ref,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// Queue decouples the webhook ack from report processing. Delivery is
// at least once; handlers must tolerate duplicates.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}
