package messenger

import "context"

const (
	ActionConfirm = "confirm_attendance"
	ActionCancel  = "cancel_attendance"
)

type ButtonStyle string

const (
	StyleDefault ButtonStyle = ""
	StylePrimary ButtonStyle = "primary"
	StyleDanger  ButtonStyle = "danger"
)

type Button struct {
	ActionID string
	Text     string
	Value    string
	Style    ButtonStyle
}

// Message is a platform-neutral chat message. Text is the notification
// fallback, Lines render as the body and Buttons as one action row.
type Message struct {
	Text    string
	Lines   []string
	Buttons []Button
}

// Messenger posts and edits chat messages. Post returns the handle used
// by Update to edit the message in place.
type Messenger interface {
	Post(ctx context.Context, channel string, msg Message) (string, error)
	Update(ctx context.Context, channel, ref string, msg Message) error
}
