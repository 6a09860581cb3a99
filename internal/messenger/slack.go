package messenger

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

const actionBlockID = "attendance_actions"

type SlackMessenger struct {
	client *slack.Client
}

func NewSlackMessenger(botToken string) *SlackMessenger {
	return &SlackMessenger{client: slack.New(botToken)}
}

func (m *SlackMessenger) Post(ctx context.Context, channel string, msg Message) (string, error) {
	const op = "messenger.SlackMessenger.Post"

	_, ts, err := m.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(Blocks(msg)...),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return ts, nil
}

func (m *SlackMessenger) Update(ctx context.Context, channel, ref string, msg Message) error {
	const op = "messenger.SlackMessenger.Update"

	_, _, _, err := m.client.UpdateMessageContext(ctx, channel, ref,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(Blocks(msg)...),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Blocks renders a message as Block Kit. A message without buttons
// replaces any previous action row, so edited messages lose stale buttons.
func Blocks(msg Message) []slack.Block {
	body := msg.Text
	if len(msg.Lines) > 0 {
		body = strings.Join(msg.Lines, "\n")
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, body, false, false),
			nil, nil,
		),
	}

	if len(msg.Buttons) == 0 {
		return blocks
	}

	elements := make([]slack.BlockElement, 0, len(msg.Buttons))
	for _, b := range msg.Buttons {
		btn := slack.NewButtonBlockElement(
			b.ActionID,
			b.Value,
			slack.NewTextBlockObject(slack.PlainTextType, b.Text, false, false),
		)
		btn.Style = slack.Style(b.Style)
		elements = append(elements, btn)
	}

	return append(blocks, slack.NewActionBlock(actionBlockID, elements...))
}
