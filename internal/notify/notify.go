package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"attendance-bot/internal/messenger"
	"attendance-bot/internal/models"
	"attendance-bot/pkg/sl"
)

type Kind string

const (
	KindApplied Kind = "applied"
	KindUndone  Kind = "undone"
)

// Summary describes an applied or reversed batch.
type Summary struct {
	Kind     Kind
	Pending  *models.PendingConfirmation
	Counts   map[string]int
	DryRun   bool
	Warnings []string
}

// Notifier posts digests of applied and undone batches to a shared
// channel. Delivery is best effort; failures are logged only.
type Notifier struct {
	log     *slog.Logger
	msgr    messenger.Messenger
	channel string
}

func New(log *slog.Logger, msgr messenger.Messenger, digestChannel string) *Notifier {
	return &Notifier{log: log, msgr: msgr, channel: digestChannel}
}

func (n *Notifier) Notify(ctx context.Context, s Summary) {
	const op = "notify.Notifier.Notify"

	if n == nil || n.channel == "" || s.Pending == nil {
		return
	}

	log := n.log.With(
		slog.String("op", op),
		slog.String("pending_id", s.Pending.ID),
		slog.String("kind", string(s.Kind)),
	)

	if _, err := n.msgr.Post(ctx, n.channel, BuildDigest(s)); err != nil {
		log.Warn("failed to post digest", sl.Err(err))
		return
	}

	log.Debug("digest posted")
}

func BuildDigest(s Summary) messenger.Message {
	verb := "recorded"
	if s.Kind == KindUndone {
		verb = "reversed"
	}

	head := fmt.Sprintf("<@%s> %s attendance entries (%s)", s.Pending.ReporterID, verb, formatCounts(s.Counts))
	if s.DryRun {
		head += " [dry run]"
	}

	lines := []string{head}
	for _, e := range s.Pending.Writable() {
		lines = append(lines, "• "+messenger.DescribeEvent(e))
	}
	for _, w := range s.Warnings {
		lines = append(lines, ":warning: "+w)
	}

	return messenger.Message{Text: head, Lines: lines}
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "no rows"
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}

	return strings.Join(parts, ", ")
}
