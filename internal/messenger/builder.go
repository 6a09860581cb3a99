package messenger

import (
	"fmt"
	"strings"
	"time"

	"attendance-bot/internal/models"
)

const dateLayout = "Mon Jan 2"

// DescribeEvent renders one event as a single line.
func DescribeEvent(e models.ParsedAttendanceEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*%s*: %s", e.DisplayName(), e.EventType.Label())
	if e.Minutes != nil && e.EventType.Timed() {
		fmt.Fprintf(&b, " (%d min)", *e.Minutes)
	}
	fmt.Fprintf(&b, " on %s", e.Date.Format(dateLayout))
	if e.Reason != nil && *e.Reason != "" {
		fmt.Fprintf(&b, ": _%s_", *e.Reason)
	}

	return b.String()
}

func describeAmbiguous(e models.ParsedAttendanceEvent) string {
	line := fmt.Sprintf(":warning: *%s* (%s) could not be matched to one employee", e.RawName, e.EventType.Label())
	if len(e.Candidates) > 0 {
		line += fmt.Sprintf("; possible matches: %s", strings.Join(e.Candidates, ", "))
	}
	return line + ". It will not be recorded; send a corrected report for it."
}

func eventLines(events []models.ParsedAttendanceEvent) []string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		if e.ResolvedName == nil || e.Ambiguous {
			lines = append(lines, describeAmbiguous(e))
			continue
		}
		lines = append(lines, "• "+DescribeEvent(e))
	}
	return lines
}

// BuildConfirmation renders a pending batch with confirm and cancel
// buttons. Both buttons carry the pending id as their value. The confirm
// button is left out when nothing in the batch can be recorded.
func BuildConfirmation(p *models.PendingConfirmation, expiry time.Duration) Message {
	writable := len(p.Writable())

	lines := []string{fmt.Sprintf("I found %s in your message:", plural(len(p.Events), "attendance entry", "attendance entries"))}
	lines = append(lines, eventLines(p.Events)...)

	buttons := make([]Button, 0, 2)
	if writable > 0 {
		lines = append(lines, fmt.Sprintf("Confirm to record %s. This request expires in %s.",
			plural(writable, "entry", "entries"), humanDuration(expiry)))
		buttons = append(buttons, Button{ActionID: ActionConfirm, Text: "Confirm", Value: p.ID, Style: StylePrimary})
	} else {
		lines = append(lines, "None of these entries can be recorded as-is.")
	}
	buttons = append(buttons, Button{ActionID: ActionCancel, Text: "Cancel", Value: p.ID, Style: StyleDanger})

	return Message{
		Text:    "Please confirm the attendance entries",
		Lines:   lines,
		Buttons: buttons,
	}
}

func BuildConfirmed(p *models.PendingConfirmation, written int, dryRun bool) Message {
	head := fmt.Sprintf(":white_check_mark: Recorded %s.", plural(written, "entry", "entries"))
	if dryRun {
		head = fmt.Sprintf(":white_check_mark: Dry run: %s would have been recorded.", plural(written, "entry", "entries"))
	}

	lines := append([]string{head}, eventLines(p.Events)...)
	lines = append(lines, `Send "undo" shortly if this was a mistake.`)

	return Message{Text: head, Lines: lines}
}

func BuildCancelled(p *models.PendingConfirmation) Message {
	text := ":x: Cancelled. Nothing was recorded."
	return Message{Text: text, Lines: append([]string{text}, eventLines(p.Events)...)}
}

func BuildExpired(p *models.PendingConfirmation) Message {
	text := ":hourglass: This request expired before it was confirmed. Nothing was recorded; please resend your report."
	return Message{Text: text, Lines: append([]string{text}, eventLines(p.Events)...)}
}

// BuildWriteFailed replaces the buttons after a failed ledger write. The
// batch stays locked, so the reporter is pointed at a manual fix.
func BuildWriteFailed(p *models.PendingConfirmation, undo bool) Message {
	text := ":rotating_light: I could not record these entries. Some rows may have been written; please check the attendance sheet and correct it manually. This request will not be retried."
	if undo {
		text = ":rotating_light: I could not reverse these entries. Some rows may already be gone; please check the attendance sheet and correct it manually. This undo will not be retried."
	}

	return Message{Text: text, Lines: append([]string{text}, eventLines(p.Events)...)}
}

func BuildUndone(p *models.PendingConfirmation, removed int, warnings []string, dryRun bool) Message {
	head := fmt.Sprintf(":leftwards_arrow_with_hook: Undone. Removed %s.", plural(removed, "entry", "entries"))
	if dryRun {
		head = fmt.Sprintf(":leftwards_arrow_with_hook: Dry run: %s would have been removed.", plural(removed, "entry", "entries"))
	}

	lines := append([]string{head}, eventLines(p.Events)...)
	for _, w := range warnings {
		lines = append(lines, ":warning: "+w)
	}

	return Message{Text: head, Lines: lines}
}

func BuildNoUndoCandidate(window time.Duration) Message {
	text := fmt.Sprintf("No confirmed entries found in the last %d minutes.", int(window.Minutes()))
	return Message{Text: text}
}

func BuildNoEvents() Message {
	text := "I couldn't identify any attendance events in that message."
	return Message{
		Text: text,
		Lines: []string{
			text,
			"Try something like:",
			"• _Sarah called out sick today_",
			"• _John was 15 minutes late this morning_",
			"• _Maria left 30 min early yesterday for a dentist appointment_",
			`Send "undo" to reverse your last confirmed report.`,
		},
	}
}

func BuildDenied() Message {
	return Message{Text: "You are not authorized to report attendance. Ask an administrator to add you to the reporter list."}
}

func BuildParseFailed() Message {
	return Message{Text: "I couldn't process that message right now. Nothing was saved; please try again in a few minutes."}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return plural(int(d/time.Hour), "hour", "hours")
	}
	return plural(int(d.Round(time.Minute)/time.Minute), "minute", "minutes")
}
