package messenger

import (
	"strings"
	"testing"
	"time"

	"attendance-bot/internal/models"

	"github.com/slack-go/slack"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func pending(events ...models.ParsedAttendanceEvent) *models.PendingConfirmation {
	return &models.PendingConfirmation{
		ID:         "3f0c5a9e-7d0e-4f53-9a51-1b7b8a1e2c44",
		ReporterID: "U1",
		ChannelID:  "C1",
		Status:     models.StatusPending,
		Events:     events,
	}
}

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func TestBuildConfirmation(t *testing.T) {
	resolved := models.ParsedAttendanceEvent{RawName: "Sarah", ResolvedName: strPtr("Sarah Connor"), EventType: models.EventAbsent, Date: day, Reason: strPtr("sick")}
	ambiguous := models.ParsedAttendanceEvent{RawName: "Mike", EventType: models.EventLate, Date: day, Ambiguous: true, Candidates: []string{"Mike Brown", "Mike Green"}}

	tests := []struct {
		name        string
		p           *models.PendingConfirmation
		wantActions []string
		wantLine    string
	}{
		{
			name:        "resolved events get both buttons",
			p:           pending(resolved),
			wantActions: []string{ActionConfirm, ActionCancel},
			wantLine:    "*Sarah Connor*: Absent on Mon Mar 2: _sick_",
		},
		{
			name:        "ambiguous names are flagged",
			p:           pending(resolved, ambiguous),
			wantActions: []string{ActionConfirm, ActionCancel},
			wantLine:    "possible matches: Mike Brown, Mike Green",
		},
		{
			name:        "nothing writable leaves only cancel",
			p:           pending(ambiguous),
			wantActions: []string{ActionCancel},
			wantLine:    ":warning: *Mike* (Late) could not be matched",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := BuildConfirmation(tt.p, 30*time.Minute)

			if len(msg.Buttons) != len(tt.wantActions) {
				t.Fatalf("buttons = %+v", msg.Buttons)
			}
			for i, b := range msg.Buttons {
				if b.ActionID != tt.wantActions[i] {
					t.Errorf("button %d action = %s, want %s", i, b.ActionID, tt.wantActions[i])
				}
				if b.Value != tt.p.ID {
					t.Errorf("button %d value = %s, want pending id", i, b.Value)
				}
			}

			body := strings.Join(msg.Lines, "\n")
			if !strings.Contains(body, tt.wantLine) {
				t.Errorf("body %q does not contain %q", body, tt.wantLine)
			}
		})
	}
}

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		name string
		e    models.ParsedAttendanceEvent
		want string
	}{
		{
			name: "timed event shows minutes",
			e:    models.ParsedAttendanceEvent{RawName: "John", ResolvedName: strPtr("John Smith"), EventType: models.EventLate, Date: day, Minutes: intPtr(15)},
			want: "*John Smith*: Late (15 min) on Mon Mar 2",
		},
		{
			name: "unresolved falls back to raw name",
			e:    models.ParsedAttendanceEvent{RawName: "Zed", EventType: models.EventNoShow, Date: day},
			want: "*Zed*: No show on Mon Mar 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeEvent(tt.e); got != tt.want {
				t.Errorf("DescribeEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTerminalMessagesHaveNoButtons(t *testing.T) {
	p := pending(models.ParsedAttendanceEvent{RawName: "Sarah", ResolvedName: strPtr("Sarah Connor"), EventType: models.EventAbsent, Date: day})

	msgs := map[string]Message{
		"confirmed": BuildConfirmed(p, 1, false),
		"cancelled": BuildCancelled(p),
		"expired":   BuildExpired(p),
		"failed":    BuildWriteFailed(p, false),
		"undone":    BuildUndone(p, 1, []string{"row missing"}, false),
	}

	for name, msg := range msgs {
		if len(msg.Buttons) != 0 {
			t.Errorf("%s message still has buttons", name)
		}
		if msg.Text == "" {
			t.Errorf("%s message has no fallback text", name)
		}
	}
}

func TestBuildNoUndoCandidate(t *testing.T) {
	msg := BuildNoUndoCandidate(30 * time.Minute)
	if msg.Text != "No confirmed entries found in the last 30 minutes." {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestBlocks(t *testing.T) {
	msg := BuildConfirmation(pending(models.ParsedAttendanceEvent{
		RawName: "Sarah", ResolvedName: strPtr("Sarah Connor"), EventType: models.EventAbsent, Date: day,
	}), time.Hour)

	blocks := Blocks(msg)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}

	actions, ok := blocks[1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("second block is %T", blocks[1])
	}
	if len(actions.Elements.ElementSet) != 2 {
		t.Fatalf("elements = %d", len(actions.Elements.ElementSet))
	}

	confirm, ok := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	if !ok || confirm.ActionID != ActionConfirm || confirm.Style != slack.StylePrimary {
		t.Errorf("confirm button = %+v", actions.Elements.ElementSet[0])
	}

	if got := Blocks(BuildCancelled(pending())); len(got) != 1 {
		t.Errorf("terminal message rendered %d blocks, want 1", len(got))
	}
}
