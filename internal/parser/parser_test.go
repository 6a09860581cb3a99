package parser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"attendance-bot/internal/models"
)

type fakeCompleter struct {
	out    string
	err    error
	prompt string
	system string
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.calls++
	f.system = system
	f.prompt = prompt
	return f.out, f.err
}

func newTestParser(c Completer) *AIParser {
	loc, _ := time.LoadLocation("America/New_York")
	return NewAIParser(slog.New(slog.NewTextHandler(io.Discard, nil)), c, loc)
}

func TestAIParser_Parse(t *testing.T) {
	ref := time.Date(2026, 3, 2, 15, 4, 0, 0, time.UTC)
	loc, _ := time.LoadLocation("America/New_York")
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)

	tests := []struct {
		name      string
		out       string
		wantTypes []models.EventType
		check     func(t *testing.T, events []models.ParsedAttendanceEvent)
	}{
		{
			name:      "single absence defaults to today",
			out:       `[{"name":"Sarah","event_type":"absent","reason":"sick"}]`,
			wantTypes: []models.EventType{models.EventAbsent},
			check: func(t *testing.T, events []models.ParsedAttendanceEvent) {
				if !events[0].Date.Equal(today) {
					t.Errorf("date = %v, want %v", events[0].Date, today)
				}
				if events[0].RawName != "Sarah" || events[0].ResolvedName != nil {
					t.Errorf("unexpected names: %+v", events[0])
				}
				if events[0].Reason == nil || *events[0].Reason != "sick" {
					t.Errorf("reason = %v", events[0].Reason)
				}
			},
		},
		{
			name:      "empty array",
			out:       `[]`,
			wantTypes: nil,
		},
		{
			name:      "prose without json",
			out:       `I could not find any attendance events.`,
			wantTypes: nil,
		},
		{
			name:      "single event object",
			out:       `{"name":"Sarah","event_type":"absent"}`,
			wantTypes: []models.EventType{models.EventAbsent},
			check: func(t *testing.T, events []models.ParsedAttendanceEvent) {
				if events[0].RawName != "Sarah" {
					t.Errorf("name = %q", events[0].RawName)
				}
			},
		},
		{
			name:      "object without events",
			out:       `{"note":"nothing to report"}`,
			wantTypes: nil,
		},
		{
			name:      "fenced object form",
			out:       "```json\n{\"events\":[{\"name\":\"Bob  Jones\",\"event_type\":\"late\",\"minutes\":15}]}\n```",
			wantTypes: []models.EventType{models.EventLate},
			check: func(t *testing.T, events []models.ParsedAttendanceEvent) {
				if events[0].RawName != "Bob Jones" {
					t.Errorf("name not collapsed: %q", events[0].RawName)
				}
				if events[0].Minutes == nil || *events[0].Minutes != 15 {
					t.Errorf("minutes = %v", events[0].Minutes)
				}
			},
		},
		{
			name: "drops events missing name or type",
			out: `[{"name":"","event_type":"absent"},
			       {"name":"Ann","event_type":""},
			       {"name":"Ann","event_type":"vacation"},
			       {"name":"Ann","event_type":"no-show"}]`,
			wantTypes: []models.EventType{models.EventNoShow},
		},
		{
			name:      "explicit date and minutes stripped for untimed",
			out:       `[{"name":"Lee","event_type":"absent","date":"2026-03-03","minutes":30}]`,
			wantTypes: []models.EventType{models.EventAbsent},
			check: func(t *testing.T, events []models.ParsedAttendanceEvent) {
				if got := events[0].Date.Format(DateLayout); got != "2026-03-03" {
					t.Errorf("date = %s", got)
				}
				if events[0].Minutes != nil {
					t.Errorf("minutes should be dropped for absences")
				}
			},
		},
		{
			name:      "bad date drops event",
			out:       `[{"name":"Lee","event_type":"late","date":"03/03/2026"}]`,
			wantTypes: nil,
		},
		{
			name:      "order preserved",
			out:       `[{"name":"A","event_type":"late"},{"name":"B","event_type":"early_leave"},{"name":"C","event_type":"other"}]`,
			wantTypes: []models.EventType{models.EventLate, models.EventEarlyLeave, models.EventOther},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser(&fakeCompleter{out: tt.out})

			events, err := p.Parse(context.Background(), "some report", ref)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if events == nil {
				t.Fatal("Parse() must return a non-nil slice")
			}
			if len(events) != len(tt.wantTypes) {
				t.Fatalf("got %d events, want %d: %+v", len(events), len(tt.wantTypes), events)
			}
			for i, et := range tt.wantTypes {
				if events[i].EventType != et {
					t.Errorf("event %d type = %s, want %s", i, events[i].EventType, et)
				}
			}
			if tt.check != nil {
				tt.check(t, events)
			}
		})
	}
}

func TestAIParser_CompleterError(t *testing.T) {
	p := newTestParser(&fakeCompleter{err: errors.New("503")})

	if _, err := p.Parse(context.Background(), "Sarah is out", time.Now()); err == nil {
		t.Fatal("expected completer error to propagate")
	}
}

func TestAIParser_BlankTextSkipsCompleter(t *testing.T) {
	c := &fakeCompleter{out: `[{"name":"X","event_type":"absent"}]`}
	p := newTestParser(c)

	events, err := p.Parse(context.Background(), "   ", time.Now())
	if err != nil || len(events) != 0 {
		t.Fatalf("Parse() = %v, %v", events, err)
	}
	if c.calls != 0 {
		t.Errorf("completer called %d times", c.calls)
	}
}

func TestIsUndoCommand(t *testing.T) {
	tests := map[string]bool{
		"undo":                  true,
		"Undo last":             true,
		"  cancel   last ":      true,
		"undo last entry.":      true,
		"<@U0BOT> undo":         true,
		"undo Sarah's absence":  false,
		"please undo":           false,
		"Sarah called out sick": false,
		"":                      false,
	}

	for text, want := range tests {
		if got := IsUndoCommand(text); got != want {
			t.Errorf("IsUndoCommand(%q) = %v, want %v", text, got, want)
		}
	}
}
