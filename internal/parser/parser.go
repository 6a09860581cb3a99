// Package parser turns free-text attendance reports into structured events.
//
// The text-to-structure step is delegated to a Completer (an LLM). Its
// output is untrusted: every candidate event is normalised and validated,
// and anything missing a name or a known event type is dropped.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"attendance-bot/internal/models"
	"attendance-bot/pkg/sl"

	"github.com/go-playground/validator/v10"
)

const DateLayout = "2006-01-02"

type Parser interface {
	Parse(ctx context.Context, text string, ref time.Time) ([]models.ParsedAttendanceEvent, error)
}

// Completer is the black-box text completion capability.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type rawEvent struct {
	Name      string  `json:"name" validate:"required,max=120"`
	EventType string  `json:"event_type" validate:"required,oneof=absent late early_leave no_show other"`
	Date      string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Minutes   *int    `json:"minutes" validate:"omitempty,min=0,max=1440"`
	Reason    *string `json:"reason" validate:"omitempty,max=500"`
}

type AIParser struct {
	log       *slog.Logger
	completer Completer
	validate  *validator.Validate
	loc       *time.Location
}

func NewAIParser(log *slog.Logger, completer Completer, loc *time.Location) *AIParser {
	if loc == nil {
		loc = time.UTC
	}
	return &AIParser{
		log:       log,
		completer: completer,
		validate:  validator.New(),
		loc:       loc,
	}
}

func (p *AIParser) Parse(ctx context.Context, text string, ref time.Time) ([]models.ParsedAttendanceEvent, error) {
	const op = "parser.AIParser.Parse"

	log := p.log.With(slog.String("op", op))

	text = strings.TrimSpace(text)
	if text == "" {
		return []models.ParsedAttendanceEvent{}, nil
	}

	ref = ref.In(p.loc)

	out, err := p.completer.Complete(ctx, systemPrompt(ref), text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := decodeEvents(out)
	if err != nil {
		log.Warn("completer returned unusable output", sl.Err(err))
		return []models.ParsedAttendanceEvent{}, nil
	}

	events := make([]models.ParsedAttendanceEvent, 0, len(raw))
	for i, r := range raw {
		ev, err := p.toEvent(r, ref)
		if err != nil {
			log.Debug("dropping invalid event", slog.Int("index", i), sl.Err(err))
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

func (p *AIParser) toEvent(r rawEvent, ref time.Time) (models.ParsedAttendanceEvent, error) {
	r.Name = collapseSpaces(r.Name)
	r.EventType = normalizeType(r.EventType)
	r.Date = strings.TrimSpace(r.Date)
	if r.Reason != nil {
		reason := strings.TrimSpace(*r.Reason)
		if reason == "" {
			r.Reason = nil
		} else {
			r.Reason = &reason
		}
	}

	if err := p.validate.Struct(r); err != nil {
		return models.ParsedAttendanceEvent{}, err
	}

	date := StartOfDay(ref)
	if r.Date != "" {
		d, err := time.ParseInLocation(DateLayout, r.Date, p.loc)
		if err != nil {
			return models.ParsedAttendanceEvent{}, err
		}
		date = d
	}

	et := models.EventType(r.EventType)
	minutes := r.Minutes
	if !et.Timed() {
		minutes = nil
	}

	return models.ParsedAttendanceEvent{
		RawName:   r.Name,
		EventType: et,
		Date:      date,
		Minutes:   minutes,
		Reason:    r.Reason,
	}, nil
}

// decodeEvents accepts a bare JSON array, an {"events": [...]} object or a
// single event object, optionally wrapped in prose or a code fence.
func decodeEvents(out string) ([]rawEvent, error) {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")

	var wrapped struct {
		Events []rawEvent `json:"events"`
	}
	if start := strings.Index(out, "{"); start >= 0 && (strings.Index(out, "[") < 0 || start < strings.Index(out, "[")) {
		if end := strings.LastIndex(out, "}"); end > start {
			obj := []byte(out[start : end+1])
			if err := json.Unmarshal(obj, &wrapped); err == nil {
				if wrapped.Events != nil {
					return wrapped.Events, nil
				}

				var single rawEvent
				if err := json.Unmarshal(obj, &single); err == nil && (single.Name != "" || single.EventType != "") {
					return []rawEvent{single}, nil
				}
				return nil, nil
			}
		}
	}

	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in completer output")
	}

	var events []rawEvent
	if err := json.Unmarshal([]byte(out[start:end+1]), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.NewReplacer("-", "_", " ", "_").Replace(t)
	switch t {
	case "noshow", "ncns":
		return string(models.EventNoShow)
	case "sick", "absence", "call_out", "called_out":
		return string(models.EventAbsent)
	case "tardy":
		return string(models.EventLate)
	case "left_early", "early_departure":
		return string(models.EventEarlyLeave)
	}
	return t
}

var (
	reSpaces  = regexp.MustCompile(`\s+`)
	reMention = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>`)
)

func collapseSpaces(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// CleanText strips user mentions and surplus whitespace from a chat message.
func CleanText(text string) string {
	return collapseSpaces(reMention.ReplaceAllString(text, " "))
}

var undoPhrases = map[string]struct{}{
	"undo":            {},
	"undo last":       {},
	"cancel last":     {},
	"undo last entry": {},
}

// IsUndoCommand recognises the fixed undo phrases before any parsing.
func IsUndoCommand(text string) bool {
	t := strings.ToLower(CleanText(text))
	t = strings.TrimRight(t, ".!? ")
	_, ok := undoPhrases[t]
	return ok
}

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func systemPrompt(ref time.Time) string {
	return fmt.Sprintf(`You extract attendance events from short workplace chat messages.
Today is %s (%s).

Return ONLY a JSON array. Each element:
{"name": string, "event_type": "absent"|"late"|"early_leave"|"no_show"|"other",
 "date": "YYYY-MM-DD" or omitted for today, "minutes": integer or null, "reason": string or null}

Rules:
- One element per person per occurrence.
- "minutes" only for late or early_leave, when stated.
- Resolve relative dates ("yesterday", "tomorrow", weekday names) against today.
- If the message reports no attendance events, return [].`,
		ref.Format(DateLayout), ref.Weekday())
}
