package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"attendance-bot/internal/models"
	"attendance-bot/pkg/sl"
)

type Mode string

const (
	ModeAdd    Mode = "add"
	ModeDelete Mode = "delete"
)

// Destination names a ledger sheet. Unplanned absences and timed events
// are tracked separately.
type Destination string

const (
	DestAbsences Destination = "absences"
	DestEvents   Destination = "events"
)

func DestinationFor(t models.EventType) Destination {
	if t == models.EventAbsent {
		return DestAbsences
	}
	return DestEvents
}

const DateLayout = "2006-01-02"

// Row is one ledger line.
type Row struct {
	Name       string
	Date       string
	Type       string
	Minutes    string
	Reason     string
	ReportedBy string
	PendingID  string
	RecordedAt string
}

func (r Row) Key() Key {
	return Key{Name: r.Name, Date: r.Date, Type: r.Type}
}

func (r Row) Values() []any {
	return []any{r.Name, r.Date, r.Type, r.Minutes, r.Reason, r.ReportedBy, r.PendingID, r.RecordedAt}
}

// Key identifies rows for reversal. No row id is retained after an
// append, so deletes match on these fields.
type Key struct {
	Name string
	Date string
	Type string
}

func (k Key) Matches(name, date, typ string) bool {
	return strings.EqualFold(strings.TrimSpace(name), k.Name) &&
		strings.TrimSpace(date) == k.Date &&
		strings.EqualFold(strings.TrimSpace(typ), k.Type)
}

type Backend interface {
	Append(ctx context.Context, dest Destination, rows []Row) error
	// DeleteMatching removes at most one row per key and reports which
	// keys found a row.
	DeleteMatching(ctx context.Context, dest Destination, keys []Key) ([]bool, error)
}

type Meta struct {
	PendingID string
	At        time.Time
}

type Result struct {
	Counts   map[Destination]int
	DryRun   bool
	Warnings []string
}

var ErrNoEvents = errors.New("no writable events")

type Writer struct {
	log     *slog.Logger
	backend Backend
	dryRun  bool
}

// New builds a writer. A nil backend forces dry-run.
func New(log *slog.Logger, backend Backend, dryRun bool) *Writer {
	return &Writer{
		log:     log,
		backend: backend,
		dryRun:  dryRun || backend == nil,
	}
}

func (w *Writer) DryRun() bool {
	return w.dryRun
}

// Apply writes (add) or reverses (delete) events. Unresolved and
// ambiguous events are skipped. Counts reflect rows actually written or
// removed, also when an error is returned part way.
func (w *Writer) Apply(ctx context.Context, events []models.ParsedAttendanceEvent, reporterID string, mode Mode, meta Meta) (Result, error) {
	const op = "ledger.Writer.Apply"

	log := w.log.With(
		slog.String("op", op),
		slog.String("mode", string(mode)),
		slog.String("pending_id", meta.PendingID),
	)

	res := Result{Counts: make(map[Destination]int), DryRun: w.dryRun}

	if mode != ModeAdd && mode != ModeDelete {
		return res, fmt.Errorf("%s: unknown mode %q", op, mode)
	}

	grouped, order := groupRows(events, reporterID, meta)
	if len(order) == 0 {
		return res, fmt.Errorf("%s: %w", op, ErrNoEvents)
	}

	if w.dryRun {
		for _, dest := range order {
			res.Counts[dest] = len(grouped[dest])
		}
		log.Info("dry run, ledger untouched", slog.Any("counts", res.Counts))

		return res, nil
	}

	for _, dest := range order {
		rows := grouped[dest]

		switch mode {
		case ModeAdd:
			if err := w.backend.Append(ctx, dest, rows); err != nil {
				log.Error("append failed", slog.String("destination", string(dest)), sl.Err(err))
				return res, fmt.Errorf("%s: append %s: %w", op, dest, err)
			}
			res.Counts[dest] = len(rows)

		case ModeDelete:
			keys := make([]Key, len(rows))
			for i, r := range rows {
				keys[i] = r.Key()
			}

			found, err := w.backend.DeleteMatching(ctx, dest, keys)
			if err != nil {
				log.Error("delete failed", slog.String("destination", string(dest)), sl.Err(err))
				return res, fmt.Errorf("%s: delete %s: %w", op, dest, err)
			}

			for i, ok := range found {
				if ok {
					res.Counts[dest]++
					continue
				}
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"no %s row found for %s on %s (%s); it may have been edited or removed already",
					dest, keys[i].Name, keys[i].Date, keys[i].Type,
				))
			}
		}
	}

	if len(res.Warnings) > 0 {
		log.Warn("reversal incomplete", slog.Any("warnings", res.Warnings))
	}

	log.Info("ledger updated", slog.Any("counts", res.Counts))

	return res, nil
}

func groupRows(events []models.ParsedAttendanceEvent, reporterID string, meta Meta) (map[Destination][]Row, []Destination) {
	grouped := make(map[Destination][]Row)
	var order []Destination

	recordedAt := ""
	if !meta.At.IsZero() {
		recordedAt = meta.At.UTC().Format(time.RFC3339)
	}

	for _, e := range events {
		if e.ResolvedName == nil || e.Ambiguous {
			continue
		}

		dest := DestinationFor(e.EventType)
		if _, ok := grouped[dest]; !ok {
			order = append(order, dest)
		}

		grouped[dest] = append(grouped[dest], toRow(e, reporterID, meta.PendingID, recordedAt))
	}

	return grouped, order
}

func toRow(e models.ParsedAttendanceEvent, reporterID, pendingID, recordedAt string) Row {
	r := Row{
		Name:       *e.ResolvedName,
		Date:       e.Date.Format(DateLayout),
		Type:       string(e.EventType),
		ReportedBy: reporterID,
		PendingID:  pendingID,
		RecordedAt: recordedAt,
	}
	if e.Minutes != nil {
		r.Minutes = strconv.Itoa(*e.Minutes)
	}
	if e.Reason != nil {
		r.Reason = *e.Reason
	}
	return r
}
