package models

import "time"

type EventType string

const (
	EventAbsent     EventType = "absent"
	EventLate       EventType = "late"
	EventEarlyLeave EventType = "early_leave"
	EventNoShow     EventType = "no_show"
	EventOther      EventType = "other"
)

func (t EventType) Valid() bool {
	switch t {
	case EventAbsent, EventLate, EventEarlyLeave, EventNoShow, EventOther:
		return true
	}
	return false
}

// Timed reports whether the event carries a minutes value.
func (t EventType) Timed() bool {
	return t == EventLate || t == EventEarlyLeave
}

func (t EventType) Label() string {
	switch t {
	case EventAbsent:
		return "Absent"
	case EventLate:
		return "Late"
	case EventEarlyLeave:
		return "Early leave"
	case EventNoShow:
		return "No show"
	default:
		return "Other"
	}
}

// ParsedAttendanceEvent is one occurrence extracted from a chat report.
// ResolvedName is nil when the directory had no confident match; such
// events are flagged Ambiguous and never written.
type ParsedAttendanceEvent struct {
	RawName      string    `json:"raw_name"`
	ResolvedName *string   `json:"resolved_name"`
	EventType    EventType `json:"event_type"`
	Date         time.Time `json:"date"`
	Minutes      *int      `json:"minutes,omitempty"`
	Reason       *string   `json:"reason,omitempty"`
	Ambiguous    bool      `json:"ambiguous,omitempty"`
	Candidates   []string  `json:"candidates,omitempty"`
}

// DisplayName is the resolved name when present, otherwise the raw one.
func (e ParsedAttendanceEvent) DisplayName() string {
	if e.ResolvedName != nil {
		return *e.ResolvedName
	}
	return e.RawName
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusUndone    Status = "undone"
)

func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// CanTransition is the full transition table. Terminal states absorb
// everything except confirmed -> undone.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled || to == StatusExpired
	case StatusConfirmed:
		return to == StatusUndone
	}
	return false
}

// Claim marks an in-flight side-effecting transition.
type Claim string

const (
	ClaimConfirm Claim = "confirm"
	ClaimUndo    Claim = "undo"
)

type PendingConfirmation struct {
	ID          string                  `db:"id"`
	ReporterID  string                  `db:"reporter_id"`
	ChannelID   string                  `db:"channel_id"`
	Events      []ParsedAttendanceEvent `db:"-"`
	Status      Status                  `db:"status"`
	MessageRef  *string                 `db:"message_ref"`
	Claim       *Claim                  `db:"claim"`
	CreatedAt   time.Time               `db:"created_at"`
	ResolvedAt  *time.Time              `db:"resolved_at"`
	ConfirmedAt *time.Time              `db:"confirmed_at"`
}

// Writable returns the events that resolved to a directory entry.
func (p *PendingConfirmation) Writable() []ParsedAttendanceEvent {
	out := make([]ParsedAttendanceEvent, 0, len(p.Events))
	for _, e := range p.Events {
		if e.ResolvedName != nil && !e.Ambiguous {
			out = append(out, e)
		}
	}
	return out
}

type DirectoryEmployee struct {
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Status    string `db:"status"`
}

const EmployeeActive = "active"

func (e DirectoryEmployee) FullName() string {
	if e.LastName == "" {
		return e.FirstName
	}
	return e.FirstName + " " + e.LastName
}
