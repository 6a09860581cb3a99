package api

import (
	"time"

	"attendance-bot/internal/models"
)

type AttendanceEvent struct {
	RawName      string   `json:"raw_name"`
	ResolvedName *string  `json:"resolved_name"`
	EventType    string   `json:"event_type"`
	Date         string   `json:"date"`
	Minutes      *int     `json:"minutes,omitempty"`
	Reason       *string  `json:"reason,omitempty"`
	Ambiguous    bool     `json:"ambiguous"`
	Candidates   []string `json:"candidates,omitempty"`
}

type PendingConfirmation struct {
	ID          string            `json:"id"`
	ReporterID  string            `json:"reporter_id"`
	ChannelID   string            `json:"channel_id"`
	Status      string            `json:"status"`
	Claim       *string           `json:"claim,omitempty"`
	Events      []AttendanceEvent `json:"events"`
	MessageRef  *string           `json:"message_ref,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	ConfirmedAt *time.Time        `json:"confirmed_at,omitempty"`
}

func FromPending(p *models.PendingConfirmation) *PendingConfirmation {
	out := &PendingConfirmation{
		ID:          p.ID,
		ReporterID:  p.ReporterID,
		ChannelID:   p.ChannelID,
		Status:      string(p.Status),
		Events:      make([]AttendanceEvent, 0, len(p.Events)),
		MessageRef:  p.MessageRef,
		CreatedAt:   p.CreatedAt,
		ResolvedAt:  p.ResolvedAt,
		ConfirmedAt: p.ConfirmedAt,
	}

	if p.Claim != nil {
		c := string(*p.Claim)
		out.Claim = &c
	}

	for _, e := range p.Events {
		out.Events = append(out.Events, AttendanceEvent{
			RawName:      e.RawName,
			ResolvedName: e.ResolvedName,
			EventType:    string(e.EventType),
			Date:         e.Date.Format("2006-01-02"),
			Minutes:      e.Minutes,
			Reason:       e.Reason,
			Ambiguous:    e.Ambiguous,
			Candidates:   e.Candidates,
		})
	}

	return out
}
