package get

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"attendance-bot/internal/models"
	"attendance-bot/pkg/response"

	"github.com/go-chi/chi/v5"
)

type fakeGetter struct {
	p   *models.PendingConfirmation
	err error
}

func (f fakeGetter) GetPending(context.Context, string) (*models.PendingConfirmation, error) {
	return f.p, f.err
}

func TestHandler(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	name := "Sarah Connor"

	found := &models.PendingConfirmation{
		ID:         "3f0c5a9e-7d0e-4f53-9a51-1b7b8a1e2c44",
		ReporterID: "U1",
		ChannelID:  "D1",
		Status:     models.StatusConfirmed,
		CreatedAt:  time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Events: []models.ParsedAttendanceEvent{
			{RawName: "Sarah", ResolvedName: &name, EventType: models.EventAbsent, Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		},
	}

	tests := []struct {
		name       string
		getter     fakeGetter
		wantStatus int
	}{
		{name: "found", getter: fakeGetter{p: found}, wantStatus: http.StatusOK},
		{name: "bad id", getter: fakeGetter{err: fmt.Errorf("svc: %w", response.ErrBadRequest)}, wantStatus: http.StatusBadRequest},
		{name: "not found", getter: fakeGetter{err: fmt.Errorf("svc: %w", response.ErrNotFound)}, wantStatus: http.StatusNotFound},
		{name: "store failure", getter: fakeGetter{err: errors.New("connection reset")}, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := chi.NewRouter()
			router.Get("/pending/{id}", New(log, tt.getter))

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pending/"+found.ID, nil))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp struct {
				Pending struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Events []struct {
						ResolvedName string `json:"resolved_name"`
						Date         string `json:"date"`
					} `json:"events"`
				} `json:"pending"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Pending.ID != found.ID || resp.Pending.Status != "confirmed" {
				t.Errorf("pending = %+v", resp.Pending)
			}
			if len(resp.Pending.Events) != 1 || resp.Pending.Events[0].ResolvedName != name || resp.Pending.Events[0].Date != "2026-03-02" {
				t.Errorf("events = %+v", resp.Pending.Events)
			}
		})
	}
}
