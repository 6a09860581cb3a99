package postgres

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"attendance-bot/internal/models"
	"attendance-bot/pkg/response"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "attendance.db"))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	db.SetMaxOpenConns(1)

	storage := NewWithDB(db)
	t.Cleanup(func() {
		_ = storage.Close()
	})

	if err := storage.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return storage
}

func newPending(id, reporter string, created time.Time) *models.PendingConfirmation {
	name := "Sarah Connor"
	return &models.PendingConfirmation{
		ID:         id,
		ReporterID: reporter,
		ChannelID:  "C1",
		Status:     models.StatusPending,
		CreatedAt:  created,
		Events: []models.ParsedAttendanceEvent{
			{RawName: "Sarah", ResolvedName: &name, EventType: models.EventAbsent, Date: created.Truncate(24 * time.Hour)},
			{RawName: "Mike", EventType: models.EventLate, Date: created.Truncate(24 * time.Hour), Ambiguous: true, Candidates: []string{"Mike Brown", "Mike Green"}},
		},
	}
}

func TestStorage_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	p := newPending("p-1", "U1", now)
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.GetByID(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	if got.ReporterID != "U1" || got.ChannelID != "C1" || got.Status != models.StatusPending {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if got.ResolvedAt != nil || got.MessageRef != nil || got.Claim != nil {
		t.Errorf("fresh record has resolution fields set: %+v", got)
	}
	if len(got.Events) != 2 || got.Events[0].RawName != "Sarah" || got.Events[1].RawName != "Mike" {
		t.Fatalf("events not preserved in order: %+v", got.Events)
	}
	if got.Events[0].ResolvedName == nil || *got.Events[0].ResolvedName != "Sarah Connor" {
		t.Errorf("resolved name lost")
	}
	if !got.Events[1].Ambiguous || len(got.Events[1].Candidates) != 2 {
		t.Errorf("ambiguity lost: %+v", got.Events[1])
	}

	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, response.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStorage_CreateRejectsNonPending(t *testing.T) {
	p := newPending("p-1", "U1", time.Now())
	p.Status = models.StatusConfirmed

	if err := newTestStorage(t).Create(context.Background(), p); err == nil {
		t.Fatal("expected error")
	}
}

func TestStorage_SetMessageRef(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	_ = s.Create(ctx, newPending("p-1", "U1", time.Now()))

	if err := s.SetMessageRef(ctx, "p-1", "1700000000.000100"); err != nil {
		t.Fatalf("SetMessageRef failed: %v", err)
	}
	got, _ := s.GetByID(ctx, "p-1")
	if got.MessageRef == nil || *got.MessageRef != "1700000000.000100" {
		t.Fatalf("MessageRef = %v", got.MessageRef)
	}

	if err := s.SetMessageRef(ctx, "nope", "x"); !errors.Is(err, response.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStorage_ConditionalTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	_ = s.Create(ctx, newPending("p-1", "U1", now))

	ok, err := s.ConditionalTransition(ctx, "p-1", models.StatusPending, models.StatusCancelled, now)
	if err != nil || !ok {
		t.Fatalf("first transition = %v, %v", ok, err)
	}

	ok, err = s.ConditionalTransition(ctx, "p-1", models.StatusPending, models.StatusExpired, now)
	if err != nil || ok {
		t.Fatalf("second transition = %v, %v; want no-op", ok, err)
	}

	got, _ := s.GetByID(ctx, "p-1")
	if got.Status != models.StatusCancelled || got.ResolvedAt == nil {
		t.Fatalf("unexpected state: %+v", got)
	}

	if _, err := s.ConditionalTransition(ctx, "p-1", models.StatusCancelled, models.StatusPending, now); err == nil {
		t.Fatal("terminal -> pending must be rejected")
	}
}

func TestStorage_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	_ = s.Create(ctx, newPending("p-1", "U1", now))

	ok, err := s.Claim(ctx, "p-1", models.StatusPending, models.ClaimConfirm, now)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}

	if ok, _ := s.Claim(ctx, "p-1", models.StatusPending, models.ClaimConfirm, now); ok {
		t.Fatal("second claim must fail")
	}
	if ok, _ := s.ConditionalTransition(ctx, "p-1", models.StatusPending, models.StatusCancelled, now); ok {
		t.Fatal("claimed record must not be cancellable")
	}

	ok, err = s.CompleteClaim(ctx, "p-1", models.ClaimConfirm, models.StatusConfirmed, now)
	if err != nil || !ok {
		t.Fatalf("CompleteClaim = %v, %v", ok, err)
	}

	got, _ := s.GetByID(ctx, "p-1")
	if got.Status != models.StatusConfirmed || got.Claim != nil || got.ConfirmedAt == nil || got.ResolvedAt == nil {
		t.Fatalf("unexpected state after confirm: %+v", got)
	}

	if ok, _ := s.CompleteClaim(ctx, "p-1", models.ClaimConfirm, models.StatusConfirmed, now); ok {
		t.Fatal("completing a released claim must be a no-op")
	}

	undoAt := now.Add(5 * time.Minute)
	if ok, _ := s.Claim(ctx, "p-1", models.StatusConfirmed, models.ClaimUndo, undoAt); !ok {
		t.Fatal("undo claim failed")
	}
	if ok, _ := s.CompleteClaim(ctx, "p-1", models.ClaimUndo, models.StatusUndone, undoAt); !ok {
		t.Fatal("undo completion failed")
	}

	got, _ = s.GetByID(ctx, "p-1")
	if got.Status != models.StatusUndone || got.ResolvedAt == nil || !got.ResolvedAt.Equal(undoAt) {
		t.Fatalf("unexpected state after undo: %+v", got)
	}

	if _, err := s.CompleteClaim(ctx, "p-1", models.ClaimUndo, models.StatusPending, undoAt); err == nil {
		t.Fatal("undone -> pending must be rejected")
	}
}

func TestStorage_ConcurrentClaimsYieldOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	_ = s.Create(ctx, newPending("p-1", "U1", now))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, "p-1", models.StatusPending, models.ClaimConfirm, now)
			if err != nil {
				t.Errorf("Claim error: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want 1", wins.Load())
	}
}

func TestStorage_LatestConfirmed(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		_ = s.Create(ctx, newPending(id, "U1", base))
		at := base.Add(time.Duration(i) * 10 * time.Minute)
		_, _ = s.Claim(ctx, id, models.StatusPending, models.ClaimConfirm, at)
		_, _ = s.CompleteClaim(ctx, id, models.ClaimConfirm, models.StatusConfirmed, at)
	}
	_ = s.Create(ctx, newPending("other", "U2", base))

	got, err := s.LatestConfirmed(ctx, "U1", base)
	if err != nil {
		t.Fatalf("LatestConfirmed failed: %v", err)
	}
	if got.ID != "c" {
		t.Fatalf("LatestConfirmed = %s, want c", got.ID)
	}

	if _, err := s.LatestConfirmed(ctx, "U1", base.Add(time.Hour)); !errors.Is(err, response.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := s.LatestConfirmed(ctx, "U2", base); !errors.Is(err, response.ErrNotFound) {
		t.Errorf("pending records must not be undo candidates, got %v", err)
	}
}

func TestStorage_ListStalePending(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	_ = s.Create(ctx, newPending("old", "U1", now.Add(-time.Hour)))
	_ = s.Create(ctx, newPending("old-claimed", "U1", now.Add(-time.Hour)))
	_ = s.Create(ctx, newPending("fresh", "U1", now.Add(-time.Minute)))
	_, _ = s.Claim(ctx, "old-claimed", models.StatusPending, models.ClaimConfirm, now)

	stale, err := s.ListStalePending(ctx, now.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePending failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "old" {
		t.Fatalf("stale = %+v", stale)
	}
}

func TestStorage_Directory(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.db.Exec(`INSERT INTO employees (first_name, last_name, status) VALUES ('Sarah', 'Connor', 'active'), ('Tom', 'Old', 'terminated')`)
	if err != nil {
		t.Fatalf("seed employees: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO authorized_reporters (reporter_id, role, active) VALUES ('U1', 'supervisor', 1), ('U2', 'supervisor', 0)`)
	if err != nil {
		t.Fatalf("seed reporters: %v", err)
	}

	employees, err := s.ListEmployees(ctx)
	if err != nil || len(employees) != 2 {
		t.Fatalf("ListEmployees = %v, %v", employees, err)
	}

	for id, want := range map[string]bool{"U1": true, "U2": false, "U3": false} {
		got, err := s.IsReporterAuthorized(ctx, id)
		if err != nil {
			t.Fatalf("IsReporterAuthorized(%s): %v", id, err)
		}
		if got != want {
			t.Errorf("IsReporterAuthorized(%s) = %v, want %v", id, got, want)
		}
	}
}
