package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attendance-bot/internal/models"
	"attendance-bot/pkg/response"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Storage struct {
	db *sqlx.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sqlx.Open("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

// NewWithDB wraps an existing handle. Queries are written with '?' and
// rebound for the handle's driver.
func NewWithDB(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pending_confirmations (
		id           TEXT PRIMARY KEY,
		reporter_id  TEXT NOT NULL,
		channel_id   TEXT NOT NULL,
		events       TEXT NOT NULL,
		status       TEXT NOT NULL,
		message_ref  TEXT NULL,
		claim        TEXT NULL,
		claimed_at   TIMESTAMP NULL,
		created_at   TIMESTAMP NOT NULL,
		resolved_at  TIMESTAMP NULL,
		confirmed_at TIMESTAMP NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pending_confirmations_reporter_idx
		ON pending_confirmations (reporter_id, status, confirmed_at)`,
	`CREATE INDEX IF NOT EXISTS pending_confirmations_status_idx
		ON pending_confirmations (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS employees (
		first_name TEXT NOT NULL,
		last_name  TEXT NOT NULL,
		status     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS authorized_reporters (
		reporter_id TEXT PRIMARY KEY,
		role        TEXT NOT NULL,
		active      BOOLEAN NOT NULL
	)`,
}

func (s *Storage) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

type pendingRow struct {
	ID          string         `db:"id"`
	ReporterID  string         `db:"reporter_id"`
	ChannelID   string         `db:"channel_id"`
	Events      string         `db:"events"`
	Status      string         `db:"status"`
	MessageRef  sql.NullString `db:"message_ref"`
	Claim       sql.NullString `db:"claim"`
	CreatedAt   nullTime       `db:"created_at"`
	ResolvedAt  nullTime       `db:"resolved_at"`
	ConfirmedAt nullTime       `db:"confirmed_at"`
}

const pendingColumns = `id, reporter_id, channel_id, events, status, message_ref, claim, created_at, resolved_at, confirmed_at`

func (r pendingRow) toModel() (*models.PendingConfirmation, error) {
	p := &models.PendingConfirmation{
		ID:         r.ID,
		ReporterID: r.ReporterID,
		ChannelID:  r.ChannelID,
		Status:     models.Status(r.Status),
		CreatedAt:  r.CreatedAt.Time,
	}

	if err := json.Unmarshal([]byte(r.Events), &p.Events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	if r.MessageRef.Valid {
		ref := r.MessageRef.String
		p.MessageRef = &ref
	}
	if r.Claim.Valid {
		c := models.Claim(r.Claim.String)
		p.Claim = &c
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		p.ResolvedAt = &t
	}
	if r.ConfirmedAt.Valid {
		t := r.ConfirmedAt.Time
		p.ConfirmedAt = &t
	}

	return p, nil
}

// #### pending confirmations ####

func (s *Storage) Create(ctx context.Context, p *models.PendingConfirmation) error {
	const op = "storage.postgres.Create"

	if p.Status != models.StatusPending {
		return fmt.Errorf("%s: new confirmation must be pending, got %q", op, p.Status)
	}

	events, err := json.Marshal(p.Events)
	if err != nil {
		return fmt.Errorf("%s: encode events: %w", op, err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO pending_confirmations (id, reporter_id, channel_id, events, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		p.ID,
		p.ReporterID,
		p.ChannelID,
		string(events),
		string(p.Status),
		dbTime(p.CreatedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%s: %w", op, response.ErrConflict)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) GetByID(ctx context.Context, id string) (*models.PendingConfirmation, error) {
	const op = "storage.postgres.GetByID"

	var row pendingRow

	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+pendingColumns+` FROM pending_confirmations WHERE id=?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

func (s *Storage) SetMessageRef(ctx context.Context, id, ref string) error {
	const op = "storage.postgres.SetMessageRef"

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE pending_confirmations SET message_ref=? WHERE id=?`), ref, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

// ConditionalTransition moves an unclaimed record from one status to
// another. It reports false when the record was not in the expected state.
func (s *Storage) ConditionalTransition(ctx context.Context, id string, from, to models.Status, at time.Time) (bool, error) {
	const op = "storage.postgres.ConditionalTransition"

	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("%s: illegal transition %s -> %s", op, from, to)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE pending_confirmations
		SET status=?, resolved_at=?
		WHERE id=? AND status=? AND claim IS NULL`),
		string(to), dbTime(at), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exactlyOne(op, res)
}

// Claim reserves the record for a side-effecting transition. Only one
// caller can hold a claim; a failed write leaves the claim in place.
func (s *Storage) Claim(ctx context.Context, id string, from models.Status, claim models.Claim, at time.Time) (bool, error) {
	const op = "storage.postgres.Claim"

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE pending_confirmations
		SET claim=?, claimed_at=?
		WHERE id=? AND status=? AND claim IS NULL`),
		string(claim), dbTime(at), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exactlyOne(op, res)
}

// CompleteClaim applies the terminal status for a successful write and
// releases the claim.
func (s *Storage) CompleteClaim(ctx context.Context, id string, claim models.Claim, to models.Status, at time.Time) (bool, error) {
	const op = "storage.postgres.CompleteClaim"

	var from models.Status
	switch claim {
	case models.ClaimConfirm:
		from = models.StatusPending
	case models.ClaimUndo:
		from = models.StatusConfirmed
	default:
		return false, fmt.Errorf("%s: unknown claim %q", op, claim)
	}
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("%s: illegal transition %s -> %s", op, from, to)
	}

	query := `
		UPDATE pending_confirmations
		SET status=?, resolved_at=?, claim=NULL, claimed_at=NULL
		WHERE id=? AND status=? AND claim=?`
	args := []any{string(to), dbTime(at), id, string(from), string(claim)}

	if to == models.StatusConfirmed {
		query = `
		UPDATE pending_confirmations
		SET status=?, resolved_at=?, confirmed_at=?, claim=NULL, claimed_at=NULL
		WHERE id=? AND status=? AND claim=?`
		args = []any{string(to), dbTime(at), dbTime(at), id, string(from), string(claim)}
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exactlyOne(op, res)
}

// LatestConfirmed returns the reporter's most recently confirmed record
// confirmed at or after since.
func (s *Storage) LatestConfirmed(ctx context.Context, reporterID string, since time.Time) (*models.PendingConfirmation, error) {
	const op = "storage.postgres.LatestConfirmed"

	var row pendingRow

	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+pendingColumns+`
		FROM pending_confirmations
		WHERE reporter_id=? AND status=? AND confirmed_at >= ?
		ORDER BY confirmed_at DESC
		LIMIT 1`),
		reporterID, string(models.StatusConfirmed), dbTime(since),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

// ListStalePending returns unclaimed pending records created before cutoff.
func (s *Storage) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.PendingConfirmation, error) {
	const op = "storage.postgres.ListStalePending"

	if limit <= 0 {
		limit = 100
	}

	var rows []pendingRow

	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+pendingColumns+`
		FROM pending_confirmations
		WHERE status=? AND claim IS NULL AND created_at < ?
		ORDER BY created_at
		LIMIT ?`),
		string(models.StatusPending), dbTime(before), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]*models.PendingConfirmation, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, p)
	}

	return out, nil
}

// #### directory ####

func (s *Storage) ListEmployees(ctx context.Context) ([]models.DirectoryEmployee, error) {
	const op = "storage.postgres.ListEmployees"

	var employees []models.DirectoryEmployee

	err := s.db.SelectContext(ctx, &employees, `SELECT first_name, last_name, status FROM employees`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return employees, nil
}

func (s *Storage) IsReporterAuthorized(ctx context.Context, reporterID string) (bool, error) {
	const op = "storage.postgres.IsReporterAuthorized"

	var n int

	err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(1) FROM authorized_reporters WHERE reporter_id=? AND active=?`),
		reporterID, true,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

// Timestamps are written as fixed-width UTC text so that they compare
// correctly on drivers without a native time type.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func dbTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

var readLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

// nullTime scans timestamps from drivers that return either time.Time or
// text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	}

	return fmt.Errorf("unsupported timestamp type %T", value)
}

func (n *nullTime) parse(s string) error {
	for _, layout := range readLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}

	return fmt.Errorf("unparsable timestamp %q", s)
}

func exactlyOne(op string, res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n == 1, nil
}
