package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"attendance-bot/internal/auth"
	"attendance-bot/internal/ledger"
	"attendance-bot/internal/lock"
	"attendance-bot/internal/messenger"
	"attendance-bot/internal/models"
	"attendance-bot/internal/notify"
	"attendance-bot/internal/parser"
	"attendance-bot/internal/queue"
	"attendance-bot/internal/resolver"
	"attendance-bot/pkg/response"
	"attendance-bot/pkg/sl"
	"attendance-bot/pkg/utils"

	"github.com/google/uuid"
)

type Store interface {
	Create(ctx context.Context, p *models.PendingConfirmation) error
	GetByID(ctx context.Context, id string) (*models.PendingConfirmation, error)
	SetMessageRef(ctx context.Context, id, ref string) error
	ConditionalTransition(ctx context.Context, id string, from, to models.Status, at time.Time) (bool, error)
	Claim(ctx context.Context, id string, from models.Status, claim models.Claim, at time.Time) (bool, error)
	CompleteClaim(ctx context.Context, id string, claim models.Claim, to models.Status, at time.Time) (bool, error)
	LatestConfirmed(ctx context.Context, reporterID string, since time.Time) (*models.PendingConfirmation, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.PendingConfirmation, error)
}

type Directory interface {
	ListEmployees(ctx context.Context) ([]models.DirectoryEmployee, error)
}

type Ledger interface {
	Apply(ctx context.Context, events []models.ParsedAttendanceEvent, reporterID string, mode ledger.Mode, meta ledger.Meta) (ledger.Result, error)
}

type Notifier interface {
	Notify(ctx context.Context, s notify.Summary)
}

type Deps struct {
	Store      Store
	Directory  Directory
	Authorizer auth.Authorizer
	Parser     parser.Parser
	Ledger     Ledger
	Messenger  messenger.Messenger
	Notifier   Notifier
	Locker     lock.Locker
}

type Options struct {
	ExpiryWindow time.Duration
	UndoWindow   time.Duration
	ParseTimeout time.Duration
	WriteTimeout time.Duration

	// Now and NewID default to the wall clock and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

const sweepBatch = 100

type Service struct {
	log  *slog.Logger
	deps Deps
	opts Options
}

func NewService(log *slog.Logger, deps Deps, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Service{log: log, deps: deps, opts: opts}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// Interaction is a button click on a confirmation message.
type Interaction struct {
	ActionID   string
	ActorID    string
	PendingID  string
	ChannelID  string
	MessageRef string
}

// Process runs one queued webhook task.
func (s *Service) Process(ctx context.Context, t queue.Task) error {
	switch t.Kind {
	case queue.KindInteraction:
		return s.HandleInteraction(ctx, Interaction{
			ActionID:   t.ActionID,
			ActorID:    t.ReporterID,
			PendingID:  t.PendingID,
			ChannelID:  t.ChannelID,
			MessageRef: t.MessageRef,
		})
	case queue.KindReport, "":
		return s.HandleReport(ctx, t)
	default:
		return fmt.Errorf("service.Process: unknown task kind %q", t.Kind)
	}
}

// HandleReport runs the pipeline for one inbound chat message: authorize,
// parse, resolve names, store a pending batch and post it for confirmation.
func (s *Service) HandleReport(ctx context.Context, t queue.Task) error {
	const op = "service.HandleReport"

	log := s.log.With(
		slog.String("op", op),
		slog.String("event_id", t.EventID),
		slog.String("reporter_id", t.ReporterID),
		slog.String("channel_id", t.ChannelID),
	)

	if !s.deps.Authorizer.IsAuthorized(ctx, t.ReporterID) {
		log.Info("reporter not authorized")
		s.reply(ctx, log, t.ChannelID, messenger.BuildDenied())
		return nil
	}

	text := parser.CleanText(t.Text)

	if parser.IsUndoCommand(text) {
		return s.Undo(ctx, t.ReporterID, t.ChannelID)
	}

	ref := t.ReceivedAt
	if ref.IsZero() {
		ref = s.now()
	}

	var events []models.ParsedAttendanceEvent
	err := utils.RunWithTimeout(ctx, s.opts.ParseTimeout, func(ctx context.Context) error {
		var err error
		events, err = s.deps.Parser.Parse(ctx, text, ref)
		return err
	})
	if err != nil {
		s.reply(ctx, log, t.ChannelID, messenger.BuildParseFailed())
		return fmt.Errorf("%s: parse: %w", op, err)
	}

	if len(events) == 0 {
		log.Info("no attendance events recognized")
		s.reply(ctx, log, t.ChannelID, messenger.BuildNoEvents())
		return nil
	}

	employees, err := s.deps.Directory.ListEmployees(ctx)
	if err != nil {
		s.reply(ctx, log, t.ChannelID, messenger.BuildParseFailed())
		return fmt.Errorf("%s: load directory: %w", op, err)
	}

	p := &models.PendingConfirmation{
		ID:         s.opts.NewID(),
		ReporterID: t.ReporterID,
		ChannelID:  t.ChannelID,
		Events:     resolver.Resolve(events, resolver.NewDirectory(employees)),
		Status:     models.StatusPending,
		CreatedAt:  s.now(),
	}

	if err := s.deps.Store.Create(ctx, p); err != nil {
		s.reply(ctx, log, t.ChannelID, messenger.BuildParseFailed())
		return fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("pending_id", p.ID))

	msgRef, err := s.deps.Messenger.Post(ctx, p.ChannelID, messenger.BuildConfirmation(p, s.opts.ExpiryWindow))
	if err != nil {
		return fmt.Errorf("%s: post confirmation: %w", op, err)
	}

	if err := s.deps.Store.SetMessageRef(ctx, p.ID, msgRef); err != nil {
		log.Error("failed to save message ref", sl.Err(err))
	}

	log.Info("confirmation posted", slog.Int("events", len(p.Events)), slog.Int("writable", len(p.Writable())))

	return nil
}

// HandleInteraction applies a button click. Guards run in order: the
// record exists, the actor is the reporter, the record is still pending
// and unclaimed, and it has not expired. Failed guards are no-ops except
// expiry, which retires the record.
func (s *Service) HandleInteraction(ctx context.Context, in Interaction) error {
	const op = "service.HandleInteraction"

	log := s.log.With(
		slog.String("op", op),
		slog.String("pending_id", in.PendingID),
		slog.String("action_id", in.ActionID),
		slog.String("actor_id", in.ActorID),
	)

	p, err := s.deps.Store.GetByID(ctx, in.PendingID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			log.Info("unknown pending confirmation")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if in.ActorID != p.ReporterID {
		log.Info("click from someone other than the reporter ignored")
		return nil
	}

	if p.Status != models.StatusPending || p.Claim != nil {
		log.Info("confirmation already resolved", slog.String("status", string(p.Status)))
		return nil
	}

	if p.MessageRef == nil && in.MessageRef != "" {
		ref := in.MessageRef
		p.MessageRef = &ref
	}

	if s.now().Sub(p.CreatedAt) > s.opts.ExpiryWindow {
		_, err := s.expire(ctx, log, p)
		return err
	}

	switch in.ActionID {
	case messenger.ActionConfirm:
		return s.confirm(ctx, log, p)
	case messenger.ActionCancel:
		return s.cancel(ctx, log, p)
	default:
		log.Warn("unknown action")
		return nil
	}
}

func (s *Service) confirm(ctx context.Context, log *slog.Logger, p *models.PendingConfirmation) error {
	const op = "service.confirm"

	if len(p.Writable()) == 0 {
		log.Info("nothing writable in batch, confirm ignored")
		return nil
	}

	now := s.now()

	ok, err := s.deps.Store.Claim(ctx, p.ID, models.StatusPending, models.ClaimConfirm, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Info("confirmation already claimed")
		return nil
	}

	res, err := s.applyLedger(ctx, p, ledger.ModeAdd, now)
	if err != nil {
		s.edit(ctx, log, p, messenger.BuildWriteFailed(p, false))
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err = s.deps.Store.CompleteClaim(ctx, p.ID, models.ClaimConfirm, models.StatusConfirmed, now)
	if err != nil {
		return fmt.Errorf("%s: rows written but status not saved: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: claim lost after write: %w", op, response.ErrConflict)
	}

	written := total(res.Counts)
	s.edit(ctx, log, p, messenger.BuildConfirmed(p, written, res.DryRun))
	s.notify(ctx, notify.KindApplied, p, res)

	log.Info("batch confirmed", slog.Int("written", written), slog.Bool("dry_run", res.DryRun))

	return nil
}

func (s *Service) cancel(ctx context.Context, log *slog.Logger, p *models.PendingConfirmation) error {
	const op = "service.cancel"

	ok, err := s.deps.Store.ConditionalTransition(ctx, p.ID, models.StatusPending, models.StatusCancelled, s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Info("confirmation already resolved")
		return nil
	}

	s.edit(ctx, log, p, messenger.BuildCancelled(p))
	log.Info("batch cancelled")

	return nil
}

func (s *Service) expire(ctx context.Context, log *slog.Logger, p *models.PendingConfirmation) (bool, error) {
	const op = "service.expire"

	ok, err := s.deps.Store.ConditionalTransition(ctx, p.ID, models.StatusPending, models.StatusExpired, s.now())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return false, nil
	}

	s.edit(ctx, log, p, messenger.BuildExpired(p))
	log.Info("batch expired")

	return true, nil
}

// Undo reverses the reporter's most recently confirmed batch when it was
// confirmed within the undo window.
func (s *Service) Undo(ctx context.Context, reporterID, channelID string) error {
	const op = "service.Undo"

	log := s.log.With(
		slog.String("op", op),
		slog.String("reporter_id", reporterID),
		slog.String("channel_id", channelID),
	)

	if s.deps.Locker != nil {
		key := lock.UndoKey(reporterID)

		acquired, err := s.deps.Locker.Lock(ctx, key, s.opts.WriteTimeout+time.Minute)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !acquired {
			log.Info("undo already in progress")
			return nil
		}

		defer func() {
			if err := s.deps.Locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("failed to release undo lock", sl.Err(err))
			}
		}()
	}

	now := s.now()

	p, err := s.deps.Store.LatestConfirmed(ctx, reporterID, now.Add(-s.opts.UndoWindow))
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			log.Info("no undo candidate")
			s.reply(ctx, log, channelID, messenger.BuildNoUndoCandidate(s.opts.UndoWindow))
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("pending_id", p.ID))

	// A claim left by an earlier failed undo blocks this batch for good.
	if p.Claim != nil {
		log.Info("undo blocked by an earlier failed attempt", slog.String("claim", string(*p.Claim)))
		s.reply(ctx, log, channelID, messenger.BuildWriteFailed(p, true))
		return nil
	}

	ok, err := s.deps.Store.Claim(ctx, p.ID, models.StatusConfirmed, models.ClaimUndo, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Info("batch already being undone")
		s.reply(ctx, log, channelID, messenger.BuildWriteFailed(p, true))
		return nil
	}

	res, err := s.applyLedger(ctx, p, ledger.ModeDelete, now)
	if err != nil {
		failed := messenger.BuildWriteFailed(p, true)
		s.edit(ctx, log, p, failed)
		s.reply(ctx, log, channelID, failed)
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err = s.deps.Store.CompleteClaim(ctx, p.ID, models.ClaimUndo, models.StatusUndone, now)
	if err != nil {
		return fmt.Errorf("%s: rows removed but status not saved: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: claim lost after delete: %w", op, response.ErrConflict)
	}

	removed := total(res.Counts)
	msg := messenger.BuildUndone(p, removed, res.Warnings, res.DryRun)
	s.edit(ctx, log, p, msg)
	s.reply(ctx, log, channelID, msg)
	s.notify(ctx, notify.KindUndone, p, res)

	log.Info("batch undone", slog.Int("removed", removed), slog.Int("warnings", len(res.Warnings)))

	return nil
}

// SweepExpired retires pending batches older than the expiry window that
// nobody clicked on.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	const op = "service.SweepExpired"

	log := s.log.With(slog.String("op", op))

	stale, err := s.deps.Store.ListStalePending(ctx, s.now().Add(-s.opts.ExpiryWindow), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	expired := 0
	for _, p := range stale {
		ok, err := s.expire(ctx, log.With(slog.String("pending_id", p.ID)), p)
		if err != nil {
			return expired, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		log.Info("expired stale confirmations", slog.Int("count", expired))
	}

	return expired, nil
}

func (s *Service) GetPending(ctx context.Context, id string) (*models.PendingConfirmation, error) {
	const op = "service.GetPending"

	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, response.ErrBadRequest)
	}

	p, err := s.deps.Store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

func (s *Service) applyLedger(ctx context.Context, p *models.PendingConfirmation, mode ledger.Mode, at time.Time) (ledger.Result, error) {
	var res ledger.Result

	err := utils.RunWithTimeout(ctx, s.opts.WriteTimeout, func(ctx context.Context) error {
		var err error
		res, err = s.deps.Ledger.Apply(ctx, p.Events, p.ReporterID, mode, ledger.Meta{PendingID: p.ID, At: at})
		return err
	})

	return res, err
}

// edit replaces the batch's interactive message, or posts a new one when
// no handle was recorded.
func (s *Service) edit(ctx context.Context, log *slog.Logger, p *models.PendingConfirmation, msg messenger.Message) {
	if p.MessageRef == nil {
		s.reply(ctx, log, p.ChannelID, msg)
		return
	}

	if err := s.deps.Messenger.Update(ctx, p.ChannelID, *p.MessageRef, msg); err != nil {
		log.Warn("failed to update message", sl.Err(err))
	}
}

func (s *Service) reply(ctx context.Context, log *slog.Logger, channel string, msg messenger.Message) {
	if _, err := s.deps.Messenger.Post(ctx, channel, msg); err != nil {
		log.Warn("failed to post reply", sl.Err(err))
	}
}

func (s *Service) notify(ctx context.Context, kind notify.Kind, p *models.PendingConfirmation, res ledger.Result) {
	if s.deps.Notifier == nil {
		return
	}

	counts := make(map[string]int, len(res.Counts))
	for dest, n := range res.Counts {
		counts[string(dest)] = n
	}

	s.deps.Notifier.Notify(ctx, notify.Summary{
		Kind:     kind,
		Pending:  p,
		Counts:   counts,
		DryRun:   res.DryRun,
		Warnings: res.Warnings,
	})
}

func total(counts map[ledger.Destination]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
