package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"attendance-bot/pkg/sl"

	"github.com/robfig/cron/v3"
)

type Expirer interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper periodically retires pending confirmations nobody clicked on.
type Sweeper struct {
	log     *slog.Logger
	expirer Expirer
	timeout time.Duration
	cron    *cron.Cron
}

func New(log *slog.Logger, expirer Expirer, schedule string, timeout time.Duration) (*Sweeper, error) {
	const op = "sweeper.New"

	s := &Sweeper{
		log:     log.With(slog.String("component", "sweeper")),
		expirer: expirer,
		timeout: timeout,
	}

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("%s: schedule %q: %w", op, schedule, err)
	}

	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info("sweeper started")
}

// Stop halts scheduling and returns a context done once a running sweep
// has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) RunOnce(ctx context.Context) int {
	const op = "sweeper.RunOnce"

	log := s.log.With(slog.String("op", op))

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := s.expirer.SweepExpired(ctx)
	if err != nil {
		log.Error("sweep failed", sl.Err(err), slog.Int("expired", n))
		return n
	}

	log.Debug("sweep finished", slog.Int("expired", n))

	return n
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{sl.Err(err)}, keysAndValues...)...)
}
