package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"attendance-bot/pkg/sl"
)

type Handler func(ctx context.Context, t Task)

// Pool drains a queue with a fixed number of workers.
type Pool struct {
	log     *slog.Logger
	q       Queue
	handler Handler
	workers int

	wg sync.WaitGroup
}

func NewPool(log *slog.Logger, q Queue, workers int, handler Handler) *Pool {
	if workers <= 0 {
		workers = 1
	}

	return &Pool{log: log, q: q, handler: handler, workers: workers}
}

// Start launches the workers; they stop when ctx is done or the queue is
// closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.log.With(slog.String("op", "queue.Pool.run"), slog.Int("worker", id))
	log.Debug("worker started")

	for {
		t, err := p.q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				log.Debug("worker stopped")
				return
			}

			log.Error("failed to dequeue task", sl.Err(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.handle(ctx, log, t)
	}
}

func (p *Pool) handle(ctx context.Context, log *slog.Logger, t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", slog.Any("panic", r), slog.String("event_id", t.EventID))
		}
	}()

	p.handler(ctx, t)
}
