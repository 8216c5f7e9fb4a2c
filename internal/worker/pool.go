package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"quizgen/internal/domain"
)

// ErrQueueFull is returned by Dispatch when every slot is taken. The job stays
// PENDING and the poller picks it up later.
var ErrQueueFull = errors.New("worker queue full")

// Pool is the in-process generation engine: a bounded queue drained by a fixed
// number of goroutines.
type Pool struct {
	processor *Processor
	queue     chan string
	workers   int
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

func NewPool(processor *Processor, workers, queueSize int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		processor: processor,
		queue:     make(chan string, queueSize),
		workers:   workers,
		logger:    logger,
	}
}

// Start launches the workers. They exit when ctx is done.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
	p.logger.Info().Int("workers", p.workers).Int("queue", cap(p.queue)).Msg("worker: pool started")
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Dispatch enqueues jobID without blocking.
func (p *Pool) Dispatch(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) loop(ctx context.Context, n int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker", n).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.queue:
			if err := p.processor.Process(ctx, jobID); err != nil {
				log.Error().Err(err).Str("job_id", jobID).Msg("worker: process failed")
			}
		}
	}
}

var _ domain.Dispatcher = (*Pool)(nil)
