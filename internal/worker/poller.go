package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"quizgen/internal/domain"
)

// Claimer hands out PENDING jobs that nobody has picked up.
type Claimer interface {
	ClaimNextPending(ctx context.Context, staleAfter time.Duration) (*domain.GenerationJob, error)
}

// Poller recovers jobs whose dispatch was lost, for example because the API
// process restarted or its queue was full.
type Poller struct {
	claimer    Claimer
	processor  *Processor
	interval   time.Duration
	staleAfter time.Duration
	logger     zerolog.Logger
}

func NewPoller(claimer Claimer, processor *Processor, interval, staleAfter time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		claimer:    claimer,
		processor:  processor,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Dur("stale_after", p.staleAfter).Msg("worker: poller started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		found, err := p.PollOnce(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("worker: failed to claim job")
		}
		if found {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// PollOnce claims and runs at most one job. It reports whether a job was found.
func (p *Poller) PollOnce(ctx context.Context) (bool, error) {
	job, err := p.claimer.ClaimNextPending(ctx, p.staleAfter)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, p.processor.Run(ctx, job)
}
