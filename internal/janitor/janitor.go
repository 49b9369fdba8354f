package janitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper removes records that no longer matter: expired cache entries,
// rate-limit state for identities idle past the daily window.
type Sweeper interface {
	Sweep(ctx context.Context) (removed int, err error)
}

type Option func(*Janitor)

func WithInterval(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.interval = d
		}
	}
}

func WithOnSweep(fn func(removed int)) Option {
	return func(j *Janitor) { j.onSweep = fn }
}

// Janitor periodically runs its sweepers. Sweeps are best effort; a
// failing sweep is logged and retried on the next tick.
type Janitor struct {
	sweepers []Sweeper
	interval time.Duration
	log      zerolog.Logger
	onSweep  func(removed int)
}

func New(log zerolog.Logger, sweepers []Sweeper, opts ...Option) *Janitor {
	j := &Janitor{
		sweepers: sweepers,
		interval: 15 * time.Minute,
		log:      log,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Start blocks until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce sweeps every store once and returns the total removed.
func (j *Janitor) RunOnce(ctx context.Context) int {
	start := time.Now()
	total := 0
	for _, s := range j.sweepers {
		n, err := s.Sweep(ctx)
		if err != nil {
			j.log.Warn().Err(err).Msg("sweep failed")
			continue
		}
		total += n
	}
	if j.onSweep != nil {
		j.onSweep(total)
	}
	j.log.Debug().Int("removed", total).Dur("dur", time.Since(start)).Msg("sweep")
	return total
}
