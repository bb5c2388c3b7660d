package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Flusher is the slice of the coordinator the sweeper needs.
type Flusher interface {
	FlushScores(ctx context.Context)
}

// Sweeper periodically mirrors live scores to the durable store so they
// survive process restarts. Upsert semantics, last-write-wins: the in-memory
// copy is authoritative while this process is alive.
type Sweeper struct {
	flusher  Flusher
	interval time.Duration
	log      zerolog.Logger
}

func NewSweeper(flusher Flusher, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		flusher:  flusher,
		interval: interval,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Run flushes on a fixed interval until ctx is canceled, with one final
// flush on the way out.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flusher.FlushScores(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			s.flusher.FlushScores(ctx)
		}
	}
}
