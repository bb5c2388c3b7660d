package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Leaver is the slice of the coordinator the presence tracker needs.
type Leaver interface {
	Leave(ctx context.Context, sessionID, accountID string) error
}

type presenceKey struct {
	sessionID string
	accountID string
}

// Presence detects silently-dead connections. Every inbound intent and
// liveness ping refreshes the account's last-seen time; a background sweep
// removes accounts that have gone quiet for longer than the timeout by
// delegating to the coordinator's leave semantics.
type Presence struct {
	leaver  Leaver
	sweep   time.Duration
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu   sync.Mutex
	seen map[presenceKey]time.Time
}

func NewPresence(leaver Leaver, sweep, timeout time.Duration, log zerolog.Logger) *Presence {
	return &Presence{
		leaver:  leaver,
		sweep:   sweep,
		timeout: timeout,
		now:     time.Now,
		log:     log.With().Str("component", "presence").Logger(),
		seen:    make(map[presenceKey]time.Time),
	}
}

// NewPresenceWithClock is test-only for deterministic timestamps.
func NewPresenceWithClock(leaver Leaver, sweep, timeout time.Duration, log zerolog.Logger, now func() time.Time) *Presence {
	p := NewPresence(leaver, sweep, timeout, log)
	p.now = now
	return p
}

// Touch records a liveness signal for the account in the session.
func (p *Presence) Touch(sessionID, accountID string) {
	p.mu.Lock()
	p.seen[presenceKey{sessionID, accountID}] = p.now()
	p.mu.Unlock()
}

// Forget drops tracking without triggering a leave (explicit leave or
// connection teardown already handled membership).
func (p *Presence) Forget(sessionID, accountID string) {
	p.mu.Lock()
	delete(p.seen, presenceKey{sessionID, accountID})
	p.mu.Unlock()
}

// Run sweeps on a fixed interval until ctx is canceled.
func (p *Presence) Run(ctx context.Context) {
	ticker := time.NewTicker(p.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep removes every account whose last-seen time exceeds the timeout.
// Failures are isolated per account; the tracking entry survives a failed
// cleanup so the next sweep retries it, and is dropped only after the leave
// succeeds.
func (p *Presence) Sweep(ctx context.Context) {
	cutoff := p.now().Add(-p.timeout)

	p.mu.Lock()
	stale := make(map[presenceKey]time.Time)
	for key, last := range p.seen {
		if last.Before(cutoff) {
			stale[key] = last
		}
	}
	p.mu.Unlock()

	for key, last := range stale {
		if err := p.leaver.Leave(ctx, key.sessionID, key.accountID); err != nil {
			p.log.Warn().Err(err).Str("session", key.sessionID).Str("account", key.accountID).Msg("presence cleanup failed")
			continue
		}
		p.mu.Lock()
		// A concurrent Touch means the account came back; keep tracking it.
		if cur, ok := p.seen[key]; ok && cur.Equal(last) {
			delete(p.seen, key)
		}
		p.mu.Unlock()
	}
}
