package services

import (
	"context"
	"time"

	"gamesession/session"
	"gamesession/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const reapBatch = 100

// Reaper removes sessions whose expiry has passed. Controllers following a
// removed session see it end.
type Reaper struct {
	store    store.SessionStore
	ledger   Ledger
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewReaper(st store.SessionStore, ledger Ledger, interval time.Duration) *Reaper {
	return &Reaper{
		store:    st,
		ledger:   ledger,
		interval: interval,
		now:      time.Now,
		log:      log.Logger,
	}
}

// Run reaps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.ReapOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reap failed")
			} else if n > 0 {
				r.log.Info().Int("count", n).Msg("reaped expired sessions")
			}
		}
	}
}

// ReapOnce removes one batch of expired sessions and returns how many it
// removed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	now := r.now()
	codes, err := r.ledger.ExpiredSessions(ctx, now, reapBatch)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, code := range codes {
		if err := r.store.Delete(ctx, session.Path(code)); err != nil {
			r.log.Warn().Err(err).Str("code", code).Msg("failed to delete expired session")
			continue
		}
		if err := r.ledger.MarkEnded(ctx, code, now); err != nil {
			r.log.Warn().Err(err).Str("code", code).Msg("failed to mark session ended")
			continue
		}
		reaped++
	}
	return reaped, nil
}
