package matchmaking

import (
	"context"
	"peerlink/backend/internal/config"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reaper periodically expires pending requests nobody answered.
type Reaper struct {
	mgr      *Manager
	interval time.Duration
	log      zerolog.Logger
}

func NewReaper(mgr *Manager, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = config.ReaperInterval
	}
	return &Reaper{
		mgr:      mgr,
		interval: interval,
		log:      log.Logger.With().Str("component", "reaper").Logger(),
	}
}

// Run sweeps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Msg("request reaper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns how many requests it expired.
func (r *Reaper) Sweep(ctx context.Context) int {
	n, err := r.mgr.ExpireOverdue(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("expiry sweep failed")
		return n
	}
	if n > 0 {
		r.log.Info().Int("expired", n).Msg("expired overdue match requests")
	}
	return n
}
