package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
)

// Sweeper reaps presences whose user has had no control connection for
// longer than the grace period. Clients that leave cleanly never meet it;
// it exists for crashed tabs and dropped links.
type Sweeper struct {
	Presence *Registry
	Relay    core.RelayService
	Grace    time.Duration
	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sweep(now); n > 0 {
				log.Info().Str("module", "app.sweeper").Int("reaped", n).Msg("swept stale presences")
			}
		}
	}
}

func (s *Sweeper) sweep(now time.Time) int {
	reaped := 0
	for _, ch := range s.Presence.Channels() {
		for _, entry := range s.Presence.List(ch.ID) {
			off, offline := s.Relay.OfflineSince(entry.UserID)
			if !offline {
				continue
			}
			// A user that never connected is measured from its join time.
			ref := off
			if ref.IsZero() || ref.Before(entry.JoinedAt) {
				ref = entry.JoinedAt
			}
			if now.Sub(ref) < s.Grace {
				continue
			}
			s.Presence.Leave(ch.ID, entry.UserID)
			reaped++
		}
	}
	return reaped
}
