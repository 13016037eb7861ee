package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

// Relay is the process-wide connection table for signaling. Forwarding is
// fire-and-forget: no queueing, no delivery guarantee.
type Relay struct {
	mu      sync.RWMutex
	conns   map[domain.UserID]core.SignalConnection
	offline map[domain.UserID]time.Time // last unbind time per user
}

func NewRelay() *Relay {
	return &Relay{
		conns:   make(map[domain.UserID]core.SignalConnection),
		offline: make(map[domain.UserID]time.Time),
	}
}

// Bind installs conn as the user's control connection, replacing (and
// closing) any previous one.
func (r *Relay) Bind(user domain.UserID, conn core.SignalConnection) {
	r.mu.Lock()
	old := r.conns[user]
	r.conns[user] = conn
	delete(r.offline, user)
	r.mu.Unlock()

	if old != nil && old != conn {
		old.Close()
		log.Info().Str("module", "app.relay").Str("user", string(user)).Msg("replaced control connection")
	} else {
		log.Info().Str("module", "app.relay").Str("user", string(user)).Msg("bound control connection")
	}
}

// Unbind detaches conn only if it is still current, so a stale connection's
// cleanup never tears down its replacement.
func (r *Relay) Unbind(user domain.UserID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[user] != conn {
		return
	}
	delete(r.conns, user)
	r.offline[user] = time.Now()
	log.Info().Str("module", "app.relay").Str("user", string(user)).Msg("unbound control connection")
}

// Forward rewrites the sender identity and delivers the envelope if the
// target is connected. A missing target is a silent drop.
func (r *Relay) Forward(from domain.UserID, env *core.Envelope) bool {
	env.From = from
	data, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode envelope")
		return false
	}
	return r.Send(env.To, data)
}

func (r *Relay) Send(to domain.UserID, data core.Frame) bool {
	r.mu.RLock()
	conn, ok := r.conns[to]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "app.relay").Str("to", string(to)).Msg("target not connected, dropping")
		return false
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("to", string(to)).Msg("send failed, dropping")
		return false
	}
	return true
}

func (r *Relay) Connected(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[user]
	return ok
}

// OfflineSince reports when the user's control connection went away; ok is
// false while connected. The zero time means the user was never seen.
func (r *Relay) OfflineSince(user domain.UserID) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conns[user]; ok {
		return time.Time{}, false
	}
	return r.offline[user], true
}
