package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

// channelRoster serializes all mutations for one channel.
type channelRoster struct {
	mu     sync.Mutex
	byUser map[domain.UserID]*domain.Presence
}

func (r *channelRoster) snapshotLocked() []core.RosterEntry {
	out := make([]core.RosterEntry, 0, len(r.byUser))
	for _, p := range r.byUser {
		out = append(out, core.RosterEntry{
			UserID:         p.UserID,
			IsMuted:        p.IsMuted,
			IsVideoEnabled: p.IsVideoEnabled,
			JoinedAt:       p.JoinedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Registry is the authoritative in-memory presence store. One lock per
// channel roster; no cross-channel transactions.
type Registry struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*domain.Channel
	rosters  map[domain.ChannelID]*channelRoster

	sink core.EventSink // optional, may be nil
}

func NewRegistry(channels []domain.Channel) *Registry {
	reg := &Registry{
		channels: make(map[domain.ChannelID]*domain.Channel),
		rosters:  make(map[domain.ChannelID]*channelRoster),
	}
	for i := range channels {
		ch := channels[i]
		reg.channels[ch.ID] = &ch
		reg.rosters[ch.ID] = &channelRoster{byUser: make(map[domain.UserID]*domain.Presence)}
	}
	return reg
}

// SetSink attaches the presence fan-out. Must be called before serving.
func (reg *Registry) SetSink(sink core.EventSink) { reg.sink = sink }

func (reg *Registry) RegisterChannel(ch domain.Channel) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.channels[ch.ID]; ok {
		return
	}
	reg.channels[ch.ID] = &ch
	reg.rosters[ch.ID] = &channelRoster{byUser: make(map[domain.UserID]*domain.Presence)}
	log.Info().Str("module", "app.presence").Str("channel", string(ch.ID)).Str("type", string(ch.Type)).Msg("channel registered")
}

func (reg *Registry) Channels() []domain.Channel {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]domain.Channel, 0, len(reg.channels))
	for _, ch := range reg.channels {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (reg *Registry) lookup(ch domain.ChannelID) (*domain.Channel, *channelRoster, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	meta, ok := reg.channels[ch]
	if !ok {
		return nil, nil, core.ErrUnknownChannel
	}
	return meta, reg.rosters[ch], nil
}

// Join is idempotent: a second join replaces the existing row (reconnect).
// The returned roster includes the caller.
func (reg *Registry) Join(ch domain.ChannelID, user domain.UserID, wantsVideo bool) ([]core.RosterEntry, error) {
	meta, roster, err := reg.lookup(ch)
	if err != nil {
		return nil, err
	}
	if !meta.Joinable() {
		return nil, domain.ErrChannelNotJoinable
	}
	if wantsVideo && !meta.SupportsVideo() {
		wantsVideo = false
	}

	roster.mu.Lock()
	roster.byUser[user] = domain.NewPresence(ch, user, wantsVideo)
	snap := roster.snapshotLocked()
	ev := core.PresenceEvent{Kind: core.EventJoined, Channel: ch, Presence: *roster.byUser[user], Roster: snap}
	roster.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("channel", string(ch)).Str("user", string(user)).Bool("video", wantsVideo).Msg("joined")
	reg.publish(ev)
	return snap, nil
}

// Leave removes the presence; no-op when absent.
func (reg *Registry) Leave(ch domain.ChannelID, user domain.UserID) {
	_, roster, err := reg.lookup(ch)
	if err != nil {
		return
	}

	roster.mu.Lock()
	p, ok := roster.byUser[user]
	if !ok {
		roster.mu.Unlock()
		return
	}
	delete(roster.byUser, user)
	ev := core.PresenceEvent{Kind: core.EventLeft, Channel: ch, Presence: *p, Roster: roster.snapshotLocked()}
	roster.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("channel", string(ch)).Str("user", string(user)).Msg("left")
	reg.publish(ev)
}

func (reg *Registry) SetMuted(ch domain.ChannelID, user domain.UserID, muted bool) error {
	_, roster, err := reg.lookup(ch)
	if err != nil {
		return err
	}

	roster.mu.Lock()
	p, ok := roster.byUser[user]
	if !ok {
		roster.mu.Unlock()
		return core.ErrNotPresent
	}
	p.IsMuted = muted
	ev := core.PresenceEvent{Kind: core.EventMuted, Channel: ch, Presence: *p, Roster: roster.snapshotLocked()}
	roster.mu.Unlock()

	reg.publish(ev)
	return nil
}

func (reg *Registry) SetVideo(ch domain.ChannelID, user domain.UserID, enabled bool) error {
	meta, roster, err := reg.lookup(ch)
	if err != nil {
		return err
	}
	if enabled && !meta.SupportsVideo() {
		return core.ErrVideoUnsupported
	}

	roster.mu.Lock()
	p, ok := roster.byUser[user]
	if !ok {
		roster.mu.Unlock()
		return core.ErrNotPresent
	}
	p.IsVideoEnabled = enabled
	ev := core.PresenceEvent{Kind: core.EventVideo, Channel: ch, Presence: *p, Roster: roster.snapshotLocked()}
	roster.mu.Unlock()

	reg.publish(ev)
	return nil
}

func (reg *Registry) List(ch domain.ChannelID) []core.RosterEntry {
	_, roster, err := reg.lookup(ch)
	if err != nil {
		return nil
	}
	roster.mu.Lock()
	defer roster.mu.Unlock()
	return roster.snapshotLocked()
}

// publish runs outside the roster lock so sinks may call back into the
// registry or the relay freely.
func (reg *Registry) publish(ev core.PresenceEvent) {
	if reg.sink != nil {
		reg.sink.PresenceChanged(ev)
	}
}
