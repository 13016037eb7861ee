package core

import "github.com/cosmichat/voicemesh/internal/domain"

type PresenceEventKind string

const (
	EventJoined PresenceEventKind = "joined"
	EventLeft   PresenceEventKind = "left"
	EventMuted  PresenceEventKind = "muted"
	EventVideo  PresenceEventKind = "video"
)

// PresenceEvent describes one registry mutation. The roster snapshot is
// taken under the channel lock so sinks never have to call back into the
// registry.
type PresenceEvent struct {
	Kind     PresenceEventKind `json:"event"`
	Channel  domain.ChannelID  `json:"channel_id"`
	Presence domain.Presence   `json:"presence"`
	Roster   []RosterEntry     `json:"roster"`
}

// EventSink receives presence mutations for fan-out to channel members.
// This notification path is best-effort and carries no signaling guarantees.
type EventSink interface {
	PresenceChanged(ev PresenceEvent)
}
