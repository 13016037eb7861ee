package core

import (
	"errors"
	"time"

	"github.com/cosmichat/voicemesh/internal/domain"
)

var (
	ErrNotPresent       = errors.New("user has no active presence in channel")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrVideoUnsupported = errors.New("channel is audio-only")
)

// RosterEntry is a read-only view of one presence for APIs (no channel field,
// the caller already knows which channel it asked about).
type RosterEntry struct {
	UserID         domain.UserID `json:"user_id"`
	IsMuted        bool          `json:"is_muted"`
	IsVideoEnabled bool          `json:"is_video_enabled"`
	JoinedAt       time.Time     `json:"joined_at"`
}

// PresenceService is the authoritative roster of live channel membership.
// It is the sole writer of presence rows.
type PresenceService interface {
	// Join is idempotent: an existing presence for (channel, user) is
	// replaced. Returns the full roster including the caller so clients can
	// compute the peer set without racing their own entry.
	Join(ch domain.ChannelID, user domain.UserID, wantsVideo bool) ([]RosterEntry, error)
	// Leave removes the user's presence; no-op when absent.
	Leave(ch domain.ChannelID, user domain.UserID)
	SetMuted(ch domain.ChannelID, user domain.UserID, muted bool) error
	SetVideo(ch domain.ChannelID, user domain.UserID, enabled bool) error
	List(ch domain.ChannelID) []RosterEntry
}
