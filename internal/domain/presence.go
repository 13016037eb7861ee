package domain

import "time"

// Presence is one user's active membership in a live channel.
// The presence registry is the sole writer; everyone else gets copies.
type Presence struct {
	ChannelID      ChannelID `json:"channel_id"`
	UserID         UserID    `json:"user_id"`
	IsMuted        bool      `json:"is_muted"`
	IsVideoEnabled bool      `json:"is_video_enabled"`
	JoinedAt       time.Time `json:"joined_at"`
}

// NewPresence avoids raw literals in adapters and keeps construction obvious.
func NewPresence(ch ChannelID, user UserID, wantsVideo bool) *Presence {
	return &Presence{
		ChannelID:      ch,
		UserID:         user,
		IsVideoEnabled: wantsVideo,
		JoinedAt:       time.Now().UTC(),
	}
}
