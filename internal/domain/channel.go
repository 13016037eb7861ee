package domain

import (
	"errors"
	"time"
)

type (
	ChannelID   string
	ChannelType string
)

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
	ChannelVideo ChannelType = "video"
)

var ErrChannelNotJoinable = errors.New("channel does not carry live media")

type Channel struct {
	ID        ChannelID   `json:"id"`
	ServerID  string      `json:"server_id"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// Joinable reports whether the channel carries a live call at all.
func (c *Channel) Joinable() bool {
	return c.Type == ChannelVoice || c.Type == ChannelVideo
}

// SupportsVideo reports whether camera tracks are allowed in this channel.
func (c *Channel) SupportsVideo() bool {
	return c.Type == ChannelVideo
}
