package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

func testChannels() []domain.Channel {
	now := time.Now()
	return []domain.Channel{
		{ID: "lounge", Name: "Lounge", Type: domain.ChannelVoice, CreatedAt: now},
		{ID: "hangout", Name: "Hangout", Type: domain.ChannelVideo, CreatedAt: now},
		{ID: "general", Name: "General", Type: domain.ChannelText, CreatedAt: now},
	}
}

type recordingSink struct {
	events []core.PresenceEvent
}

func (s *recordingSink) PresenceChanged(ev core.PresenceEvent) {
	s.events = append(s.events, ev)
}

func TestJoinReturnsRosterIncludingCaller(t *testing.T) {
	reg := NewRegistry(testChannels())

	roster, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, domain.UserID("alice"), roster[0].UserID)

	roster, err = reg.Join("lounge", "bob", false)
	require.NoError(t, err)
	require.Len(t, roster, 2)
}

func TestJoinUnknownChannel(t *testing.T) {
	reg := NewRegistry(testChannels())

	_, err := reg.Join("nope", "alice", false)
	assert.ErrorIs(t, err, core.ErrUnknownChannel)
}

func TestJoinTextChannelRejected(t *testing.T) {
	reg := NewRegistry(testChannels())

	_, err := reg.Join("general", "alice", false)
	assert.ErrorIs(t, err, domain.ErrChannelNotJoinable)
}

func TestJoinIsIdempotent(t *testing.T) {
	reg := NewRegistry(testChannels())

	_, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)
	require.NoError(t, reg.SetMuted("lounge", "alice", true))

	// Rejoin replaces the row, resetting the flags.
	roster, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.False(t, roster[0].IsMuted)
}

func TestJoinClampsVideoOnVoiceChannel(t *testing.T) {
	reg := NewRegistry(testChannels())

	roster, err := reg.Join("lounge", "alice", true)
	require.NoError(t, err)
	assert.False(t, roster[0].IsVideoEnabled)

	roster, err = reg.Join("hangout", "alice", true)
	require.NoError(t, err)
	assert.True(t, roster[0].IsVideoEnabled)
}

func TestLeaveAbsentIsNoop(t *testing.T) {
	reg := NewRegistry(testChannels())
	sink := &recordingSink{}
	reg.SetSink(sink)

	reg.Leave("lounge", "ghost")
	reg.Leave("nope", "ghost")
	assert.Empty(t, sink.events)
}

func TestTogglesRequirePresence(t *testing.T) {
	reg := NewRegistry(testChannels())

	assert.ErrorIs(t, reg.SetMuted("lounge", "alice", true), core.ErrNotPresent)
	assert.ErrorIs(t, reg.SetVideo("hangout", "alice", true), core.ErrNotPresent)
}

func TestSetVideoOnVoiceChannel(t *testing.T) {
	reg := NewRegistry(testChannels())

	_, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)

	assert.ErrorIs(t, reg.SetVideo("lounge", "alice", true), core.ErrVideoUnsupported)
	// Turning video off is always allowed.
	assert.NoError(t, reg.SetVideo("lounge", "alice", false))
}

func TestListDistinguishesUnknownFromEmpty(t *testing.T) {
	reg := NewRegistry(testChannels())

	assert.Nil(t, reg.List("nope"))
	assert.NotNil(t, reg.List("lounge"))
	assert.Empty(t, reg.List("lounge"))
}

func TestRosterSortedByJoinTime(t *testing.T) {
	reg := NewRegistry(testChannels())

	_, err := reg.Join("lounge", "carol", false)
	require.NoError(t, err)
	_, err = reg.Join("lounge", "alice", false)
	require.NoError(t, err)
	roster, err := reg.Join("lounge", "bob", false)
	require.NoError(t, err)

	require.Len(t, roster, 3)
	for i := 1; i < len(roster); i++ {
		assert.False(t, roster[i].JoinedAt.Before(roster[i-1].JoinedAt))
	}
	assert.Equal(t, domain.UserID("carol"), roster[0].UserID)
}

func TestEventsCarryRosterSnapshots(t *testing.T) {
	reg := NewRegistry(testChannels())
	sink := &recordingSink{}
	reg.SetSink(sink)

	_, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)
	require.NoError(t, reg.SetMuted("lounge", "alice", true))
	reg.Leave("lounge", "alice")

	require.Len(t, sink.events, 3)
	assert.Equal(t, core.EventJoined, sink.events[0].Kind)
	assert.Equal(t, core.EventMuted, sink.events[1].Kind)
	assert.Equal(t, core.EventLeft, sink.events[2].Kind)

	// The leave event's roster no longer contains the leaver, but the event
	// subject does.
	left := sink.events[2]
	assert.Empty(t, left.Roster)
	assert.Equal(t, domain.UserID("alice"), left.Presence.UserID)
	assert.True(t, sink.events[1].Presence.IsMuted)
}

func TestRegisterChannelIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)

	reg.RegisterChannel(domain.Channel{ID: "lounge", Name: "Lounge", Type: domain.ChannelVoice})
	_, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)

	// Re-registering must not wipe the roster.
	reg.RegisterChannel(domain.Channel{ID: "lounge", Name: "Lounge", Type: domain.ChannelVoice})
	assert.Len(t, reg.List("lounge"), 1)
}
