package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

type capturedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]bool
}

func newRosterServer(t *testing.T, status int, respond any) (*Roster, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.query = r.URL.RawQuery
		captured.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&captured.body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if respond != nil {
			_ = json.NewEncoder(w).Encode(respond)
		}
	}))
	t.Cleanup(srv.Close)

	return NewRoster(srv.URL, "alice"), captured
}

func TestJoinSendsBodyAndDecodesRoster(t *testing.T) {
	roster, captured := newRosterServer(t, http.StatusOK, []core.RosterEntry{
		{UserID: "alice"}, {UserID: "bob", IsMuted: true},
	})

	entries, err := roster.Join(context.Background(), "lounge", true)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/api/channels/lounge/join", captured.path)
	assert.Equal(t, "Bearer alice", captured.auth)
	assert.True(t, captured.body["wants_video"])

	require.Len(t, entries, 2)
	assert.Equal(t, domain.UserID("bob"), entries[1].UserID)
	assert.True(t, entries[1].IsMuted)
}

func TestJoinUnknownChannelMapsTo404Error(t *testing.T) {
	roster, _ := newRosterServer(t, http.StatusNotFound, map[string]string{"error": "unknown channel"})

	_, err := roster.Join(context.Background(), "nope", false)
	assert.ErrorIs(t, err, core.ErrUnknownChannel)
}

func TestLeavePostsWithoutBody(t *testing.T) {
	roster, captured := newRosterServer(t, http.StatusNoContent, nil)

	require.NoError(t, roster.Leave(context.Background(), "lounge"))
	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/api/channels/lounge/leave", captured.path)
}

func TestSetMutedUsesQueryParam(t *testing.T) {
	roster, captured := newRosterServer(t, http.StatusOK, map[string]bool{"success": true})

	require.NoError(t, roster.SetMuted(context.Background(), "lounge", true))
	assert.Equal(t, "/api/channels/lounge/toggle-mute", captured.path)
	assert.Equal(t, "is_muted=true", captured.query)
}

func TestSetMutedNotPresentMapsTo409Error(t *testing.T) {
	roster, _ := newRosterServer(t, http.StatusConflict, map[string]string{"error": "no presence"})

	assert.ErrorIs(t, roster.SetMuted(context.Background(), "lounge", true), core.ErrNotPresent)
}

func TestSetVideoUnsupportedMapsTo400Error(t *testing.T) {
	roster, captured := newRosterServer(t, http.StatusBadRequest, map[string]string{"error": "audio-only"})

	err := roster.SetVideo(context.Background(), "lounge", true)
	assert.ErrorIs(t, err, core.ErrVideoUnsupported)
	assert.Equal(t, "is_video_enabled=true", captured.query)
}
