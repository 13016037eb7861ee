package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmichat/voicemesh/internal/adapters/signal"
	"github.com/cosmichat/voicemesh/internal/app"
	"github.com/cosmichat/voicemesh/internal/config"
	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

func testRouter(t *testing.T) (*gin.Engine, *app.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := app.NewRegistry([]domain.Channel{
		{ID: "lounge", Name: "Lounge", Type: domain.ChannelVoice, CreatedAt: time.Now()},
		{ID: "hangout", Name: "Hangout", Type: domain.ChannelVideo, CreatedAt: time.Now()},
	})
	relay := app.NewRelay()
	limiter := signal.NewEnvelopeRateLimiter(100, time.Minute)
	ctl := signal.NewController(relay, limiter, 32768, 54*time.Second)

	cfg := &config.Config{Mode: "release", Secret: "test-secret"}
	return SetupRouter(cfg, reg, ctl), reg
}

func doJSON(t *testing.T, r *gin.Engine, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+user)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJoinReturnsRoster(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/channels/lounge/join", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	var roster []core.RosterEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	require.Len(t, roster, 1)
	assert.Equal(t, domain.UserID("alice"), roster[0].UserID)

	w = doJSON(t, r, http.MethodPost, "/api/channels/lounge/join", "bob", `{"wants_video":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	require.Len(t, roster, 2)
}

func TestJoinUnknownChannelIs404(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/channels/nope/join", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinVideoClampedOnVoiceChannel(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/channels/lounge/join", "alice", `{"wants_video":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var roster []core.RosterEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	assert.False(t, roster[0].IsVideoEnabled)
}

func TestLeaveIs204EvenWhenAbsent(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/channels/lounge/leave", "ghost", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestParticipants(t *testing.T) {
	r, reg := testRouter(t)
	_, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/api/channels/lounge/participants", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)

	var roster []core.RosterEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roster))
	require.Len(t, roster, 1)

	w = doJSON(t, r, http.MethodGet, "/api/channels/nope/participants", "bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestToggleMute(t *testing.T) {
	r, reg := testRouter(t)
	_, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost, "/api/channels/lounge/toggle-mute?is_muted=true", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reg.List("lounge")[0].IsMuted)

	w = doJSON(t, r, http.MethodPost, "/api/channels/lounge/toggle-mute?is_muted=notabool", "alice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/channels/lounge/toggle-mute?is_muted=true", "stranger", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestToggleVideo(t *testing.T) {
	r, reg := testRouter(t)
	_, err := reg.Join("lounge", "alice", false)
	require.NoError(t, err)
	_, err = reg.Join("hangout", "bob", false)
	require.NoError(t, err)

	// Audio-only channel rejects enabling video.
	w := doJSON(t, r, http.MethodPost, "/api/channels/lounge/toggle-video?is_video_enabled=true", "alice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/channels/hangout/toggle-video?is_video_enabled=true", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reg.List("hangout")[0].IsVideoEnabled)
}

func TestListChannels(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/channels", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	var channels []domain.Channel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &channels))
	require.Len(t, channels, 2)
	assert.Equal(t, "Hangout", channels[0].Name)
}

func TestCreateSessionMintsUser(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var user domain.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, user.ID)

	// A follow-up request carrying the session cookie resolves to that user.
	me := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	for _, c := range w.Result().Cookies() {
		me.AddCookie(c)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, me)
	require.Equal(t, http.StatusOK, w.Code)

	var got domain.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "alice", got.Username)
}

func TestCreateSessionRejectsBadUsername(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"username":""}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	long := strings.Repeat("x", domain.MaxUsernameLen+1)
	req = httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"username":"`+long+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnonymousRequestMintsCookieIdentity(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/channels/lounge/join", strings.NewReader(""))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	minted := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "uid" && c.Value != "" {
			minted = true
		}
	}
	assert.True(t, minted)
}
