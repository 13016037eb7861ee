package signal

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmichat/voicemesh/internal/app"
	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

func startSignalServer(t *testing.T, relay *app.Relay, limiter *EnvelopeRateLimiter) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctl := NewController(relay, limiter, 32768, 54*time.Second)
	r := gin.New()
	r.GET("/ws/signaling/:user_id", ctl.HandleSignaling)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signaling/" + uid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *core.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := core.DecodeEnvelope(data)
	require.NoError(t, err)
	return env
}

func TestEnvelopeRelayedBetweenConnections(t *testing.T) {
	relay := app.NewRelay()
	srv := startSignalServer(t, relay, nil)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	require.Eventually(t, func() bool {
		return relay.Connected("alice") && relay.Connected("bob")
	}, time.Second, 10*time.Millisecond)

	offer := `{"type":"offer","target":"bob","from":"spoofed","offer":{"type":"offer","sdp":"v=0"}}`
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(offer)))

	env := readEnvelope(t, bob)
	assert.Equal(t, core.KindOffer, env.Kind)
	assert.Equal(t, domain.UserID("alice"), env.From)
	assert.Equal(t, domain.UserID("bob"), env.To)
}

func TestPingFrameAnsweredWithPong(t *testing.T) {
	relay := app.NewRelay()
	srv := startSignalServer(t, relay, nil)

	alice := dial(t, srv, "alice")
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := alice.ReadMessage()
	require.NoError(t, err)

	var frame map[string]string
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "pong", frame["type"])
}

func TestDisconnectUnbindsFromRelay(t *testing.T) {
	relay := app.NewRelay()
	srv := startSignalServer(t, relay, nil)

	alice := dial(t, srv, "alice")
	require.Eventually(t, func() bool { return relay.Connected("alice") }, time.Second, 10*time.Millisecond)

	alice.Close()
	require.Eventually(t, func() bool { return !relay.Connected("alice") }, time.Second, 10*time.Millisecond)

	_, offline := relay.OfflineSince("alice")
	assert.True(t, offline)
}

func TestRateLimitedEnvelopesAreDropped(t *testing.T) {
	relay := app.NewRelay()
	srv := startSignalServer(t, relay, NewEnvelopeRateLimiter(2, time.Minute))

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	require.Eventually(t, func() bool {
		return relay.Connected("alice") && relay.Connected("bob")
	}, time.Second, 10*time.Millisecond)

	offer := `{"type":"offer","target":"bob","offer":{"type":"offer","sdp":"v=0"}}`
	for i := 0; i < 5; i++ {
		require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(offer)))
	}

	got := 0
	for {
		if err := bob.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			break
		}
		if _, _, err := bob.ReadMessage(); err != nil {
			break
		}
		got++
	}
	assert.Equal(t, 2, got)
}

func TestNotifierFansOutToRosterAndLeaver(t *testing.T) {
	relay := app.NewRelay()
	notifier := &Notifier{Relay: relay}

	frames := map[domain.UserID][]core.Frame{}
	for _, uid := range []domain.UserID{"alice", "bob", "carol"} {
		uid := uid
		relay.Bind(uid, connFunc(func(f core.Frame) error {
			frames[uid] = append(frames[uid], f)
			return nil
		}))
	}

	notifier.PresenceChanged(core.PresenceEvent{
		Kind:    core.EventLeft,
		Channel: "lounge",
		Presence: domain.Presence{
			ChannelID: "lounge",
			UserID:    "carol",
		},
		Roster: []core.RosterEntry{{UserID: "alice"}, {UserID: "bob"}},
	})

	// Remaining members and the leaver all hear about it.
	assert.Len(t, frames["alice"], 1)
	assert.Len(t, frames["bob"], 1)
	assert.Len(t, frames["carol"], 1)
}

type connFunc func(core.Frame) error

func (f connFunc) TrySend(frame core.Frame) error { return f(frame) }
func (f connFunc) Close()                         {}
