// Package signal exposes the relay over per-user WebSocket control
// connections. It never interprets envelope payloads.
package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const sendQueueSize = 32

type Controller struct {
	Relay      core.RelayService
	Limiter    *EnvelopeRateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(relay core.RelayService, limiter *EnvelopeRateLimiter, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Relay:      relay,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignaling upgrades /ws/signaling/:user_id and binds the connection
// into the relay table. Authentication of user_id is delegated to the
// session system; the relay trusts the connection once accepted.
func (ctl *Controller) HandleSignaling(c *gin.Context) {
	uid := domain.UserID(c.Param("user_id"))
	if uid == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	log.Info().Str("module", "signal").Str("user", string(uid)).Msg("new control connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendQueueSize),
	}
	ctl.Relay.Bind(uid, conn)

	go ctl.writePump(conn)
	go ctl.readPump(uid, conn)
}
