package signal

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(c *wsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(uid domain.UserID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(uid)).Msg("control connection closing")
		ctl.Relay.Unbind(uid, c)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(uid)
		}
		c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("user", string(uid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleFrame(uid, c, data)
	}
}

func (ctl *Controller) handleFrame(uid domain.UserID, c *wsSignalConn, data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(uid)).Msg("bad json frame")
		return
	}

	switch core.EnvelopeKind(head.Type) {
	case core.KindOffer, core.KindAnswer, core.KindCandidate:
		ctl.forward(uid, data)
	default:
		switch head.Type {
		case "ping":
			ctl.sendJSON(c, map[string]string{"type": "pong"})
		default:
			log.Warn().Str("module", "signal").Str("type", head.Type).Msg("unknown frame type")
		}
	}
}

// forward relays one envelope to its target. The client-supplied from field
// is discarded; the relay injects the authenticated sender.
func (ctl *Controller) forward(uid domain.UserID, data []byte) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(uid) {
		log.Warn().Str("module", "signal").Str("user", string(uid)).Msg("envelope rate limit exceeded, dropping")
		return
	}
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(uid)).Msg("bad envelope")
		return
	}
	ctl.Relay.Forward(uid, env)
}

func (ctl *Controller) sendJSON(c *wsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
