package mesh

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

func (c *Coordinator) handleEnvelope(env *core.Envelope) {
	if c.state != ChannelActive {
		log.Debug().Str("module", "mesh").Str("kind", string(env.Kind)).Str("state", c.state.String()).Msg("envelope outside active state, dropping")
		return
	}
	switch env.Kind {
	case core.KindOffer:
		c.handleOffer(env)
	case core.KindAnswer:
		c.handleAnswer(env)
	case core.KindCandidate:
		c.handleCandidate(env)
	}
}

// handleOffer creates (or, after glare, replaces) a responder session for the
// sender and answers.
func (c *Coordinator) handleOffer(env *core.Envelope) {
	from := env.From
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(env.Offer, &offer); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("from", string(from)).Msg("bad offer payload")
		return
	}

	if sess, ok := c.sessions[from]; ok {
		if sess.role == RoleInitiator && sess.state == PeerStateNegotiating && c.opts.Self < from {
			// Glare, and we win the tie-break: the peer must answer our
			// offer, its own is discarded.
			log.Info().Str("module", "mesh").Str("peer", string(from)).Msg("glare: keeping initiator role")
			return
		}
		// Either we lost the tie-break or the peer is restarting a failed
		// negotiation. Our old session is superseded.
		log.Info().Str("module", "mesh").Str("peer", string(from)).Str("role", string(sess.role)).Msg("replacing session with responder")
		c.discardSession(sess)
	}

	conn, err := c.dial(from)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("dial for responder session")
		return
	}
	sess := &peerSession{remote: from, role: RoleResponder, state: PeerStateNew, conn: conn}
	c.sessions[from] = sess
	c.wireConn(sess)
	c.applyMediaFlags(sess)

	answer, err := conn.ApplyOfferCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("answer offer")
		c.discardSession(sess)
		return
	}
	c.sendEnvelope(&core.Envelope{Kind: core.KindAnswer, To: from, Answer: mustJSON(answer)})
	sess.state = PeerStateNegotiating
	c.armTimeout(sess)
	c.replayPending(sess)
}

func (c *Coordinator) handleAnswer(env *core.Envelope) {
	from := env.From
	sess, ok := c.sessions[from]
	if !ok || sess.role != RoleInitiator || sess.state != PeerStateNegotiating {
		log.Warn().Str("module", "mesh").Str("from", string(from)).Msg("unexpected answer, dropping")
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(env.Answer, &answer); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("from", string(from)).Msg("bad answer payload")
		return
	}
	if err := sess.conn.ApplyAnswer(answer); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("from", string(from)).Msg("apply answer")
	}
}

// handleCandidate applies the candidate, or buffers it when it outran its
// offer; the relay guarantees no ordering across envelope kinds.
func (c *Coordinator) handleCandidate(env *core.Envelope) {
	from := env.From
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Candidate, &cand); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("from", string(from)).Msg("bad candidate payload")
		return
	}
	sess, ok := c.sessions[from]
	if !ok {
		buf, _ := c.pending.Get(from)
		c.pending.Add(from, append(buf, cand))
		log.Debug().Str("module", "mesh").Str("from", string(from)).Msg("buffered early candidate")
		return
	}
	if err := sess.conn.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("from", string(from)).Msg("add candidate")
	}
}

// handlePresence reconciles the session set against the roster. A leave is
// authoritative; a join is not acted on, the newcomer initiates.
func (c *Coordinator) handlePresence(ev core.PresenceEvent) {
	if ev.Channel != c.opts.Channel || c.state != ChannelActive {
		return
	}
	if ev.Kind == core.EventLeft {
		if sess, ok := c.sessions[ev.Presence.UserID]; ok {
			log.Info().Str("module", "mesh").Str("peer", string(ev.Presence.UserID)).Msg("peer left channel")
			c.discardSession(sess)
		}
	}
	// Self-heal: drop sessions for users the roster no longer lists.
	listed := make(map[domain.UserID]bool, len(ev.Roster))
	for _, entry := range ev.Roster {
		listed[entry.UserID] = true
	}
	for remote, sess := range c.sessions {
		if !listed[remote] {
			log.Info().Str("module", "mesh").Str("peer", string(remote)).Msg("peer missing from roster, discarding session")
			c.discardSession(sess)
		}
	}
}

func (c *Coordinator) handlePeerConnected(ev peerConnectedEvent) {
	sess, ok := c.sessions[ev.remote]
	if !ok || sess.conn != ev.conn {
		return
	}
	sess.stopTimeout()
	sess.state = PeerStateConnected
	log.Info().Str("module", "mesh").Str("peer", string(ev.remote)).Str("role", string(sess.role)).Msg("peer connected")
}

// handlePeerClosed discards exactly the one session whose transport went
// away; every other session is untouched.
func (c *Coordinator) handlePeerClosed(ev peerClosedEvent) {
	sess, ok := c.sessions[ev.remote]
	if !ok || sess.conn != ev.conn {
		return // stale close from a superseded connection
	}
	log.Info().Str("module", "mesh").Str("peer", string(ev.remote)).Msg("peer transport closed")
	c.discardSession(sess)
}

func (c *Coordinator) handleNegotiationTimeout(ev negotiationTimeoutEvent) {
	sess, ok := c.sessions[ev.remote]
	if !ok || sess.conn != ev.conn || sess.state == PeerStateConnected {
		return
	}
	sess.state = PeerStateFailed
	retried := sess.retried
	c.discardSession(sess)

	if !retried {
		log.Warn().Str("module", "mesh").Str("peer", string(ev.remote)).Msg("negotiation timed out, restarting once")
		c.startInitiator(ev.remote, true)
		return
	}
	log.Warn().Str("module", "mesh").Str("peer", string(ev.remote)).Msg("negotiation failed after retry")
	if c.opts.OnPeerFailed != nil {
		c.opts.OnPeerFailed(ev.remote, ErrNegotiationTimeout)
	}
}

func (c *Coordinator) handleSetMuted(muted bool) {
	c.media.SetMuted(muted)
	for _, sess := range c.sessions {
		if err := sess.conn.SetAudioEnabled(!muted); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(sess.remote)).Msg("flip audio track")
		}
	}
	go c.updateRegistry(func(ctx context.Context) error { return c.api.SetMuted(ctx, c.opts.Channel, muted) })
}

func (c *Coordinator) handleSetVideo(enabled bool) error {
	if err := c.media.SetVideo(enabled); err != nil {
		return err
	}
	for _, sess := range c.sessions {
		if err := sess.conn.SetVideoEnabled(enabled); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(sess.remote)).Msg("flip video track")
		}
	}
	go c.updateRegistry(func(ctx context.Context) error { return c.api.SetVideo(ctx, c.opts.Channel, enabled) })
	return nil
}

// ---- session plumbing ----

// startInitiator dials the peer, sends an offer, and arms the negotiation
// timeout. retry marks this as the single renegotiation attempt.
func (c *Coordinator) startInitiator(remote domain.UserID, retry bool) {
	conn, err := c.dial(remote)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(remote)).Msg("dial for initiator session")
		if c.opts.OnPeerFailed != nil {
			c.opts.OnPeerFailed(remote, err)
		}
		return
	}
	sess := &peerSession{remote: remote, role: RoleInitiator, state: PeerStateNew, conn: conn, retried: retry}
	c.sessions[remote] = sess
	c.wireConn(sess)
	c.applyMediaFlags(sess)

	offer, err := conn.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(remote)).Msg("create offer")
		c.discardSession(sess)
		return
	}
	c.sendEnvelope(&core.Envelope{Kind: core.KindOffer, To: remote, Offer: mustJSON(offer)})
	sess.state = PeerStateNegotiating
	c.armTimeout(sess)
	c.replayPending(sess)
}

// wireConn routes connection callbacks back into the inbox so all state
// mutation stays on the Run goroutine.
func (c *Coordinator) wireConn(sess *peerSession) {
	remote, conn := sess.remote, sess.conn
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.sendEnvelope(&core.Envelope{Kind: core.KindCandidate, To: remote, Candidate: mustJSON(ci)})
	})
	conn.OnConnected(func() {
		c.post(peerConnectedEvent{remote: remote, conn: conn})
	})
	conn.OnClosed(func() {
		c.post(peerClosedEvent{remote: remote, conn: conn})
	})
	if c.opts.OnRemoteTrack != nil {
		conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			c.opts.OnRemoteTrack(remote, track, receiver)
		})
	}
}

// applyMediaFlags mirrors the current mute/camera flags onto a fresh session.
func (c *Coordinator) applyMediaFlags(sess *peerSession) {
	if c.media.Muted() {
		if err := sess.conn.SetAudioEnabled(false); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(sess.remote)).Msg("apply mute flag")
		}
	}
	if !c.media.VideoEnabled() {
		if err := sess.conn.SetVideoEnabled(false); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(sess.remote)).Msg("apply video flag")
		}
	}
}

func (c *Coordinator) discardSession(sess *peerSession) {
	sess.stopTimeout()
	if sess.state != PeerStateFailed {
		sess.state = PeerStateClosed
	}
	delete(c.sessions, sess.remote)
	// Close fires OnClosed synchronously on the calling goroutine. Detach it
	// first so the event loop never posts into its own inbox; the session is
	// already gone from the map, so the event would be stale anyway.
	sess.conn.OnClosed(nil)
	sess.conn.Close()
}

func (c *Coordinator) armTimeout(sess *peerSession) {
	remote, conn := sess.remote, sess.conn
	sess.timeout = time.AfterFunc(c.opts.NegotiationTimeout, func() {
		c.post(negotiationTimeoutEvent{remote: remote, conn: conn})
	})
}

func (c *Coordinator) replayPending(sess *peerSession) {
	buf, ok := c.pending.Get(sess.remote)
	if !ok {
		return
	}
	c.pending.Remove(sess.remote)
	for _, cand := range buf {
		if err := sess.conn.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(sess.remote)).Msg("replay candidate")
		}
	}
	log.Debug().Str("module", "mesh").Str("peer", string(sess.remote)).Int("count", len(buf)).Msg("replayed buffered candidates")
}

func (c *Coordinator) sendEnvelope(env *core.Envelope) {
	if err := c.signals.SendEnvelope(env); err != nil {
		// Best-effort transport; negotiation recovers through the timeout
		// and restart path.
		log.Warn().Err(err).Str("module", "mesh").Str("to", string(env.To)).Str("kind", string(env.Kind)).Msg("send envelope")
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Msg("marshal payload")
		return nil
	}
	return b
}
