// Package mesh maintains the full-mesh set of peer media connections for one
// live channel. All session state is confined to the Run goroutine; inputs
// arrive through a single inbox.
package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

var ErrNegotiationTimeout = errors.New("peer negotiation timed out")

const (
	inboxSize      = 64
	maxPendingPeer = 128
)

// RosterAPI is the registry's REST surface as the client consumes it.
type RosterAPI interface {
	Join(ctx context.Context, ch domain.ChannelID, wantsVideo bool) ([]core.RosterEntry, error)
	Leave(ctx context.Context, ch domain.ChannelID) error
	SetMuted(ctx context.Context, ch domain.ChannelID, muted bool) error
	SetVideo(ctx context.Context, ch domain.ChannelID, enabled bool) error
}

// EnvelopeSender pushes envelopes onto the control connection.
type EnvelopeSender interface {
	SendEnvelope(env *core.Envelope) error
}

// MediaSource is the capture layer as the coordinator drives it.
type MediaSource interface {
	Acquire(wantVideo bool) error
	Release()
	Muted() bool
	VideoEnabled() bool
	SetMuted(muted bool)
	SetVideo(enabled bool) error
}

type Options struct {
	Self               domain.UserID
	Channel            domain.ChannelID
	WantVideo          bool
	NegotiationTimeout time.Duration
	CandidateTTL       time.Duration

	// OnPeerFailed reports a per-peer, non-fatal negotiation failure after
	// the single renegotiation attempt was also lost.
	OnPeerFailed func(remote domain.UserID, err error)
	// OnRemoteTrack hands arriving remote media to the presentation layer.
	OnRemoteTrack func(remote domain.UserID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	// OnStateChange observes channel-level transitions.
	OnStateChange func(state ChannelState)
}

type Coordinator struct {
	opts    Options
	api     RosterAPI
	signals EnvelopeSender
	dial    core.MediaDialer
	media   MediaSource

	inbox    chan event
	done     chan struct{}
	sessions map[domain.UserID]*peerSession
	pending  *expirable.LRU[domain.UserID, []webrtc.ICECandidateInit]
	state    ChannelState
}

// inbox events

type envelopeEvent struct{ env *core.Envelope }

type presenceEvent struct{ ev core.PresenceEvent }

type peerConnectedEvent struct {
	remote domain.UserID
	conn   core.MediaConn
}

type peerClosedEvent struct {
	remote domain.UserID
	conn   core.MediaConn
}

type negotiationTimeoutEvent struct {
	remote domain.UserID
	conn   core.MediaConn
}

type setMutedCmd struct{ muted bool }

type setVideoCmd struct {
	enabled bool
	reply   chan error
}

type leaveCmd struct{}

type snapshotReq struct{ reply chan []PeerInfo }

func New(opts Options, api RosterAPI, signals EnvelopeSender, dial core.MediaDialer, media MediaSource) *Coordinator {
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = 20 * time.Second
	}
	if opts.CandidateTTL <= 0 {
		opts.CandidateTTL = 30 * time.Second
	}
	return &Coordinator{
		opts:     opts,
		api:      api,
		signals:  signals,
		dial:     dial,
		media:    media,
		inbox:    make(chan event, inboxSize),
		done:     make(chan struct{}),
		sessions: make(map[domain.UserID]*peerSession),
		pending:  expirable.NewLRU[domain.UserID, []webrtc.ICECandidateInit](maxPendingPeer, nil, opts.CandidateTTL),
		state:    ChannelIdle,
	}
}

type event any

// Run joins the channel and processes mesh events until ctx is cancelled or
// Leave is called. It always leaves the registry and releases media on exit.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	c.setState(ChannelJoining)
	if err := c.media.Acquire(c.opts.WantVideo); err != nil {
		c.setState(ChannelIdle)
		return fmt.Errorf("acquire media: %w", err)
	}

	roster, err := c.api.Join(ctx, c.opts.Channel, c.opts.WantVideo)
	if err != nil {
		c.media.Release()
		c.setState(ChannelIdle)
		return fmt.Errorf("join channel: %w", err)
	}

	for _, entry := range roster {
		if entry.UserID == c.opts.Self {
			continue
		}
		c.startInitiator(entry.UserID, false)
	}
	c.setState(ChannelActive)
	log.Info().Str("module", "mesh").Str("channel", string(c.opts.Channel)).Int("peers", len(c.sessions)).Msg("channel active")

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case ev := <-c.inbox:
			if _, ok := ev.(leaveCmd); ok {
				c.shutdown()
				return nil
			}
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev := ev.(type) {
	case envelopeEvent:
		c.handleEnvelope(ev.env)
	case presenceEvent:
		c.handlePresence(ev.ev)
	case peerConnectedEvent:
		c.handlePeerConnected(ev)
	case peerClosedEvent:
		c.handlePeerClosed(ev)
	case negotiationTimeoutEvent:
		c.handleNegotiationTimeout(ev)
	case setMutedCmd:
		c.handleSetMuted(ev.muted)
	case setVideoCmd:
		ev.reply <- c.handleSetVideo(ev.enabled)
	case snapshotReq:
		ev.reply <- c.snapshot()
	}
}

// updateRegistry runs a registry call off the event loop; toggles must not
// block envelope handling on a round-trip.
func (c *Coordinator) updateRegistry(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("registry update failed")
	}
}

func (c *Coordinator) shutdown() {
	c.setState(ChannelLeaving)
	for _, sess := range c.sessions {
		c.discardSession(sess)
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.api.Leave(leaveCtx, c.opts.Channel); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("registry leave failed")
	}

	c.media.Release()
	c.setState(ChannelIdle)
	log.Info().Str("module", "mesh").Str("channel", string(c.opts.Channel)).Msg("left channel")
}

func (c *Coordinator) setState(s ChannelState) {
	c.state = s
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Coordinator) snapshot() []PeerInfo {
	out := make([]PeerInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, PeerInfo{Remote: s.remote, Role: s.role, State: s.state})
	}
	return out
}

// ---- public surface (safe from any goroutine) ----

// HandleFrame feeds one raw control-connection frame into the event loop.
func (c *Coordinator) HandleFrame(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		log.Error().Err(err).Str("module", "mesh").Msg("bad frame")
		return
	}
	switch core.EnvelopeKind(head.Type) {
	case core.KindOffer, core.KindAnswer, core.KindCandidate:
		env, err := core.DecodeEnvelope(data)
		if err != nil {
			log.Error().Err(err).Str("module", "mesh").Msg("bad envelope")
			return
		}
		c.post(envelopeEvent{env: env})
	default:
		if head.Type == "presence" {
			var frame struct {
				core.PresenceEvent
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				log.Error().Err(err).Str("module", "mesh").Msg("bad presence frame")
				return
			}
			c.post(presenceEvent{ev: frame.PresenceEvent})
		}
	}
}

// SetMuted flips the local mute flag across all sessions and the registry.
func (c *Coordinator) SetMuted(muted bool) {
	c.post(setMutedCmd{muted: muted})
}

// SetVideo flips the camera; fails on audio-only acquisitions.
func (c *Coordinator) SetVideo(enabled bool) error {
	reply := make(chan error, 1)
	if !c.post(setVideoCmd{enabled: enabled, reply: reply}) {
		return errors.New("coordinator stopped")
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return errors.New("coordinator stopped")
	}
}

// Leave tears the channel session down and stops Run.
func (c *Coordinator) Leave() {
	c.post(leaveCmd{})
	<-c.done
}

// Snapshot reports the current peer sessions.
func (c *Coordinator) Snapshot() []PeerInfo {
	reply := make(chan []PeerInfo, 1)
	if !c.post(snapshotReq{reply: reply}) {
		return nil
	}
	select {
	case out := <-reply:
		return out
	case <-c.done:
		return nil
	}
}

func (c *Coordinator) post(ev event) bool {
	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}
