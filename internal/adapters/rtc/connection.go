// Package rtc wraps pion peer connections for the mesh coordinator. One
// PeerConn per remote user; local tracks are attached at construction.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

// audioLevelURI negotiates the RTP audio-level header extension so remote
// speaking activity is readable without decoding audio.
const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

func Config(iceServers []string) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m)), nil
}

type PeerConn struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID

	mu          sync.Mutex
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	audioTrack  webrtc.TrackLocal
	videoTrack  webrtc.TrackLocal
	closed      bool

	onICE       func(webrtc.ICECandidateInit)
	onConnected func()
	onClosed    func()
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func NewPeerConn(cfg webrtc.Configuration, remote domain.UserID, tracks []webrtc.TrackLocal) (*PeerConn, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &PeerConn{pc: pc, remote: remote}

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			c.videoSender, c.videoTrack = sender, track
		} else {
			c.audioSender, c.audioTrack = sender, track
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).Str("state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.mu.Lock()
			fn := c.onConnected
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.fireClosed()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("remote", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track, receiver)
		}
	})

	return c, nil
}

func (c *PeerConn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (c *PeerConn) ApplyOfferCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (c *PeerConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *PeerConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// SetAudioEnabled flips the sent audio track via ReplaceTrack, which never
// renegotiates.
func (c *PeerConn) SetAudioEnabled(enabled bool) error {
	c.mu.Lock()
	sender, track := c.audioSender, c.audioTrack
	c.mu.Unlock()
	return replaceTrack(sender, track, enabled)
}

func (c *PeerConn) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	sender, track := c.videoSender, c.videoTrack
	c.mu.Unlock()
	return replaceTrack(sender, track, enabled)
}

func replaceTrack(sender *webrtc.RTPSender, track webrtc.TrackLocal, enabled bool) error {
	if sender == nil {
		return nil
	}
	if enabled {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

func (c *PeerConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *PeerConn) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

func (c *PeerConn) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *PeerConn) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *PeerConn) fireClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *PeerConn) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close error")
	}
	c.fireClosed()
}

// Dialer builds the MediaDialer the coordinator uses; tracks are fetched at
// dial time so a reacquired capture is picked up by later sessions.
func Dialer(iceServers []string, tracks func() []webrtc.TrackLocal) core.MediaDialer {
	cfg := Config(iceServers)
	return func(remote domain.UserID) (core.MediaConn, error) {
		return NewPeerConn(cfg, remote, tracks())
	}
}
