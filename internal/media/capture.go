// Package media owns local capture and speaking-activity detection.
package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	// register capture drivers
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

var (
	ErrMediaAccessDenied = errors.New("media access denied")
	ErrNoVideoCapture    = errors.New("call was acquired audio-only")
	ErrNotAcquired       = errors.New("media not acquired")
)

// LocalMedia is the one capture per call. Release stops the hardware exactly
// once regardless of how many paths reach it.
type LocalMedia struct {
	mu           sync.Mutex
	stream       mediadevices.MediaStream
	muted        bool
	videoEnabled bool
	hasVideo     bool
	releaseOnce  *sync.Once
}

func NewLocalMedia() *LocalMedia {
	return &LocalMedia{releaseOnce: &sync.Once{}}
}

// Acquire opens microphone (and camera when wantVideo) capture.
func (m *LocalMedia) Acquire(wantVideo bool) error {
	opusParams, err := opus.NewParams()
	if err != nil {
		return fmt.Errorf("opus params: %w", err)
	}
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
		mediadevices.WithVideoEncoders(&vpxParams),
	)

	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
		},
		Codec: selector,
	}
	if wantVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}

	m.mu.Lock()
	m.stream = stream
	m.hasVideo = wantVideo
	m.videoEnabled = wantVideo
	m.muted = false
	m.releaseOnce = &sync.Once{}
	m.mu.Unlock()

	log.Info().Str("module", "media").Bool("video", wantVideo).Int("tracks", len(stream.GetTracks())).Msg("capture acquired")
	return nil
}

// Tracks returns the captured tracks for attachment to a peer session.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	tracks := m.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

// AudioTrack exposes the captured audio for the activity monitor.
func (m *LocalMedia) AudioTrack() (*mediadevices.AudioTrack, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil, false
	}
	for _, t := range m.stream.GetAudioTracks() {
		if at, ok := t.(*mediadevices.AudioTrack); ok {
			return at, true
		}
	}
	return nil, false
}

func (m *LocalMedia) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *LocalMedia) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoEnabled
}

func (m *LocalMedia) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

// SetVideo flips the camera flag; rejected when the call was acquired
// without a camera.
func (m *LocalMedia) SetVideo(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return ErrNotAcquired
	}
	if enabled && !m.hasVideo {
		return ErrNoVideoCapture
	}
	m.videoEnabled = enabled
	return nil
}

// Release stops all capture hardware. Safe to call more than once; only the
// first call per Acquire does anything.
func (m *LocalMedia) Release() {
	m.mu.Lock()
	stream := m.stream
	once := m.releaseOnce
	m.mu.Unlock()
	if stream == nil {
		return
	}
	once.Do(func() {
		for _, t := range stream.GetTracks() {
			if err := t.Close(); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", t.ID()).Msg("close track")
			}
		}
		m.mu.Lock()
		m.stream = nil
		m.mu.Unlock()
		log.Info().Str("module", "media").Msg("capture released")
	})
}
