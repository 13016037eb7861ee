package media

import (
	"context"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/domain"
)

// audioLevelExtensionID matches the registration order in the rtc package's
// media engine; both ends of a mesh run this stack, so the negotiated id is
// stable.
const audioLevelExtensionID = 1

// silenceDBov is the -dBov value above which a packet counts as silent
// (RFC 6464: 0 is loudest, 127 is silence).
const silenceDBov = 50

// RemoteActivity tracks per-peer speaking flags from received audio RTP.
// Presentation-only, like the local detector.
type RemoteActivity struct {
	mu       sync.RWMutex
	speaking map[domain.UserID]bool
	hold     time.Duration

	OnChange func(remote domain.UserID, speaking bool)
}

func NewRemoteActivity(hold time.Duration) *RemoteActivity {
	return &RemoteActivity{
		speaking: make(map[domain.UserID]bool),
		hold:     hold,
	}
}

func (ra *RemoteActivity) Speaking(remote domain.UserID) bool {
	ra.mu.RLock()
	defer ra.mu.RUnlock()
	return ra.speaking[remote]
}

func (ra *RemoteActivity) set(remote domain.UserID, speaking bool) {
	ra.mu.Lock()
	prev := ra.speaking[remote]
	ra.speaking[remote] = speaking
	ra.mu.Unlock()
	if prev == speaking {
		return
	}
	if ra.OnChange != nil {
		ra.OnChange(remote, speaking)
	}
}

// Forget drops state for a departed peer.
func (ra *RemoteActivity) Forget(remote domain.UserID) {
	ra.mu.Lock()
	delete(ra.speaking, remote)
	ra.mu.Unlock()
}

// Watch drains an incoming audio track and derives the peer's speaking flag
// from the RTP audio-level header extension. Blocks until the track ends or
// ctx is cancelled; run it on its own goroutine per track.
func (ra *RemoteActivity) Watch(ctx context.Context, remote domain.UserID, track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	defer ra.set(remote, false)

	var lastVoice time.Time
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "media").Str("remote", string(remote)).Msg("remote audio track ended")
			return
		}

		now := time.Now()
		if voicePacket(pkt) {
			lastVoice = now
		}
		ra.set(remote, !lastVoice.IsZero() && now.Sub(lastVoice) <= ra.hold)
	}
}

func voicePacket(pkt *rtp.Packet) bool {
	raw := pkt.GetExtension(audioLevelExtensionID)
	if raw == nil {
		// Extension not negotiated; treat any audio payload as voice.
		return len(pkt.Payload) > 0
	}
	var level rtp.AudioLevelExtension
	if err := level.Unmarshal(raw); err != nil {
		return false
	}
	return level.Voice || level.Level < silenceDBov
}
