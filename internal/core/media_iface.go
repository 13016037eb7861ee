package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/cosmichat/voicemesh/internal/domain"
)

// MediaConn is one peer media connection as the mesh coordinator sees it.
// Local tracks are attached at construction by the dialer.
type MediaConn interface {
	// CreateOffer generates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOfferCreateAnswer sets the remote offer, generates an answer and
	// sets it as the local description.
	ApplyOfferCreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	// SetAudioEnabled and SetVideoEnabled flip the sent track on or off
	// without renegotiation.
	SetAudioEnabled(bool) error
	SetVideoEnabled(bool) error

	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnConnected fires once the underlying transport establishes.
	OnConnected(func())
	// OnClosed fires when the transport fails, disconnects or is closed.
	OnClosed(func())
	// OnTrack fires when a remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))

	Close()
}

// MediaDialer builds a MediaConn toward one remote peer with the local
// tracks already attached.
type MediaDialer func(remote domain.UserID) (MediaConn, error)
