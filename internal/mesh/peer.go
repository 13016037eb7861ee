package mesh

import (
	"time"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

type PeerState int

const (
	PeerStateNew PeerState = iota
	PeerStateNegotiating
	PeerStateConnected
	PeerStateFailed
	PeerStateClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerStateNew:
		return "new"
	case PeerStateNegotiating:
		return "negotiating"
	case PeerStateConnected:
		return "connected"
	case PeerStateFailed:
		return "failed"
	case PeerStateClosed:
		return "closed"
	}
	return "unknown"
}

type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelJoining
	ChannelActive
	ChannelLeaving
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelJoining:
		return "joining"
	case ChannelActive:
		return "active"
	case ChannelLeaving:
		return "leaving"
	}
	return "unknown"
}

// peerSession is one half of a mesh edge. Sessions are independent and keyed
// by remote id; closing one never needs to notify its mirror, the mirror
// observes closure through its own transport.
type peerSession struct {
	remote domain.UserID
	role   Role
	state  PeerState
	conn   core.MediaConn

	timeout *time.Timer
	// retried marks that this session already is the single renegotiation
	// attempt for its peer.
	retried bool
}

func (s *peerSession) stopTimeout() {
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
}

// PeerInfo is a read-only snapshot of one session for callers outside the
// event loop.
type PeerInfo struct {
	Remote domain.UserID
	Role   Role
	State  PeerState
}
