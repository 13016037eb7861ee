package core

import (
	"time"

	"github.com/cosmichat/voicemesh/internal/domain"
)

// RelayService is the process-wide addressed forwarder for signaling
// envelopes. Delivery is at-most-once: a missing target drops the envelope.
type RelayService interface {
	Bind(user domain.UserID, conn SignalConnection)
	// Unbind detaches conn only if it is still the bound connection for user,
	// so a reconnect is not torn down by the old connection's cleanup.
	Unbind(user domain.UserID, conn SignalConnection)
	// Forward rewrites env.From to the authenticated sender and delivers it
	// to env.To if connected. Reports whether anything was sent.
	Forward(from domain.UserID, env *Envelope) bool
	// Send delivers a raw frame to a single user if connected.
	Send(to domain.UserID, data Frame) bool
	Connected(user domain.UserID) bool
	// OfflineSince reports when the user's last control connection went away.
	// ok is false while the user is connected. The zero time means the relay
	// has never seen this user.
	OfflineSince(user domain.UserID) (t time.Time, ok bool)
}
