package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
)

// Notifier fans presence mutations out to the channel's connected members
// over their control connections. Best-effort only; the mesh does not depend
// on these frames for correctness.
type Notifier struct {
	Relay core.RelayService
}

type presenceFrame struct {
	Type string `json:"type"`
	core.PresenceEvent
}

func (n *Notifier) PresenceChanged(ev core.PresenceEvent) {
	b, err := json.Marshal(presenceFrame{Type: "presence", PresenceEvent: ev})
	if err != nil {
		log.Error().Err(err).Str("module", "signal.events").Msg("marshal presence frame")
		return
	}
	for _, member := range ev.Roster {
		n.Relay.Send(member.UserID, b)
	}
	// The subject of a leave is no longer in the roster but may still be
	// connected (explicit leave without closing the socket).
	if ev.Kind == core.EventLeft {
		n.Relay.Send(ev.Presence.UserID, b)
	}
}
