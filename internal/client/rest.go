package client

import (
	"context"
	"net/http"
	"strconv"

	"github.com/carlmjohnson/requests"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

// Roster talks to the coordinator's REST surface. It satisfies the mesh
// coordinator's RosterAPI.
type Roster struct {
	base  string
	token string
	http  *http.Client
}

func NewRoster(serverURL string, token string) *Roster {
	return &Roster{base: serverURL, token: token, http: &http.Client{}}
}

func (r *Roster) builder(path string) *requests.Builder {
	return requests.URL(r.base).
		Path(path).
		Bearer(r.token).
		Client(r.http)
}

func (r *Roster) Join(ctx context.Context, ch domain.ChannelID, wantsVideo bool) ([]core.RosterEntry, error) {
	var roster []core.RosterEntry
	err := r.builder("/api/channels/"+string(ch)+"/join").
		BodyJSON(map[string]bool{"wants_video": wantsVideo}).
		ToJSON(&roster).
		Fetch(ctx)
	if err != nil {
		return nil, mapStatus(err)
	}
	return roster, nil
}

func (r *Roster) Leave(ctx context.Context, ch domain.ChannelID) error {
	err := r.builder("/api/channels/"+string(ch)+"/leave").
		Post().
		Fetch(ctx)
	return mapStatus(err)
}

func (r *Roster) SetMuted(ctx context.Context, ch domain.ChannelID, muted bool) error {
	err := r.builder("/api/channels/"+string(ch)+"/toggle-mute").
		Param("is_muted", strconv.FormatBool(muted)).
		Post().
		Fetch(ctx)
	return mapStatus(err)
}

func (r *Roster) SetVideo(ctx context.Context, ch domain.ChannelID, enabled bool) error {
	err := r.builder("/api/channels/"+string(ch)+"/toggle-video").
		Param("is_video_enabled", strconv.FormatBool(enabled)).
		Post().
		Fetch(ctx)
	return mapStatus(err)
}

func (r *Roster) Channels(ctx context.Context) ([]domain.Channel, error) {
	var channels []domain.Channel
	err := r.builder("/api/channels").
		ToJSON(&channels).
		Fetch(ctx)
	if err != nil {
		return nil, mapStatus(err)
	}
	return channels, nil
}

// mapStatus turns HTTP statuses back into the flag errors the server mapped
// them from, so callers can errors.Is against core.
func mapStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case requests.HasStatusErr(err, http.StatusNotFound):
		return core.ErrUnknownChannel
	case requests.HasStatusErr(err, http.StatusConflict):
		return core.ErrNotPresent
	case requests.HasStatusErr(err, http.StatusBadRequest):
		return core.ErrVideoUnsupported
	default:
		return err
	}
}
