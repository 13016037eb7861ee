package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/app"
	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

type Handlers struct {
	Presence *app.Registry
}

type joinRequest struct {
	WantsVideo bool `json:"wants_video"`
}

func requestIdentity(c *gin.Context) (domain.ChannelID, domain.UserID) {
	return domain.ChannelID(c.Param("id")), domain.UserID(c.GetString("user_id"))
}

func (h *Handlers) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, h.Presence.Channels())
}

// Join puts the caller into the channel roster and returns the full roster,
// caller included, so the peer set is computable without a second read.
func (h *Handlers) Join(c *gin.Context) {
	ch, user := requestIdentity(c)

	var req joinRequest
	// Body is optional; an empty body means audio-only.
	_ = c.ShouldBindJSON(&req)

	roster, err := h.Presence.Join(ch, user, req.WantsVideo)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, core.ErrUnknownChannel) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, roster)
}

func (h *Handlers) Leave(c *gin.Context) {
	ch, user := requestIdentity(c)
	h.Presence.Leave(ch, user)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Participants(c *gin.Context) {
	ch := domain.ChannelID(c.Param("id"))
	roster := h.Presence.List(ch)
	if roster == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": core.ErrUnknownChannel.Error()})
		return
	}
	c.JSON(http.StatusOK, roster)
}

func (h *Handlers) ToggleMute(c *gin.Context) {
	ch, user := requestIdentity(c)
	muted, err := strconv.ParseBool(c.Query("is_muted"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_muted must be a bool"})
		return
	}
	if err := h.Presence.SetMuted(ch, user, muted); err != nil {
		h.flagError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) ToggleVideo(c *gin.Context) {
	ch, user := requestIdentity(c)
	enabled, err := strconv.ParseBool(c.Query("is_video_enabled"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_video_enabled must be a bool"})
		return
	}
	if err := h.Presence.SetVideo(ch, user, enabled); err != nil {
		h.flagError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) flagError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotPresent):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrUnknownChannel):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrVideoUnsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("toggle failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
