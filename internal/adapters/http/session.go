package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/domain"
)

const (
	sessionUserKey = "user_id"
	sessionNameKey = "username"
)

// CreateSession mints an identity for the given username and stores it in
// the cookie session. Subsequent requests resolve it without a bearer token.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	user, err := domain.NewUser(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := sessions.Default(c)
	sess.Set(sessionUserKey, string(user.ID))
	sess.Set(sessionNameKey, user.Username)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Str("username", user.Username).Msg("session created")
	c.JSON(http.StatusOK, user)
}

// Me reports the identity the middleware resolved for this request.
func (h *Handlers) Me(c *gin.Context) {
	user := domain.User{ID: domain.UserID(c.GetString("user_id"))}
	if name, ok := sessions.Default(c).Get(sessionNameKey).(string); ok {
		user.Username = name
	}
	c.JSON(http.StatusOK, user)
}
