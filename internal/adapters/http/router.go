package http

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/adapters/signal"
	"github.com/cosmichat/voicemesh/internal/app"
	"github.com/cosmichat/voicemesh/internal/config"
)

// CurrentUserMiddleware resolves the caller's user id. A bearer token is
// trusted as the user id, then a logged-in session, then a cookie identity
// minted so browser clients work out of the box.
func CurrentUserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			uid = strings.TrimPrefix(auth, "Bearer ")
		}
		if uid == "" {
			if v, ok := sessions.Default(c).Get(sessionUserKey).(string); ok {
				uid = v
			}
		}
		if uid == "" {
			uid, _ = c.Cookie("uid")
		}
		if uid == "" {
			uid = uuid.NewString()
			c.SetCookie("uid", uid, 3600*24*7, "/", "", false, true)
		}
		c.Set("user_id", uid)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, reg *app.Registry, signalCtl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoicemeshSessions", store))
	r.Use(CurrentUserMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	h := &Handlers{Presence: reg}

	api := r.Group("/api")
	api.POST("/session", h.CreateSession)
	api.GET("/me", h.Me)
	api.GET("/channels", h.ListChannels)
	api.POST("/channels/:id/join", h.Join)
	api.POST("/channels/:id/leave", h.Leave)
	api.GET("/channels/:id/participants", h.Participants)
	api.POST("/channels/:id/toggle-mute", h.ToggleMute)
	api.POST("/channels/:id/toggle-video", h.ToggleVideo)

	r.GET("/ws/signaling/:user_id", signalCtl.HandleSignaling)

	return r
}
