package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Tabletop/internal/adapters/signal"
	"github.com/dkeye/Tabletop/internal/app"
	"github.com/dkeye/Tabletop/internal/config"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a stable per-browser id in the session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *app.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("TabletopSessions", store))
	r.Use(ClientTokenMiddleware())

	limiter := signal.NewJoinLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval)
	go limiter.Run(ctx)

	ctrl := signal.NewSignalWSController(
		hub,
		limiter,
		signal.Options{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			SendBuffer: cfg.SendBuffer,
		},
	)

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": hub.PublicRooms()})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		sid := c.Query("participant")
		if sid == "" {
			sid = c.GetString(clientTokenKey)
		}
		log.Info().Str("module", "adapters.http").Str("sid", sid).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, core.SessionID(sid))
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
