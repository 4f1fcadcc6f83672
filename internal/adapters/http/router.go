package http

import (
	"context"
	"net/http"

	"github.com/dkeye/collab/internal/adapters/signal"
	"github.com/dkeye/collab/internal/app/orch"
	"github.com/dkeye/collab/internal/config"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionNameField = "name"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SessionNameMiddleware exposes the display name remembered in the cookie
// session to the websocket handler.
func SessionNameMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if name, ok := sessions.Default(c).Get(sessionNameField).(string); ok && name != "" {
			c.Set(signal.SessionNameKey, name)
		}
		c.Next()
	}
}

type IdentityRequest struct {
	Name string `json:"name"`
}

type IdentityResponse struct {
	Name string `json:"name"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CollabSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"rooms":    o.Rooms.Count(),
			"sessions": o.Registry.Count(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.Config{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})
	api.GET("/rooms/:id", func(c *gin.Context) {
		id, err := domain.ParseRoomID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
			return
		}
		if !o.Rooms.Exists(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "members": o.Rooms.Snapshot(id)})
	})
	api.POST("/identity", func(c *gin.Context) {
		handleIdentity(c, cfg.MaxNameLen)
	})
	api.GET("/ws", SessionNameMiddleware(), func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}

// handleIdentity stands in for the external identity provider: it only
// remembers a display name in the cookie session.
func handleIdentity(c *gin.Context, maxLen int) {
	var req IdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	name, err := domain.NormalizeUsername(req.Name, maxLen)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_name"})
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionNameField, name)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, IdentityResponse{Name: name})
}
