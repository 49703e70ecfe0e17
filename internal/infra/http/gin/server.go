package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"rentchat/internal/infra/config"
	"rentchat/internal/infra/obs"
)

type Handlers struct {
	Chat           ChatHTTP
	AuthMiddleware gin.HandlerFunc
	// Realtime is the websocket gateway, mounted at /ws.
	Realtime http.Handler
	Metrics  http.Handler
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(corsConfig(cfg.WSAllowedOrigins)))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}
	if h.Realtime != nil {
		router.GET("/ws", gin.WrapH(h.Realtime))
	}

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.GET("/conversations", h.Chat.ListMyConversations)
		api.GET("/conversations/unread", h.Chat.UnreadTotal)
		api.POST("/conversations/:id/read", h.Chat.MarkConversationRead)
		api.GET("/listings/:id/conversation", h.Chat.ListingConversation)
		api.POST("/messages", h.Chat.SendMessage)
		api.POST("/messages/:id/read", h.Chat.MarkMessageRead)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = []string{"*"}
		return cfg
	}
	cfg.AllowOrigins = append([]string(nil), origins...)
	cfg.AllowCredentials = true
	return cfg
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
