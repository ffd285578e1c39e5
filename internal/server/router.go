package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ferrebot/ferrebot-backend/internal/handlers"
	"github.com/ferrebot/ferrebot-backend/internal/utils"
)

type RouterConfig struct {
	ChatHandler         *handlers.ChatHandler
	ConversationHandler *handlers.ConversationHandler
	WebhookHandler      *handlers.WebhookHandler
	HealthHandler       *handlers.HealthHandler
	MetricsHandler      *handlers.MetricsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if utils.GetEnv("APP_MODE", "development", nil) == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("ferrebot-backend"))

	// Cors
	origins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", nil), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Ferrebot-Signature"},
		AllowCredentials: true,
	}))

	// ===============
	// || Operate   ||
	// ===============
	router.GET("/health", cfg.HealthHandler.Get)
	router.GET("/metrics", cfg.MetricsHandler.Get)

	// ===============
	// || Realtime  ||
	// ===============
	router.GET("/ws/chat/:client_id", cfg.ChatHandler.WebSocket)

	// ===============
	// || API       ||
	// ===============
	api := router.Group("/api")
	{
		api.POST("/chat", cfg.ChatHandler.Post)
		api.GET("/conversations", cfg.ConversationHandler.List)
		api.GET("/conversations/:id/messages", cfg.ConversationHandler.Messages)
	}

	// ===============
	// || Webhooks  ||
	// ===============
	router.POST("/webhooks/catalog", cfg.WebhookHandler.Catalog)

	return router
}
