package app

import (
	"github.com/gin-gonic/gin"

	"github.com/ferrebot/ferrebot-backend/internal/handlers"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/realtime"
	"github.com/ferrebot/ferrebot-backend/internal/server"
)

type Handlers struct {
	Chat          *handlers.ChatHandler
	Conversations *handlers.ConversationHandler
	Webhook       *handlers.WebhookHandler
	Health        *handlers.HealthHandler
	Metrics       *handlers.MetricsHandler
}

func wireHandlers(log *logger.Logger, cfg Config, serviceset Services, reposet Repos, hub *realtime.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Chat:          handlers.NewChatHandler(serviceset.Session, serviceset.Chat, reposet.Message, hub, log),
		Conversations: handlers.NewConversationHandler(serviceset.Session, log),
		Webhook:       handlers.NewWebhookHandler(reposet.PendingChange, cfg.WebhookSecret, log),
		Health:        handlers.NewHealthHandler(serviceset.Health),
		Metrics:       handlers.NewMetricsHandler(),
	}
}

func wireRouter(handlerset Handlers) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		ChatHandler:         handlerset.Chat,
		ConversationHandler: handlerset.Conversations,
		WebhookHandler:      handlerset.Webhook,
		HealthHandler:       handlerset.Health,
		MetricsHandler:      handlerset.Metrics,
	})
}
