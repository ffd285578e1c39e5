package app

import (
	"time"

	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/search"
	"github.com/ferrebot/ferrebot-backend/internal/services"
	"github.com/ferrebot/ferrebot-backend/internal/utils"
)

type Config struct {
	Port          string
	WebhookSecret string
	LexiconPath   string
	KnowledgeDir  string

	IdleThreshold time.Duration
	BrandCacheTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TracingEnabled bool

	Retrieval search.Config
	Validator services.ValidatorConfig
	Chat      services.ChatConfig
	Retention services.RetentionPolicy
}

func LoadConfig(log *logger.Logger) Config {
	retrieval := search.DefaultConfig()
	retrieval.TopK = utils.GetEnvAsInt("RETRIEVE_TOP_K", retrieval.TopK, log)
	retrieval.RRFK = utils.GetEnvAsInt("RRF_K", retrieval.RRFK, log)
	retrieval.VectorWeight = utils.GetEnvAsFloat("RRF_WEIGHT_VECTOR", retrieval.VectorWeight, log)
	retrieval.TextWeight = utils.GetEnvAsFloat("RRF_WEIGHT_TEXT", retrieval.TextWeight, log)
	retrieval.MinVectorScore = utils.GetEnvAsFloat("MIN_VECTOR_SCORE", retrieval.MinVectorScore, log)

	validator := services.DefaultValidatorConfig()
	validator.RefineThreshold = utils.GetEnvAsInt("REFINE_THRESHOLD", validator.RefineThreshold, log)
	validator.MaxRefines = utils.GetEnvAsInt("MAX_REFINES", validator.MaxRefines, log)
	validator.MaxFailedAnswers = utils.GetEnvAsInt("MAX_FAILED_ANSWERS", validator.MaxFailedAnswers, log)

	chat := services.DefaultChatConfig()
	chat.Validator = validator
	chat.QueueSize = utils.GetEnvAsInt("TURN_QUEUE_SIZE", chat.QueueSize, log)
	chat.TurnTimeout = utils.GetEnvAsDuration("TURN_TIMEOUT", chat.TurnTimeout, log)

	retention := services.DefaultRetentionPolicy()
	retention.Messages = utils.GetEnvAsDuration("RETENTION_MESSAGES", retention.Messages, log)
	retention.Conversations = utils.GetEnvAsDuration("RETENTION_CONVERSATIONS", retention.Conversations, log)
	retention.Events = utils.GetEnvAsDuration("RETENTION_EVENTS", retention.Events, log)

	return Config{
		Port:           utils.GetEnv("SERVER_PORT", "8080", log),
		WebhookSecret:  utils.GetEnv("WEBHOOK_SECRET", "", log),
		LexiconPath:    utils.GetEnv("LEXICON_PATH", "configs/lexicon.yaml", log),
		KnowledgeDir:   utils.GetEnv("KNOWLEDGE_DIR", "configs/knowledge", log),
		IdleThreshold:  utils.GetEnvAsDuration("SESSION_IDLE_THRESHOLD", 30*time.Minute, log),
		BrandCacheTTL:  utils.GetEnvAsDuration("BRAND_CACHE_TTL", time.Minute, log),
		RedisAddr:      utils.GetEnv("REDIS_ADDR", "", log),
		RedisPassword:  utils.GetEnv("REDIS_PASSWORD", "", log),
		RedisDB:        utils.GetEnvAsInt("REDIS_DB", 0, log),
		TracingEnabled: utils.GetEnv("TRACING_ENABLED", "false", log) == "true",
		Retrieval:      retrieval,
		Validator:      validator,
		Chat:           chat,
		Retention:      retention,
	}
}
