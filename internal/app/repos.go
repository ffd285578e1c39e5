package app

import (
	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

type Repos struct {
	Record        repos.RecordRepo
	Conversation  repos.ConversationRepo
	Message       repos.MessageRepo
	Metrics       repos.MetricsRepo
	PendingChange repos.PendingChangeRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Record:        repos.NewRecordRepo(db, log),
		Conversation:  repos.NewConversationRepo(db, log),
		Message:       repos.NewMessageRepo(db, log),
		Metrics:       repos.NewMetricsRepo(db, log),
		PendingChange: repos.NewPendingChangeRepo(db, log),
	}
}
