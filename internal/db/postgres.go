package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	dsn := utils.GetEnv("STORE_DSN", "", log)
	if dsn == "" {
		host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
		port := utils.GetEnv("POSTGRES_PORT", "5432", log)
		user := utils.GetEnv("POSTGRES_USER", "postgres", log)
		password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
		name := utils.GetEnv("POSTGRES_NAME", "ferrebot", log)
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
	}

	log.Info("Connecting to Postgres...")
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := gormDB.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}
	if err := gormDB.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	// Pool sized for concurrent turns plus background workers; pool
	// exhaustion must fail fast rather than queue unboundedly.
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	expectedTurns := utils.GetEnvAsInt("EXPECTED_CONCURRENT_TURNS", 16, log)
	backgroundWorkers := utils.GetEnvAsInt("BACKGROUND_WORKERS", 4, log)
	sqlDB.SetMaxOpenConns(expectedTurns*2 + backgroundWorkers)
	sqlDB.SetMaxIdleConns(expectedTurns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresService{db: gormDB, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrate(s.db); err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring lexical vector column and indexes...")
	stmts := []string{
		`ALTER TABLE "records" ADD COLUMN IF NOT EXISTS "lexical_vector" tsvector
		 GENERATED ALWAYS AS (
		   setweight(to_tsvector('spanish', coalesce(title, '')), 'A') ||
		   setweight(to_tsvector('spanish', coalesce(attributes::text, '')), 'B') ||
		   setweight(to_tsvector('spanish', coalesce(body, '')), 'C')
		 ) STORED`,
		`CREATE INDEX IF NOT EXISTS "idx_records_lexical" ON "records" USING GIN ("lexical_vector")`,
		`CREATE INDEX IF NOT EXISTS "idx_records_dense" ON "records" USING ivfflat ("dense_vector" vector_cosine_ops) WITH (lists = 100)`,
		`ALTER TABLE "messages"
		 ADD CONSTRAINT "fk_messages_conversation_id"
		 FOREIGN KEY ("conversation_id")
		 REFERENCES "conversations"("id")
		 ON DELETE CASCADE`,
	}
	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			// The FK add is not idempotent across restarts.
			s.log.Debug("Migration statement skipped", "error", err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates the core tables. Shared with the sqlite-backed
// test opener, which cannot run the Postgres-only statements above.
func AutoMigrate(gormDB *gorm.DB) error {
	return gormDB.AutoMigrate(
		&domain.Record{},
		&domain.SyncCursor{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.SessionPointer{},
		&domain.MetricsHourly{},
		&domain.MetricsDaily{},
		&domain.Event{},
		&domain.PendingChange{},
	)
}
