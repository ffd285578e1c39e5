package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/ingestion"
	"github.com/ferrebot/ferrebot-backend/internal/platform/catalog"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/platform/openai"
	"github.com/ferrebot/ferrebot-backend/internal/search"
	"github.com/ferrebot/ferrebot-backend/internal/services"
)

type Services struct {
	OpenAI  openai.Client
	Catalog catalog.Client

	Lexicon   *services.Lexicon
	Brands    *search.BrandCache
	Retriever *search.Retriever

	Intent  services.IntentService
	Refine  *services.RefineService
	Session services.SessionService
	Chat    services.ChatService
	Metrics services.MetricsService
	Health  services.HealthService

	Reconciler      *ingestion.Reconciler
	ChangeWorker    *ingestion.ChangeWorker
	KnowledgeLoader *ingestion.KnowledgeLoader
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos) (Services, error) {
	log.Info("Wiring services...")

	ai, err := openai.NewClient(log)
	if err != nil {
		return Services{}, fmt.Errorf("init openai client: %w", err)
	}
	cat, err := catalog.NewClient(log)
	if err != nil {
		return Services{}, fmt.Errorf("init catalog client: %w", err)
	}

	lex, err := services.LoadLexicon(cfg.LexiconPath)
	if err != nil {
		return Services{}, fmt.Errorf("load lexicon %s: %w", cfg.LexiconPath, err)
	}

	brands := search.NewBrandCache(reposet.Record, log, cfg.BrandCacheTTL)
	retriever := search.NewRetriever(reposet.Record, ai, brands, log, cfg.Retrieval)

	intent := services.NewIntentService(ai, lex, log)
	refine := services.NewRefineService(ai, log)
	session := services.NewSessionService(db, reposet.Conversation, reposet.Message, log, cfg.IdleThreshold)

	chat := services.NewChatService(
		session, intent, retriever, refine,
		cat, ai, lex,
		reposet.Message, reposet.Metrics,
		log, cfg.Chat,
	)

	metrics := services.NewMetricsService(reposet.Metrics, reposet.Message, reposet.Conversation, log, cfg.Retention)

	health := services.NewHealthService(db, map[string]services.Probe{
		"embeddings": ai.Ping,
		"llm":        ai.Ping,
		"catalog": func(ctx context.Context) error {
			_, err := cat.ListSince(ctx, "", 1)
			return err
		},
	}, log)

	reconciler := ingestion.NewReconciler(reposet.Record, cat, ai, log)

	// A shed change queue means incremental sync lost updates, so a
	// full reconcile is scheduled to repair the index. The guard keeps
	// repeated overflows from stacking resyncs.
	var resyncing atomic.Bool
	onOverflow := func() {
		if !resyncing.CompareAndSwap(false, true) {
			return
		}
		go func() {
			defer resyncing.Store(false)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			for _, kind := range []domain.RecordKind{domain.RecordKindProduct, domain.RecordKindCategory} {
				if _, err := reconciler.ReconcileKind(ctx, kind); err != nil {
					log.Error("Overflow resync failed", "kind", string(kind), "error", err.Error())
				}
			}
		}()
	}
	worker := ingestion.NewChangeWorker(reposet.PendingChange, reconciler, log, onOverflow)

	knowledge := ingestion.NewKnowledgeLoader(reposet.Record, ai, log, cfg.KnowledgeDir)

	return Services{
		OpenAI:          ai,
		Catalog:         cat,
		Lexicon:         lex,
		Brands:          brands,
		Retriever:       retriever,
		Intent:          intent,
		Refine:          refine,
		Session:         session,
		Chat:            chat,
		Metrics:         metrics,
		Health:          health,
		Reconciler:      reconciler,
		ChangeWorker:    worker,
		KnowledgeLoader: knowledge,
	}, nil
}
