package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/db"
	"github.com/ferrebot/ferrebot-backend/internal/observability"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/realtime"
	"github.com/ferrebot/ferrebot-backend/internal/realtime/bus"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	Hub      *realtime.Hub

	server        *http.Server
	busCloser     func() error
	stopSchedules func()
	stopTracing   func(context.Context) error
	cancel        context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	observability.Set(observability.New())
	stopTracing, err := observability.InitTracing(cfg.TracingEnabled, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}

	replyBus, busCloser, err := wireBus(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	hub := realtime.NewHub(replyBus, log)
	serviceset.Chat.SetNotifier(hub)

	handlerset := wireHandlers(log, cfg, serviceset, reposet, hub)
	router := wireRouter(handlerset)

	return &App{
		Log:         log,
		DB:          theDB,
		Router:      router,
		Cfg:         cfg,
		Repos:       reposet,
		Services:    serviceset,
		Hub:         hub,
		busCloser:   busCloser,
		stopTracing: stopTracing,
	}, nil
}

// wireBus picks the cross-instance reply bus: redis pub/sub when
// REDIS_ADDR is set, otherwise an in-process bus for single-node runs.
func wireBus(cfg Config, log *logger.Logger) (bus.Bus, func() error, error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, using in-process reply bus")
		return bus.NewLocalBus(), nil, nil
	}
	rb, err := bus.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis bus: %w", err)
	}
	return rb, rb.Close, nil
}

func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		if err := a.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Log.Error("Reply bus loop exited", "error", err.Error())
		}
	}()

	a.Services.ChangeWorker.Start(ctx)
	a.stopSchedules = a.Services.Metrics.StartSchedules()
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.ChangeWorker != nil {
		a.Services.ChangeWorker.Stop()
	}
	if a.stopSchedules != nil {
		a.stopSchedules()
		a.stopSchedules = nil
	}
	if a.busCloser != nil {
		if err := a.busCloser(); err != nil {
			a.Log.Warn("Reply bus close failed", "error", err.Error())
		}
		a.busCloser = nil
	}
	if a.stopTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.stopTracing(ctx)
		cancel()
		a.stopTracing = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
