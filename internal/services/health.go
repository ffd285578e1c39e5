package services

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthReport struct {
	Status   HealthStatus      `json:"status"`
	Services map[string]string `json:"services"`
}

// Probe checks one dependency. Wired as closures over the concrete
// clients at startup.
type Probe func(ctx context.Context) error

// HealthService reports overall readiness: unhealthy when the store is
// down, degraded when any upstream is down but the store is fine.
type HealthService interface {
	Check(ctx context.Context) HealthReport
}

type healthService struct {
	db     *gorm.DB
	probes map[string]Probe
	log    *logger.Logger
}

func NewHealthService(db *gorm.DB, probes map[string]Probe, baseLog *logger.Logger) HealthService {
	return &healthService{
		db:     db,
		probes: probes,
		log:    baseLog.With("service", "HealthService"),
	}
}

func (s *healthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	report := HealthReport{Services: map[string]string{}}

	storeOK := true
	if sqlDB, err := s.db.DB(); err != nil {
		storeOK = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		storeOK = false
	}
	if storeOK {
		report.Services["database"] = "ok"
	} else {
		report.Services["database"] = "unreachable"
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	upstreamOK := true
	for name, probe := range s.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			err := probe(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Services[name] = "unreachable"
				upstreamOK = false
				return
			}
			report.Services[name] = "ok"
		}(name, probe)
	}
	wg.Wait()

	switch {
	case !storeOK:
		report.Status = HealthUnhealthy
	case !upstreamOK:
		report.Status = HealthDegraded
	default:
		report.Status = HealthHealthy
	}
	return report
}
