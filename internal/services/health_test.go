package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrebot/ferrebot-backend/internal/db"
)

func TestHealthAllUp(t *testing.T) {
	gormDB, err := db.OpenSQLite()
	require.NoError(t, err)

	svc := NewHealthService(gormDB, map[string]Probe{
		"llm":     func(ctx context.Context) error { return nil },
		"catalog": func(ctx context.Context) error { return nil },
	}, servicesTestLogger(t))

	report := svc.Check(context.Background())
	assert.Equal(t, HealthHealthy, report.Status)
	assert.Equal(t, "ok", report.Services["database"])
	assert.Equal(t, "ok", report.Services["llm"])
	assert.Equal(t, "ok", report.Services["catalog"])
}

func TestHealthDegradedWhenUpstreamDown(t *testing.T) {
	gormDB, err := db.OpenSQLite()
	require.NoError(t, err)

	svc := NewHealthService(gormDB, map[string]Probe{
		"llm": func(ctx context.Context) error { return errors.New("connection refused") },
	}, servicesTestLogger(t))

	report := svc.Check(context.Background())
	assert.Equal(t, HealthDegraded, report.Status)
	assert.Equal(t, "ok", report.Services["database"])
	assert.Equal(t, "unreachable", report.Services["llm"])
}

func TestHealthUnhealthyWhenStoreDown(t *testing.T) {
	gormDB, err := db.OpenSQLite()
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	svc := NewHealthService(gormDB, map[string]Probe{
		"llm": func(ctx context.Context) error { return nil },
	}, servicesTestLogger(t))

	report := svc.Check(context.Background())
	assert.Equal(t, HealthUnhealthy, report.Status)
	assert.Equal(t, "unreachable", report.Services["database"])
}
