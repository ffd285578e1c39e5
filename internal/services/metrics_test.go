package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/db"
	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

type metricsHarness struct {
	svc     MetricsService
	metrics repos.MetricsRepo
	db      *gorm.DB
}

func newMetricsHarness(t *testing.T, policy RetentionPolicy) *metricsHarness {
	t.Helper()
	gormDB, err := db.OpenSQLite()
	require.NoError(t, err)
	log := servicesTestLogger(t)
	metrics := repos.NewMetricsRepo(gormDB, log)
	svc := NewMetricsService(metrics,
		repos.NewMessageRepo(gormDB, log),
		repos.NewConversationRepo(gormDB, log),
		log, policy)
	return &metricsHarness{svc: svc, metrics: metrics, db: gormDB}
}

func (h *metricsHarness) seedActivity(t *testing.T, at time.Time) {
	t.Helper()
	conv := &domain.Conversation{
		UserID:    "user-1",
		Platform:  domain.PlatformWeb,
		Status:    domain.ConversationActive,
		StartedAt: at,
		Locale:    "es",
	}
	require.NoError(t, h.db.Create(conv).Error)

	msgs := []*domain.Message{
		{ConversationID: conv.ID, Sender: domain.SenderUser, Content: "hola", CreatedAt: at},
		{ConversationID: conv.ID, Sender: domain.SenderBot, Content: "¡hola!", ResponseTimeMs: 300, CreatedAt: at.Add(time.Second)},
		{ConversationID: conv.ID, Sender: domain.SenderBot, Content: "¿marca?", ResponseTimeMs: 500, CreatedAt: at.Add(2 * time.Second)},
	}
	for _, msg := range msgs {
		require.NoError(t, h.db.Create(msg).Error)
	}

	for _, name := range []string{"refinement", "escalation", "refinement"} {
		require.NoError(t, h.metrics.RecordEvent(context.Background(), &domain.Event{
			Name:      name,
			Platform:  domain.PlatformWeb,
			CreatedAt: at.Add(3 * time.Second),
		}))
	}
}

func TestAggregateHourComputesBucket(t *testing.T) {
	h := newMetricsHarness(t, DefaultRetentionPolicy())
	hour := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	h.seedActivity(t, hour.Add(10*time.Minute))

	require.NoError(t, h.svc.AggregateHour(context.Background(), hour.Add(7*time.Minute)),
		"any instant inside the hour names the same bucket")

	row, err := h.metrics.GetHourly(context.Background(), hour, domain.PlatformWeb)
	require.NoError(t, err)
	assert.Equal(t, 1, row.Conversations)
	assert.Equal(t, 3, row.Messages)
	assert.Equal(t, 1, row.UserMessages)
	assert.Equal(t, 2, row.BotMessages)
	assert.Equal(t, 1, row.Escalations)
	assert.Equal(t, 2, row.Refinements)
	assert.InDelta(t, 400.0, row.AvgResponseTimeMs, 0.001)
}

func TestAggregateHourIsIdempotent(t *testing.T) {
	h := newMetricsHarness(t, DefaultRetentionPolicy())
	hour := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	h.seedActivity(t, hour.Add(10*time.Minute))

	require.NoError(t, h.svc.AggregateHour(context.Background(), hour))
	require.NoError(t, h.svc.AggregateHour(context.Background(), hour))

	var count int64
	require.NoError(t, h.db.Model(&domain.MetricsHourly{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "re-running the window upserts, never duplicates")

	row, err := h.metrics.GetHourly(context.Background(), hour, domain.PlatformWeb)
	require.NoError(t, err)
	assert.Equal(t, 3, row.Messages)
}

func TestAggregateDayRollsUpWholeDay(t *testing.T) {
	h := newMetricsHarness(t, DefaultRetentionPolicy())
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	h.seedActivity(t, day.Add(9*time.Hour))
	h.seedActivity(t, day.Add(18*time.Hour))

	require.NoError(t, h.svc.AggregateDay(context.Background(), day))

	var row domain.MetricsDaily
	require.NoError(t, h.db.First(&row, "bucket = ? AND platform = ?", day, domain.PlatformWeb).Error)
	assert.Equal(t, 2, row.Conversations)
	assert.Equal(t, 6, row.Messages)
	assert.Equal(t, 2, row.Escalations)
	assert.Equal(t, 4, row.Refinements)
}

func TestRetentionDeletesRawRowsKeepsAggregates(t *testing.T) {
	policy := RetentionPolicy{
		Messages:      7 * 24 * time.Hour,
		Conversations: 30 * 24 * time.Hour,
		Events:        90 * 24 * time.Hour,
	}
	h := newMetricsHarness(t, policy)
	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	h.seedActivity(t, old)

	hour := old.Truncate(time.Hour)
	require.NoError(t, h.svc.AggregateHour(context.Background(), hour))

	require.NoError(t, h.svc.RunRetention(context.Background()))

	var msgs, convs, events, aggregates int64
	require.NoError(t, h.db.Model(&domain.Message{}).Count(&msgs).Error)
	require.NoError(t, h.db.Model(&domain.Conversation{}).Count(&convs).Error)
	require.NoError(t, h.db.Model(&domain.Event{}).Count(&events).Error)
	require.NoError(t, h.db.Model(&domain.MetricsHourly{}).Count(&aggregates).Error)

	assert.Zero(t, msgs)
	assert.Zero(t, convs)
	assert.Zero(t, events)
	assert.Equal(t, int64(1), aggregates, "aggregates outlive the raw rows")
}

func TestRetentionKeepsRecentRows(t *testing.T) {
	h := newMetricsHarness(t, DefaultRetentionPolicy())
	h.seedActivity(t, time.Now().UTC().Add(-time.Hour))

	require.NoError(t, h.svc.RunRetention(context.Background()))

	var msgs int64
	require.NoError(t, h.db.Model(&domain.Message{}).Count(&msgs).Error)
	assert.Equal(t, int64(3), msgs)
}
