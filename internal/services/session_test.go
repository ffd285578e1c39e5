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

func newTestSession(t *testing.T) (SessionService, *gorm.DB) {
	t.Helper()
	gormDB, err := db.OpenSQLite()
	require.NoError(t, err)
	log := servicesTestLogger(t)
	svc := NewSessionService(gormDB,
		repos.NewConversationRepo(gormDB, log),
		repos.NewMessageRepo(gormDB, log),
		log, 30*time.Minute)
	return svc, gormDB
}

func TestBeginOrResumeWithinIdleWindow(t *testing.T) {
	svc, _ := newTestSession(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	first, resumed, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", now)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, domain.ConversationActive, first.Status)
	assert.Equal(t, "es", first.Locale)

	second, resumed, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, first.ID, second.ID)
}

func TestBeginOrResumeIdleRolloverEndsAnsweredConversation(t *testing.T) {
	svc, gormDB := newTestSession(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	first, _, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", now)
	require.NoError(t, err)
	require.NoError(t, svc.AppendMessage(ctx, first, &domain.Message{
		Sender: domain.SenderBot, Content: "hola", CreatedAt: now,
	}))

	later := now.Add(31 * time.Minute)
	second, resumed, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", later)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, first.ID, second.ID)

	var prev domain.Conversation
	require.NoError(t, gormDB.First(&prev, "id = ?", first.ID).Error)
	assert.Equal(t, domain.ConversationEnded, prev.Status)
	require.NotNil(t, prev.EndedAt)
	// The session ends at its last activity, not at rollover time.
	assert.Equal(t, now.Unix(), prev.EndedAt.Unix())
}

func TestBeginOrResumeIdleRolloverAbandonsUnansweredConversation(t *testing.T) {
	svc, gormDB := newTestSession(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	first, _, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", now)
	require.NoError(t, err)
	require.NoError(t, svc.AppendMessage(ctx, first, &domain.Message{
		Sender: domain.SenderUser, Content: "hola?", CreatedAt: now,
	}))

	_, _, err = svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", now.Add(time.Hour))
	require.NoError(t, err)

	var prev domain.Conversation
	require.NoError(t, gormDB.First(&prev, "id = ?", first.ID).Error)
	assert.Equal(t, domain.ConversationAbandoned, prev.Status)
}

func TestBeginOrResumeDefaultsLocale(t *testing.T) {
	svc, _ := newTestSession(t)
	conv, _, err := svc.BeginOrResume(context.Background(), "user-2", domain.PlatformWhatsapp, "", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "es", conv.Locale)
}

func TestBeginOrResumePlatformsAreIndependent(t *testing.T) {
	svc, _ := newTestSession(t)
	ctx := context.Background()
	now := time.Now().UTC()

	web, _, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", now)
	require.NoError(t, err)
	wa, _, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWhatsapp, "es", now)
	require.NoError(t, err)
	assert.NotEqual(t, web.ID, wa.ID)
}

func TestAppendMessageCountersAndRunningMean(t *testing.T) {
	svc, gormDB := newTestSession(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv, _, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", now)
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(ctx, conv, &domain.Message{
		Sender: domain.SenderUser, Content: "busco una termica",
	}))
	require.NoError(t, svc.AppendMessage(ctx, conv, &domain.Message{
		Sender: domain.SenderBot, Content: "tengo estas opciones", ResponseTimeMs: 400,
	}))
	require.NoError(t, svc.AppendMessage(ctx, conv, &domain.Message{
		Sender: domain.SenderBot, Content: "¿alguna marca?", ResponseTimeMs: 200,
	}))

	var stored domain.Conversation
	require.NoError(t, gormDB.First(&stored, "id = ?", conv.ID).Error)
	assert.Equal(t, 3, stored.MessagesCount)
	assert.Equal(t, 1, stored.UserMessagesCount)
	assert.Equal(t, 2, stored.BotMessagesCount)
	assert.InDelta(t, 300.0, stored.AvgResponseTimeMs, 0.001)

	msgs, err := svc.ListMessages(ctx, conv.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestEndStampsStatusAndTime(t *testing.T) {
	svc, gormDB := newTestSession(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv, _, err := svc.BeginOrResume(ctx, "user-1", domain.PlatformWeb, "es", now)
	require.NoError(t, err)

	endAt := now.Add(5 * time.Minute)
	require.NoError(t, svc.End(ctx, conv, domain.ConversationEnded, endAt))

	var stored domain.Conversation
	require.NoError(t, gormDB.First(&stored, "id = ?", conv.ID).Error)
	assert.Equal(t, domain.ConversationEnded, stored.Status)
	require.NotNil(t, stored.EndedAt)
	assert.Equal(t, endAt.Unix(), stored.EndedAt.Unix())
}
