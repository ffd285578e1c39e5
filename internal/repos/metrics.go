package repos

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

// AggregateBucket is the computed activity for one platform inside one
// time window, before it lands in an hourly or daily row.
type AggregateBucket struct {
	Platform          domain.Platform
	Conversations     int
	Messages          int
	UserMessages      int
	BotMessages       int
	Escalations       int
	Refinements       int
	AvgResponseTimeMs float64
}

type MetricsRepo interface {
	CollectRange(ctx context.Context, from, to time.Time) ([]AggregateBucket, error)
	UpsertHourly(ctx context.Context, row *domain.MetricsHourly) error
	UpsertDaily(ctx context.Context, row *domain.MetricsDaily) error
	GetHourly(ctx context.Context, bucket time.Time, platform domain.Platform) (*domain.MetricsHourly, error)
	RecordEvent(ctx context.Context, event *domain.Event) error
	DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type metricsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMetricsRepo(db *gorm.DB, baseLog *logger.Logger) MetricsRepo {
	return &metricsRepo{db: db, log: baseLog.With("repo", "MetricsRepo")}
}

// CollectRange recomputes per-platform activity for [from, to) from
// the raw tables. Re-running it for the same window yields the same
// buckets, which is what makes the aggregator idempotent.
func (r *metricsRepo) CollectRange(ctx context.Context, from, to time.Time) ([]AggregateBucket, error) {
	byPlatform := map[domain.Platform]*AggregateBucket{}
	bucket := func(p domain.Platform) *AggregateBucket {
		if b, ok := byPlatform[p]; ok {
			return b
		}
		b := &AggregateBucket{Platform: p}
		byPlatform[p] = b
		return b
	}

	var convRows []struct {
		Platform domain.Platform
		N        int
	}
	err := r.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Select("platform, COUNT(*) AS n").
		Where("started_at >= ? AND started_at < ?", from, to).
		Group("platform").
		Scan(&convRows).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	for _, row := range convRows {
		bucket(row.Platform).Conversations = row.N
	}

	var msgRows []struct {
		Platform domain.Platform
		Total    int
		UserN    int
		BotN     int
		AvgMs    float64
	}
	err = r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Select(`conversations.platform AS platform,
			COUNT(*) AS total,
			SUM(CASE WHEN messages.sender = 'user' THEN 1 ELSE 0 END) AS user_n,
			SUM(CASE WHEN messages.sender = 'bot' THEN 1 ELSE 0 END) AS bot_n,
			COALESCE(AVG(CASE WHEN messages.sender = 'bot' AND messages.response_time_ms > 0 THEN messages.response_time_ms END), 0) AS avg_ms`).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("messages.created_at >= ? AND messages.created_at < ?", from, to).
		Group("conversations.platform").
		Scan(&msgRows).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	for _, row := range msgRows {
		b := bucket(row.Platform)
		b.Messages = row.Total
		b.UserMessages = row.UserN
		b.BotMessages = row.BotN
		b.AvgResponseTimeMs = row.AvgMs
	}

	var eventRows []struct {
		Platform domain.Platform
		Name     string
		N        int
	}
	err = r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Select("platform, name, COUNT(*) AS n").
		Where("created_at >= ? AND created_at < ? AND name IN ?", from, to, []string{"escalation", "refinement"}).
		Group("platform").
		Group("name").
		Scan(&eventRows).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	for _, row := range eventRows {
		b := bucket(row.Platform)
		switch row.Name {
		case "escalation":
			b.Escalations = row.N
		case "refinement":
			b.Refinements = row.N
		}
	}

	out := make([]AggregateBucket, 0, len(byPlatform))
	for _, b := range byPlatform {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

var hourlyUpdateColumns = []string{
	"conversations", "messages", "user_messages", "bot_messages",
	"escalations", "refinements", "avg_response_time_ms", "updated_at",
}

func (r *metricsRepo) UpsertHourly(ctx context.Context, row *domain.MetricsHourly) error {
	return mapStoreErr(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns(hourlyUpdateColumns),
	}).Create(row).Error)
}

func (r *metricsRepo) UpsertDaily(ctx context.Context, row *domain.MetricsDaily) error {
	return mapStoreErr(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns(hourlyUpdateColumns),
	}).Create(row).Error)
}

func (r *metricsRepo) GetHourly(ctx context.Context, bucket time.Time, platform domain.Platform) (*domain.MetricsHourly, error) {
	var row domain.MetricsHourly
	err := r.db.WithContext(ctx).
		Where("bucket = ? AND platform = ?", bucket, platform).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, mapStoreErr(err)
	}
	return &row, nil
}

func (r *metricsRepo) RecordEvent(ctx context.Context, event *domain.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return mapStoreErr(r.db.WithContext(ctx).Create(event).Error)
}

func (r *metricsRepo) DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.Event{})
	return res.RowsAffected, mapStoreErr(res.Error)
}
