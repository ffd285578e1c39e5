package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

// RetentionPolicy controls how long raw rows live. Aggregates are
// never deleted.
type RetentionPolicy struct {
	Messages      time.Duration
	Conversations time.Duration
	Events        time.Duration
}

func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Messages:      7 * 24 * time.Hour,
		Conversations: 30 * 24 * time.Hour,
		Events:        90 * 24 * time.Hour,
	}
}

// MetricsService rolls raw conversation activity into hourly and daily
// aggregate rows and enforces retention on the raw tables.
type MetricsService interface {
	AggregateHour(ctx context.Context, hourStart time.Time) error
	AggregateDay(ctx context.Context, dayStart time.Time) error
	RunRetention(ctx context.Context) error
	// StartSchedules registers the cron entries and starts the runner.
	// The returned stop function drains running jobs.
	StartSchedules() (stop func())
}

type metricsService struct {
	metrics       repos.MetricsRepo
	messages      repos.MessageRepo
	conversations repos.ConversationRepo
	log           *logger.Logger
	policy        RetentionPolicy
}

func NewMetricsService(metrics repos.MetricsRepo, messages repos.MessageRepo, conversations repos.ConversationRepo, baseLog *logger.Logger, policy RetentionPolicy) MetricsService {
	if policy.Messages <= 0 {
		policy = DefaultRetentionPolicy()
	}
	return &metricsService{
		metrics:       metrics,
		messages:      messages,
		conversations: conversations,
		log:           baseLog.With("service", "MetricsService"),
		policy:        policy,
	}
}

// AggregateHour upserts the per-platform rows for the hour starting at
// hourStart. Buckets are UTC hour boundaries.
func (s *metricsService) AggregateHour(ctx context.Context, hourStart time.Time) error {
	hourStart = hourStart.UTC().Truncate(time.Hour)
	buckets, err := s.metrics.CollectRange(ctx, hourStart, hourStart.Add(time.Hour))
	if err != nil {
		return err
	}
	for _, b := range buckets {
		row := &domain.MetricsHourly{
			Bucket:            hourStart,
			Platform:          b.Platform,
			Conversations:     b.Conversations,
			Messages:          b.Messages,
			UserMessages:      b.UserMessages,
			BotMessages:       b.BotMessages,
			Escalations:       b.Escalations,
			Refinements:       b.Refinements,
			AvgResponseTimeMs: b.AvgResponseTimeMs,
		}
		if err := s.metrics.UpsertHourly(ctx, row); err != nil {
			return err
		}
	}
	s.log.Info("Hourly aggregation finished", "bucket", hourStart.Format(time.RFC3339), "platforms", len(buckets))
	return nil
}

func (s *metricsService) AggregateDay(ctx context.Context, dayStart time.Time) error {
	dayStart = dayStart.UTC().Truncate(24 * time.Hour)
	buckets, err := s.metrics.CollectRange(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return err
	}
	for _, b := range buckets {
		row := &domain.MetricsDaily{
			Bucket:            dayStart,
			Platform:          b.Platform,
			Conversations:     b.Conversations,
			Messages:          b.Messages,
			UserMessages:      b.UserMessages,
			BotMessages:       b.BotMessages,
			Escalations:       b.Escalations,
			Refinements:       b.Refinements,
			AvgResponseTimeMs: b.AvgResponseTimeMs,
		}
		if err := s.metrics.UpsertDaily(ctx, row); err != nil {
			return err
		}
	}
	s.log.Info("Daily aggregation finished", "bucket", dayStart.Format("2006-01-02"), "platforms", len(buckets))
	return nil
}

func (s *metricsService) RunRetention(ctx context.Context) error {
	now := time.Now().UTC()

	deletedMsgs, err := s.messages.DeleteOlderThan(ctx, now.Add(-s.policy.Messages))
	if err != nil {
		return err
	}
	deletedConvs, err := s.conversations.DeleteOlderThan(ctx, now.Add(-s.policy.Conversations))
	if err != nil {
		return err
	}
	deletedEvents, err := s.metrics.DeleteEventsOlderThan(ctx, now.Add(-s.policy.Events))
	if err != nil {
		return err
	}
	s.log.Info("Retention sweep finished",
		"messages_deleted", deletedMsgs,
		"conversations_deleted", deletedConvs,
		"events_deleted", deletedEvents,
	)
	return nil
}

func (s *metricsService) StartSchedules() func() {
	runner := cron.New()

	// H:05, aggregating the hour that just closed.
	_, err := runner.AddFunc("5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.AggregateHour(ctx, time.Now().UTC().Add(-time.Hour)); err != nil {
			s.log.Error("Hourly aggregation failed", "error", err.Error())
		}
	})
	if err != nil {
		s.log.Error("Hourly schedule not registered", "error", err.Error())
	}

	// 02:00, aggregating yesterday and sweeping retention.
	_, err = runner.AddFunc("0 2 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := s.AggregateDay(ctx, time.Now().UTC().AddDate(0, 0, -1)); err != nil {
			s.log.Error("Daily aggregation failed", "error", err.Error())
		}
		if err := s.RunRetention(ctx); err != nil {
			s.log.Error("Retention sweep failed", "error", err.Error())
		}
	})
	if err != nil {
		s.log.Error("Daily schedule not registered", "error", err.Error())
	}

	runner.Start()
	return func() {
		<-runner.Stop().Done()
	}
}
