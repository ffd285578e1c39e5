package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

type PendingChangeRepo interface {
	Enqueue(ctx context.Context, change *domain.PendingChange) error
	// ClaimNextRunnable pops the oldest unprocessed change whose
	// upstream id has no other change currently in flight.
	ClaimNextRunnable(ctx context.Context, inFlight map[string]bool, maxAttempts int) (*domain.PendingChange, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, retryDelay time.Duration) error
	CountUnprocessed(ctx context.Context) (int64, error)
	ShedOldest(ctx context.Context, n int) (int64, error)
}

type pendingChangeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPendingChangeRepo(db *gorm.DB, baseLog *logger.Logger) PendingChangeRepo {
	return &pendingChangeRepo{db: db, log: baseLog.With("repo", "PendingChangeRepo")}
}

func (r *pendingChangeRepo) Enqueue(ctx context.Context, change *domain.PendingChange) error {
	if change.ReceivedAt.IsZero() {
		change.ReceivedAt = time.Now().UTC()
	}
	if change.NextAttemptAt.IsZero() {
		change.NextAttemptAt = change.ReceivedAt
	}
	return mapStoreErr(r.db.WithContext(ctx).Create(change).Error)
}

func (r *pendingChangeRepo) ClaimNextRunnable(ctx context.Context, inFlight map[string]bool, maxAttempts int) (*domain.PendingChange, error) {
	now := time.Now().UTC()
	var candidates []*domain.PendingChange
	err := r.db.WithContext(ctx).
		Where("processed = ? AND attempts < ? AND next_attempt_at <= ?", false, maxAttempts, now).
		Order("received_at ASC").
		Limit(20).
		Find(&candidates).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	for _, c := range candidates {
		if inFlight[c.UpstreamID] {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func (r *pendingChangeRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return mapStoreErr(r.db.WithContext(ctx).
		Model(&domain.PendingChange{}).
		Where("id = ?", id).
		Update("processed", true).Error)
}

func (r *pendingChangeRepo) MarkFailed(ctx context.Context, id uuid.UUID, retryDelay time.Duration) error {
	return mapStoreErr(r.db.WithContext(ctx).
		Model(&domain.PendingChange{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": time.Now().UTC().Add(retryDelay),
		}).Error)
}

func (r *pendingChangeRepo) CountUnprocessed(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&domain.PendingChange{}).
		Where("processed = ?", false).
		Count(&n).Error
	return n, mapStoreErr(err)
}

// ShedOldest drops the n oldest unprocessed changes. Called on queue
// overflow; the caller schedules a full reconcile to recover the gap.
func (r *pendingChangeRepo) ShedOldest(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&domain.PendingChange{}).
		Where("processed = ?", false).
		Order("received_at ASC").
		Limit(n).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.PendingChange{})
	return res.RowsAffected, mapStoreErr(res.Error)
}
