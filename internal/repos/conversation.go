package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

// ConversationFilter narrows operator conversation searches.
type ConversationFilter struct {
	UserID   string
	Platform domain.Platform
	Status   domain.ConversationStatus
	Since    time.Time
	Until    time.Time
}

type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, conv *domain.Conversation) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Conversation, error)
	Update(ctx context.Context, tx *gorm.DB, conv *domain.Conversation) error
	Search(ctx context.Context, filter ConversationFilter, page, pageSize int) ([]*domain.Conversation, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	GetPointer(ctx context.Context, tx *gorm.DB, userID string, platform domain.Platform) (*domain.SessionPointer, error)
	SetPointer(ctx context.Context, tx *gorm.DB, ptr *domain.SessionPointer) error
	TouchPointer(ctx context.Context, tx *gorm.DB, userID string, platform domain.Platform, at time.Time) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(ctx context.Context, tx *gorm.DB, conv *domain.Conversation) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return mapStoreErr(transaction.WithContext(ctx).Create(conv).Error)
}

func (r *conversationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var conv domain.Conversation
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, mapStoreErr(err)
	}
	return &conv, nil
}

func (r *conversationRepo) Update(ctx context.Context, tx *gorm.DB, conv *domain.Conversation) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return mapStoreErr(transaction.WithContext(ctx).Save(conv).Error)
}

func (r *conversationRepo) Search(ctx context.Context, filter ConversationFilter, page, pageSize int) ([]*domain.Conversation, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page < 1 {
		page = 1
	}
	q := r.db.WithContext(ctx).Model(&domain.Conversation{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Platform != "" {
		q = q.Where("platform = ?", filter.Platform)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		q = q.Where("started_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("started_at < ?", filter.Until)
	}
	var out []*domain.Conversation
	err := q.Order("started_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&out).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

func (r *conversationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("started_at < ?", cutoff).
		Delete(&domain.Conversation{})
	return res.RowsAffected, mapStoreErr(res.Error)
}

func (r *conversationRepo) GetPointer(ctx context.Context, tx *gorm.DB, userID string, platform domain.Platform) (*domain.SessionPointer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ptr domain.SessionPointer
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		First(&ptr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, mapStoreErr(err)
	}
	return &ptr, nil
}

func (r *conversationRepo) SetPointer(ctx context.Context, tx *gorm.DB, ptr *domain.SessionPointer) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return mapStoreErr(transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"conversation_id", "last_activity_at"}),
	}).Create(ptr).Error)
}

func (r *conversationRepo) TouchPointer(ctx context.Context, tx *gorm.DB, userID string, platform domain.Platform, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return mapStoreErr(transaction.WithContext(ctx).
		Model(&domain.SessionPointer{}).
		Where("user_id = ? AND platform = ?", userID, platform).
		Update("last_activity_at", at).Error)
}
