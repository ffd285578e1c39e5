package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *domain.Message) error
	ListByConversation(ctx context.Context, convID uuid.UUID, page, pageSize int) ([]*domain.Message, error)
	ListRecent(ctx context.Context, convID uuid.UUID, n int) ([]*domain.Message, error)
	ListUndelivered(ctx context.Context, convID uuid.UUID, limit int) ([]*domain.Message, error)
	MarkDelivered(ctx context.Context, ids []uuid.UUID) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(ctx context.Context, tx *gorm.DB, msg *domain.Message) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return mapStoreErr(transaction.WithContext(ctx).Create(msg).Error)
}

func (r *messageRepo) ListByConversation(ctx context.Context, convID uuid.UUID, page, pageSize int) ([]*domain.Message, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 1 {
		page = 1
	}
	var out []*domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&out).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

// ListRecent returns the last n messages in chronological order.
func (r *messageRepo) ListRecent(ctx context.Context, convID uuid.UUID, n int) ([]*domain.Message, error) {
	if n <= 0 {
		n = 5
	}
	var out []*domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListUndelivered returns bot replies that never reached a socket,
// oldest first, for flush on reconnect.
func (r *messageRepo) ListUndelivered(ctx context.Context, convID uuid.UUID, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND sender = ? AND delivered = ?", convID, domain.SenderBot, false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

func (r *messageRepo) MarkDelivered(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return mapStoreErr(r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id IN ?", ids).
		Update("delivered", true).Error)
}

func (r *messageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.Message{})
	return res.RowsAffected, mapStoreErr(res.Error)
}
