package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

// SessionService owns the conversation lifecycle: the (user, platform)
// pointer, idle expiry, message persistence and counters.
type SessionService interface {
	BeginOrResume(ctx context.Context, userID string, platform domain.Platform, locale string, now time.Time) (*domain.Conversation, bool, error)
	AppendMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error
	End(ctx context.Context, conv *domain.Conversation, status domain.ConversationStatus, now time.Time) error
	GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	ListMessages(ctx context.Context, convID uuid.UUID, page, pageSize int) ([]*domain.Message, error)
	SearchConversations(ctx context.Context, filter repos.ConversationFilter, page, pageSize int) ([]*domain.Conversation, error)
}

type sessionService struct {
	db            *gorm.DB
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
	log           *logger.Logger
	idleThreshold time.Duration
}

func NewSessionService(db *gorm.DB, conversations repos.ConversationRepo, messages repos.MessageRepo, baseLog *logger.Logger, idleThreshold time.Duration) SessionService {
	if idleThreshold <= 0 {
		idleThreshold = 30 * time.Minute
	}
	return &sessionService{
		db:            db,
		conversations: conversations,
		messages:      messages,
		log:           baseLog.With("service", "SessionService"),
		idleThreshold: idleThreshold,
	}
}

func (s *sessionService) BeginOrResume(ctx context.Context, userID string, platform domain.Platform, locale string, now time.Time) (*domain.Conversation, bool, error) {
	var conv *domain.Conversation
	resumed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ptr, err := s.conversations.GetPointer(ctx, tx, userID, platform)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if ptr != nil && now.Sub(ptr.LastActivityAt) <= s.idleThreshold {
			existing, err := s.conversations.GetByID(ctx, tx, ptr.ConversationID)
			if err == nil && existing.Status == domain.ConversationActive {
				conv = existing
				resumed = true
				return s.conversations.TouchPointer(ctx, tx, userID, platform, now)
			}
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		// Idle or dangling pointer: close out the previous conversation
		// before opening a new one. A session the bot never answered is
		// abandoned, not ended.
		if ptr != nil {
			if prev, err := s.conversations.GetByID(ctx, tx, ptr.ConversationID); err == nil && prev.Status == domain.ConversationActive {
				status := domain.ConversationAbandoned
				if prev.BotMessagesCount > 0 {
					status = domain.ConversationEnded
				}
				prev.Status = status
				endedAt := ptr.LastActivityAt
				prev.EndedAt = &endedAt
				if err := s.conversations.Update(ctx, tx, prev); err != nil {
					return err
				}
			}
		}

		if locale == "" {
			locale = "es"
		}
		conv = &domain.Conversation{
			UserID:    userID,
			Platform:  platform,
			Status:    domain.ConversationActive,
			StartedAt: now,
			Locale:    locale,
		}
		if err := s.conversations.Create(ctx, tx, conv); err != nil {
			return err
		}
		return s.conversations.SetPointer(ctx, tx, &domain.SessionPointer{
			UserID:         userID,
			Platform:       platform,
			ConversationID: conv.ID,
			LastActivityAt: now,
		})
	})
	if err != nil {
		return nil, false, err
	}
	return conv, resumed, nil
}

// AppendMessage persists the message and the updated counters in one
// transaction. Callers emit to the wire only after this returns.
func (s *sessionService) AppendMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	msg.ConversationID = conv.ID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.messages.Create(ctx, tx, msg); err != nil {
			return err
		}

		conv.MessagesCount++
		switch msg.Sender {
		case domain.SenderUser:
			conv.UserMessagesCount++
		case domain.SenderBot:
			conv.BotMessagesCount++
			if msg.ResponseTimeMs > 0 {
				n := float64(conv.BotMessagesCount)
				conv.AvgResponseTimeMs += (float64(msg.ResponseTimeMs) - conv.AvgResponseTimeMs) / n
			}
		}
		if err := s.conversations.Update(ctx, tx, conv); err != nil {
			return err
		}
		return s.conversations.TouchPointer(ctx, tx, conv.UserID, conv.Platform, msg.CreatedAt)
	})
}

func (s *sessionService) End(ctx context.Context, conv *domain.Conversation, status domain.ConversationStatus, now time.Time) error {
	conv.Status = status
	conv.EndedAt = &now
	return s.conversations.Update(ctx, nil, conv)
}

func (s *sessionService) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return s.conversations.GetByID(ctx, nil, id)
}

func (s *sessionService) ListMessages(ctx context.Context, convID uuid.UUID, page, pageSize int) ([]*domain.Message, error) {
	return s.messages.ListByConversation(ctx, convID, page, pageSize)
}

func (s *sessionService) SearchConversations(ctx context.Context, filter repos.ConversationFilter, page, pageSize int) ([]*domain.Conversation, error) {
	return s.conversations.Search(ctx, filter, page, pageSize)
}
