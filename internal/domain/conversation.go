package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Platform string

const (
	PlatformWeb      Platform = "web"
	PlatformWhatsapp Platform = "whatsapp"
	PlatformTest     Platform = "test"
)

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationEnded     ConversationStatus = "ended"
	ConversationAbandoned ConversationStatus = "abandoned"
)

type Conversation struct {
	ID                uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            string             `gorm:"not null;index:idx_conversations_user_platform;column:user_id" json:"user_id"`
	Platform          Platform           `gorm:"not null;index:idx_conversations_user_platform;column:platform" json:"platform"`
	Status            ConversationStatus `gorm:"not null;index;column:status" json:"status"`
	StartedAt         time.Time          `gorm:"not null;index;column:started_at" json:"started_at"`
	EndedAt           *time.Time         `gorm:"column:ended_at" json:"ended_at,omitempty"`
	MessagesCount     int                `gorm:"not null;default:0;column:messages_count" json:"messages_count"`
	UserMessagesCount int                `gorm:"not null;default:0;column:user_messages_count" json:"user_messages_count"`
	BotMessagesCount  int                `gorm:"not null;default:0;column:bot_messages_count" json:"bot_messages_count"`
	AvgResponseTimeMs float64            `gorm:"not null;default:0;column:avg_response_time_ms" json:"avg_response_time_ms"`
	RefineCount       int                `gorm:"not null;default:0;column:refine_count" json:"refine_count"`
	FailedAnswers     int                `gorm:"not null;default:0;column:failed_answers" json:"failed_answers"`
	Locale            string             `gorm:"not null;column:locale" json:"locale"`
	CreatedAt         time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"not null" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

type Sender string

const (
	SenderUser   Sender = "user"
	SenderBot    Sender = "bot"
	SenderSystem Sender = "system"
)

type Message struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID         `gorm:"type:uuid;not null;index;column:conversation_id" json:"conversation_id"`
	Sender         Sender            `gorm:"not null;column:sender" json:"sender"`
	Content        string            `gorm:"not null;column:content" json:"content"`
	Intent         string            `gorm:"column:intent" json:"intent,omitempty"`
	Entities       datatypes.JSONMap `gorm:"type:jsonb;column:entities" json:"entities,omitempty"`
	Confidence     float64           `gorm:"column:confidence" json:"confidence,omitempty"`
	ResponseTimeMs int64             `gorm:"column:response_time_ms" json:"response_time_ms,omitempty"`
	ToolsUsed      datatypes.JSON    `gorm:"type:jsonb;column:tools_used" json:"tools_used,omitempty"`
	Delivered      bool              `gorm:"not null;default:true;index;column:delivered" json:"delivered"`
	CreatedAt      time.Time         `gorm:"not null;index;column:created_at" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// SessionPointer maps (user_id, platform) to the active conversation.
type SessionPointer struct {
	UserID         string    `gorm:"primaryKey;column:user_id" json:"user_id"`
	Platform       Platform  `gorm:"primaryKey;column:platform" json:"platform"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;column:conversation_id" json:"conversation_id"`
	LastActivityAt time.Time `gorm:"not null;column:last_activity_at" json:"last_activity_at"`
}

func (SessionPointer) TableName() string {
	return "session_pointers"
}
