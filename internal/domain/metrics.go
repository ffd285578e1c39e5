package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MetricsHourly struct {
	Bucket            time.Time `gorm:"not null;uniqueIndex:uq_metrics_hourly_bucket_platform;column:bucket" json:"bucket"`
	Platform          Platform  `gorm:"not null;uniqueIndex:uq_metrics_hourly_bucket_platform;column:platform" json:"platform"`
	Conversations     int       `gorm:"not null;default:0;column:conversations" json:"conversations"`
	Messages          int       `gorm:"not null;default:0;column:messages" json:"messages"`
	UserMessages      int       `gorm:"not null;default:0;column:user_messages" json:"user_messages"`
	BotMessages       int       `gorm:"not null;default:0;column:bot_messages" json:"bot_messages"`
	Escalations       int       `gorm:"not null;default:0;column:escalations" json:"escalations"`
	Refinements       int       `gorm:"not null;default:0;column:refinements" json:"refinements"`
	AvgResponseTimeMs float64   `gorm:"not null;default:0;column:avg_response_time_ms" json:"avg_response_time_ms"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

func (MetricsHourly) TableName() string {
	return "metrics_hourly"
}

type MetricsDaily struct {
	Bucket            time.Time `gorm:"not null;uniqueIndex:uq_metrics_daily_bucket_platform;column:bucket" json:"bucket"`
	Platform          Platform  `gorm:"not null;uniqueIndex:uq_metrics_daily_bucket_platform;column:platform" json:"platform"`
	Conversations     int       `gorm:"not null;default:0;column:conversations" json:"conversations"`
	Messages          int       `gorm:"not null;default:0;column:messages" json:"messages"`
	UserMessages      int       `gorm:"not null;default:0;column:user_messages" json:"user_messages"`
	BotMessages       int       `gorm:"not null;default:0;column:bot_messages" json:"bot_messages"`
	Escalations       int       `gorm:"not null;default:0;column:escalations" json:"escalations"`
	Refinements       int       `gorm:"not null;default:0;column:refinements" json:"refinements"`
	AvgResponseTimeMs float64   `gorm:"not null;default:0;column:avg_response_time_ms" json:"avg_response_time_ms"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

func (MetricsDaily) TableName() string {
	return "metrics_daily"
}

// Event is the internal non-critical event stream (errors, sheds,
// degradations). Detail rows age out after 90 days.
type Event struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string            `gorm:"not null;index;column:name" json:"name"`
	Platform  Platform          `gorm:"column:platform" json:"platform,omitempty"`
	Detail    datatypes.JSONMap `gorm:"type:jsonb;column:detail" json:"detail,omitempty"`
	CreatedAt time.Time         `gorm:"not null;index;column:created_at" json:"created_at"`
}

func (Event) TableName() string {
	return "events"
}
