package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ChangeOp string

const (
	ChangeOpUpsert ChangeOp = "upsert"
	ChangeOpDelete ChangeOp = "delete"
)

// PendingChange is one queued upstream mutation received via webhook.
// Drained FIFO by the ingestion worker with at-most-one in-flight per
// upstream id.
type PendingChange struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Kind          RecordKind     `gorm:"not null;column:kind" json:"kind"`
	UpstreamID    string         `gorm:"not null;index;column:upstream_id" json:"upstream_id"`
	Op            ChangeOp       `gorm:"not null;column:op" json:"op"`
	Payload       datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload,omitempty"`
	ReceivedAt    time.Time      `gorm:"not null;index;column:received_at" json:"received_at"`
	Processed     bool           `gorm:"not null;default:false;index;column:processed" json:"processed"`
	Attempts      int            `gorm:"not null;default:0;column:attempts" json:"attempts"`
	NextAttemptAt time.Time      `gorm:"not null;column:next_attempt_at" json:"next_attempt_at"`
}

func (PendingChange) TableName() string {
	return "pending_changes"
}
