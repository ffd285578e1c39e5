package domain

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type RecordKind string

const (
	RecordKindProduct   RecordKind = "product"
	RecordKindCategory  RecordKind = "category"
	RecordKindKnowledge RecordKind = "knowledge"
)

func (k RecordKind) Valid() bool {
	switch k {
	case RecordKindProduct, RecordKindCategory, RecordKindKnowledge:
		return true
	}
	return false
}

// Record is the unified content unit of the index: a product, a
// category, or a knowledge-base entry. IDs are namespaced strings
// ("product:<upstream_id>", "kb:<slug>", "category:<id>").
type Record struct {
	ID          string            `gorm:"primaryKey;column:id" json:"id"`
	Kind        RecordKind        `gorm:"not null;index;column:kind" json:"kind"`
	Title       string            `gorm:"not null;column:title" json:"title"`
	Body        string            `gorm:"column:body" json:"body"`
	Attributes  datatypes.JSONMap `gorm:"type:jsonb;column:attributes" json:"attributes"`
	ContentHash string            `gorm:"not null;index;column:content_hash" json:"content_hash"`
	DenseVector *pgvector.Vector  `gorm:"type:vector(1536);column:dense_vector" json:"-"`
	Active      bool              `gorm:"not null;default:true;index;column:active" json:"active"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
}

func (Record) TableName() string {
	return "records"
}

// Brand returns the record's brand attribute, if any.
func (r *Record) Brand() string {
	if r == nil || r.Attributes == nil {
		return ""
	}
	if v, ok := r.Attributes["brand"].(string); ok {
		return v
	}
	return ""
}

// SyncCursor stores the per-kind upstream pagination cursor persisted
// at the end of a successful reconcile.
type SyncCursor struct {
	Kind      RecordKind `gorm:"primaryKey;column:kind" json:"kind"`
	Cursor    string     `gorm:"column:cursor" json:"cursor"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}
