package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditcore/creditcore-backend/pkg/enums"
)

// Promotion is a time- and scope-bounded rule that boosts grants for one
// action category. Rows are written by admin tooling; the credit engine
// only reads them.
type Promotion struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Name       string            `gorm:"column:name;type:text;not null"`
	Action     enums.GrantAction `gorm:"column:action;type:text;not null;index"`
	Multiplier decimal.Decimal   `gorm:"column:multiplier;type:numeric(8,4);not null;default:1"`
	Bonus      int64             `gorm:"column:bonus;not null;default:0"`

	StartAt          time.Time `gorm:"column:start_at;not null"`
	EndAt            time.Time `gorm:"column:end_at;not null"`
	ExpiresAfterDays *int      `gorm:"column:expires_after_days"`

	// Scoping: both nil means global.
	AppliesToGroupID  *uuid.UUID `gorm:"column:applies_to_group_id;type:uuid"`
	AppliesToUserCode *string    `gorm:"column:applies_to_user_code;type:text"`

	// Lower value wins when several promotions match. IsActive carries
	// no gorm default: false must round-trip as false (the SQL default
	// lives in the migration).
	Priority int  `gorm:"column:priority;not null;default:100"`
	IsActive bool `gorm:"column:is_active;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
