package models

import "time"

// UserBalance is the denormalized running balance per user. It is always
// recomputable from the ledger and is only ever written inside the same
// transaction as a ledger append; the row doubles as the per-user lock
// that serializes concurrent balance mutations.
type UserBalance struct {
	UserCode  string    `gorm:"column:user_code;type:text;primaryKey"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
