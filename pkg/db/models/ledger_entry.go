package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/creditcore/creditcore-backend/pkg/enums"
)

// LedgerEntry records one immutable, signed credit movement for a user.
// Rows are append-only; corrections land as new offsetting entries.
//
// The composite unique index on (user_code, ref, kind) is the idempotency
// claim: a retried operation collides there instead of writing twice. The
// unique index on source_entry_id keeps expiry reversals single-fire.
type LedgerEntry struct {
	ID       uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserCode string                `gorm:"column:user_code;type:text;not null;index:idx_ledger_user_created;uniqueIndex:uq_ledger_user_ref_kind"`
	Delta    int64                 `gorm:"column:delta;not null"`
	Kind     enums.LedgerEntryKind `gorm:"column:kind;type:text;not null;uniqueIndex:uq_ledger_user_ref_kind"`
	Ref      string                `gorm:"column:ref;type:text;not null;uniqueIndex:uq_ledger_user_ref_kind"`

	// Amount is the caller-requested amount: the reserved amount for a
	// hold (whose Delta stays zero), the base amount for a grant (Delta
	// carries the promotion-resolved total), the captured amount for a
	// capture/debit. Replays compare against it to detect ref reuse with
	// different parameters.
	Amount int64 `gorm:"column:amount;not null"`

	PromoID       *uuid.UUID `gorm:"column:promo_id;type:uuid"`
	SourceEntryID *uuid.UUID `gorm:"column:source_entry_id;type:uuid;uniqueIndex:uq_ledger_source_entry"`
	ExpiresAt     *time.Time `gorm:"column:expires_at"`

	// BalanceAfter snapshots the running balance immediately after this
	// entry. It always equals the sum of deltas up to and including this
	// row for the user.
	BalanceAfter int64     `gorm:"column:balance_after;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime;index:idx_ledger_user_created"`
}
