package credits

import (
	"time"

	"github.com/google/uuid"

	"github.com/creditcore/creditcore-backend/pkg/enums"
)

// Operation statuses returned to callers. Replay statuses carry the
// original outcome so retries are indistinguishable from first calls.
const (
	StatusNew      = "new"
	StatusExists   = "exists"
	StatusCaptured = "captured"
	StatusVoided   = "voided"
	StatusGranted  = "granted"
	StatusReplayed = "replayed"
)

type AuthorizeInput struct {
	UserCode string
	Amount   int64
	Ref      string
}

type AuthorizeResult struct {
	Status    string    `json:"status"`
	HoldID    uuid.UUID `json:"hold_id"`
	Balance   int64     `json:"balance"`
	Available int64     `json:"available"`
}

type CaptureInput struct {
	UserCode string
	Amount   int64
	Ref      string
}

type CaptureResult struct {
	Status  string `json:"status"`
	Balance int64  `json:"balance"`
}

type VoidInput struct {
	UserCode string
	Ref      string
}

type VoidResult struct {
	Status  string `json:"status"`
	Balance int64  `json:"balance"`
}

type GrantInput struct {
	UserCode   string
	Action     enums.GrantAction
	BaseAmount int64
	Ref        string
	GroupID    *uuid.UUID
}

type GrantResult struct {
	Status    string     `json:"status"`
	EntryID   uuid.UUID  `json:"entry_id"`
	Amount    int64      `json:"amount"`
	PromoID   *uuid.UUID `json:"promo_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Balance   int64      `json:"balance"`
}

type BalanceResult struct {
	UserCode  string `json:"user_code"`
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
}

type Entry struct {
	ID            uuid.UUID             `json:"id"`
	Delta         int64                 `json:"delta"`
	Kind          enums.LedgerEntryKind `json:"kind"`
	Ref           string                `json:"ref"`
	Amount        int64                 `json:"amount"`
	PromoID       *uuid.UUID            `json:"promo_id,omitempty"`
	SourceEntryID *uuid.UUID            `json:"source_entry_id,omitempty"`
	ExpiresAt     *time.Time            `json:"expires_at,omitempty"`
	BalanceAfter  int64                 `json:"balance_after"`
	CreatedAt     time.Time             `json:"created_at"`
}

type EntryPage struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// SweepResult summarizes one expiry reconciliation pass.
type SweepResult struct {
	Scanned  int
	Reversed int
	Failed   int
}
