package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is the page size when the caller does not provide one.
	DefaultLimit = 25
	// MaxLimit caps how many ledger rows a single page can request.
	MaxLimit = 100
)

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the ledger page key: entries are ordered newest-first by
// (created_at, id), and the cursor points at the last row of the
// previous page. It travels as base64-encoded JSON so the wire format
// survives field additions.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

// NormalizeLimit clamps the requested limit into [1, MaxLimit],
// substituting DefaultLimit for zero or negative values.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer returns the normalized limit plus one sentinel row so
// the caller can tell whether another page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor serializes the page key for use as a query parameter.
func EncodeCursor(cursor Cursor) string {
	payload, err := json.Marshal(cursor)
	if err != nil {
		// Cursor has no unmarshalable fields; this cannot happen.
		return ""
	}
	return base64.URLEncoding.EncodeToString(payload)
}

// ParseCursor decodes a cursor produced by EncodeCursor. An empty value
// means the first page and yields a nil cursor.
func ParseCursor(value string) (*Cursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return nil, fmt.Errorf("parse cursor: %w", err)
	}
	if cursor.CreatedAt.IsZero() || cursor.ID == uuid.Nil {
		return nil, fmt.Errorf("cursor is missing its page key")
	}
	return &cursor, nil
}
