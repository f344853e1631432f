package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	want := Cursor{
		CreatedAt: time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
		ID:        uuid.New(),
	}

	got, err := ParseCursor(EncodeCursor(want))
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"not-base64!", "bm90IGpzb24=", "e30="} {
		if _, err := ParseCursor(value); err == nil {
			t.Fatalf("expected error for cursor %q", value)
		}
	}
}

func TestParseCursorEmptyMeansFirstPage(t *testing.T) {
	t.Parallel()

	cursor, err := ParseCursor("   ")
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if cursor != nil {
		t.Fatalf("expected nil cursor, got %+v", cursor)
	}
}

func TestLimitBounds(t *testing.T) {
	t.Parallel()

	if got := NormalizeLimit(0); got != DefaultLimit {
		t.Fatalf("zero limit: got %d", got)
	}
	if got := NormalizeLimit(MaxLimit + 50); got != MaxLimit {
		t.Fatalf("over max: got %d", got)
	}
	if got := NormalizeLimit(7); got != 7 {
		t.Fatalf("in range: got %d", got)
	}
	if got := LimitWithBuffer(7); got != 8 {
		t.Fatalf("buffered: got %d", got)
	}
}
