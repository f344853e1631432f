package credits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/creditcore/creditcore-backend/pkg/db/models"
	"github.com/creditcore/creditcore-backend/pkg/enums"
	pkgerrors "github.com/creditcore/creditcore-backend/pkg/errors"
	"github.com/creditcore/creditcore-backend/pkg/pagination"
)

func appendEntry(t *testing.T, db *gorm.DB, entry models.LedgerEntry) models.LedgerEntry {
	t.Helper()
	repo := NewRepository(db)
	require.NoError(t, repo.Append(context.Background(), &entry))
	return entry
}

func TestRepositoryAppendDuplicateRefKindConflicts(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1",
		Kind:     enums.LedgerEntryKindHold,
		Ref:      "job-1",
		Amount:   5,
	})

	dup := models.LedgerEntry{
		UserCode: "u1",
		Kind:     enums.LedgerEntryKindHold,
		Ref:      "job-1",
		Amount:   9,
	}
	err := repo.Append(ctx, &dup)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	// Same ref under a different kind is a distinct claim.
	capture := models.LedgerEntry{
		UserCode: "u1",
		Kind:     enums.LedgerEntryKindCapture,
		Ref:      "job-1",
		Delta:    -5,
		Amount:   5,
	}
	require.NoError(t, repo.Append(ctx, &capture))
}

func TestRepositoryOpenHoldTotalExcludesSettledHolds(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindHold, Ref: "open", Amount: 5,
	})

	captured := appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindHold, Ref: "captured", Amount: 10,
	})
	appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindCapture, Ref: "captured",
		Delta: -10, Amount: 10, SourceEntryID: &captured.ID,
	})

	voided := appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindHold, Ref: "voided", Amount: 7,
	})
	appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindVoid, Ref: "voided",
		Amount: 7, SourceEntryID: &voided.ID,
	})

	// Another user's open hold must not bleed into the total.
	appendEntry(t, db, models.LedgerEntry{
		UserCode: "u2", Kind: enums.LedgerEntryKindHold, Ref: "open", Amount: 99,
	})

	total, err := repo.OpenHoldTotal(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestRepositoryListExpiredGrantsFiltersReversedAndLive(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	expiredAt := func(d time.Duration) *time.Time {
		at := now.Add(d)
		return &at
	}

	oldest := appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindGrant, Ref: "oldest",
		Delta: 10, Amount: 10, ExpiresAt: expiredAt(-48 * time.Hour),
	})
	newer := appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindGrant, Ref: "newer",
		Delta: 10, Amount: 10, ExpiresAt: expiredAt(-1 * time.Hour),
	})
	appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindGrant, Ref: "live",
		Delta: 10, Amount: 10, ExpiresAt: expiredAt(24 * time.Hour),
	})
	appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindGrant, Ref: "perpetual",
		Delta: 10, Amount: 10,
	})

	reversed := appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindGrant, Ref: "reversed",
		Delta: 10, Amount: 10, ExpiresAt: expiredAt(-24 * time.Hour),
	})
	appendEntry(t, db, models.LedgerEntry{
		UserCode: "u1", Kind: enums.LedgerEntryKindExpiryReversal, Ref: "reversed",
		Delta: -10, Amount: 10, SourceEntryID: &reversed.ID,
	})

	grants, err := repo.ListExpiredGrants(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, oldest.ID, grants[0].ID)
	assert.Equal(t, newer.ID, grants[1].ID)

	limited, err := repo.ListExpiredGrants(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, oldest.ID, limited[0].ID)
}

func TestRepositoryLockBalanceSeedsZeroRow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	missing, err := repo.FindBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	balance, err := repo.LockBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Balance)

	balance.Balance = 45
	require.NoError(t, repo.SaveBalance(ctx, balance))

	// Re-locking must return the saved value, not reseed to zero.
	relocked, err := repo.LockBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(45), relocked.Balance)
}

func TestRepositoryListForUserCursorTieBreaksOnID(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Second)

	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		uuid.MustParse("00000000-0000-0000-0000-000000000003"),
	}
	for i, id := range ids {
		appendEntry(t, db, models.LedgerEntry{
			ID:        id,
			UserCode:  "u1",
			Kind:      enums.LedgerEntryKindGrant,
			Ref:       "grant-" + id.String(),
			Delta:     int64(i + 1),
			Amount:    int64(i + 1),
			CreatedAt: at,
		})
	}

	first, err := repo.ListForUser(ctx, "u1", 2, nil)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[2], first[0].ID)
	assert.Equal(t, ids[1], first[1].ID)

	rest, err := repo.ListForUser(ctx, "u1", 2, &pagination.Cursor{
		CreatedAt: first[1].CreatedAt,
		ID:        first[1].ID,
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)
}
