package promotions

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/creditcore/creditcore-backend/pkg/db/models"
	"github.com/creditcore/creditcore-backend/pkg/enums"
	"github.com/creditcore/creditcore-backend/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:promotions_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Promotion{}); err != nil {
		t.Fatalf("migrate promotions: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo: NewRepository(db),
		Logg: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedPromo(t *testing.T, db *gorm.DB, promo models.Promotion) models.Promotion {
	t.Helper()
	if promo.ID == uuid.Nil {
		promo.ID = uuid.New()
	}
	if promo.Multiplier.IsZero() {
		promo.Multiplier = decimal.NewFromInt(1)
	}
	if err := db.Create(&promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}
	return promo
}

func TestResolveNoPromotions(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionDaily,
		BaseAmount: 100,
		UserCode:   "u-1",
		Now:        time.Now(),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Amount != 100 || res.PromoID != nil || res.ExpiresAt != nil {
		t.Fatalf("expected pass-through resolution, got %+v", res)
	}
}

func TestResolveAppliesMultiplierAndBonus(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()
	days := 7

	promo := seedPromo(t, db, models.Promotion{
		Name:             "double daily",
		Action:           enums.GrantActionDaily,
		Multiplier:       decimal.RequireFromString("2.5"),
		Bonus:            10,
		StartAt:          now.Add(-time.Hour),
		EndAt:            now.Add(time.Hour),
		ExpiresAfterDays: &days,
		IsActive:         true,
	})

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionDaily,
		BaseAmount: 100,
		UserCode:   "u-1",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Amount != 260 {
		t.Fatalf("expected amount 260, got %d", res.Amount)
	}
	if res.PromoID == nil || *res.PromoID != promo.ID {
		t.Fatalf("expected winning promo %s, got %+v", promo.ID, res.PromoID)
	}
	if res.ExpiresAt == nil || !res.ExpiresAt.Equal(now.Add(7*24*time.Hour)) {
		t.Fatalf("unexpected expiry: %+v", res.ExpiresAt)
	}
}

func TestResolveHalfRoundsToNearest(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()

	seedPromo(t, db, models.Promotion{
		Name:       "fractional",
		Action:     enums.GrantActionReferral,
		Multiplier: decimal.RequireFromString("1.5"),
		StartAt:    now.Add(-time.Hour),
		EndAt:      now.Add(time.Hour),
		IsActive:   true,
	})

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionReferral,
		BaseAmount: 5,
		UserCode:   "u-1",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Amount != 8 {
		t.Fatalf("expected 7.5 to round to 8, got %d", res.Amount)
	}
}

func TestResolveIgnoresInactiveAndOutOfWindow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()

	seedPromo(t, db, models.Promotion{
		Name:       "inactive",
		Action:     enums.GrantActionDaily,
		Multiplier: decimal.NewFromInt(10),
		StartAt:    now.Add(-time.Hour),
		EndAt:      now.Add(time.Hour),
		IsActive:   false,
	})
	seedPromo(t, db, models.Promotion{
		Name:       "expired window",
		Action:     enums.GrantActionDaily,
		Multiplier: decimal.NewFromInt(10),
		StartAt:    now.Add(-48 * time.Hour),
		EndAt:      now.Add(-24 * time.Hour),
		IsActive:   true,
	})

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionDaily,
		BaseAmount: 100,
		UserCode:   "u-1",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Amount != 100 || res.PromoID != nil {
		t.Fatalf("expected no promotion to apply, got %+v", res)
	}
}

func TestResolvePriorityWins(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()

	seedPromo(t, db, models.Promotion{
		Name:     "low priority",
		Action:   enums.GrantActionPurchase,
		Bonus:    500,
		Priority: 200,
		StartAt:  now.Add(-time.Hour),
		EndAt:    now.Add(time.Hour),
		IsActive: true,
	})
	winner := seedPromo(t, db, models.Promotion{
		Name:     "high priority",
		Action:   enums.GrantActionPurchase,
		Bonus:    25,
		Priority: 10,
		StartAt:  now.Add(-time.Hour),
		EndAt:    now.Add(time.Hour),
		IsActive: true,
	})

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionPurchase,
		BaseAmount: 100,
		UserCode:   "u-1",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.PromoID == nil || *res.PromoID != winner.ID {
		t.Fatalf("expected priority 10 promo to win, got %+v", res)
	}
	if res.Amount != 125 {
		t.Fatalf("expected amount 125, got %d", res.Amount)
	}
}

func TestResolveUserScopeBeatsGroupAndGlobal(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()
	groupID := uuid.New()
	userCode := "u-42"

	seedPromo(t, db, models.Promotion{
		Name:     "global",
		Action:   enums.GrantActionDaily,
		Bonus:    1,
		StartAt:  now.Add(-time.Hour),
		EndAt:    now.Add(time.Hour),
		IsActive: true,
	})
	seedPromo(t, db, models.Promotion{
		Name:             "group",
		Action:           enums.GrantActionDaily,
		Bonus:            2,
		AppliesToGroupID: &groupID,
		StartAt:          now.Add(-time.Hour),
		EndAt:            now.Add(time.Hour),
		IsActive:         true,
	})
	winner := seedPromo(t, db, models.Promotion{
		Name:              "user",
		Action:            enums.GrantActionDaily,
		Bonus:             3,
		AppliesToUserCode: &userCode,
		StartAt:           now.Add(-time.Hour),
		EndAt:             now.Add(time.Hour),
		IsActive:          true,
	})

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionDaily,
		BaseAmount: 100,
		UserCode:   userCode,
		GroupID:    &groupID,
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.PromoID == nil || *res.PromoID != winner.ID {
		t.Fatalf("expected user-scoped promo to win, got %+v", res)
	}
	if res.Amount != 103 {
		t.Fatalf("expected amount 103, got %d", res.Amount)
	}
}

func TestResolveScopeMismatchExcluded(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()
	otherUser := "u-other"
	otherGroup := uuid.New()

	seedPromo(t, db, models.Promotion{
		Name:              "someone else",
		Action:            enums.GrantActionDaily,
		Bonus:             100,
		AppliesToUserCode: &otherUser,
		StartAt:           now.Add(-time.Hour),
		EndAt:             now.Add(time.Hour),
		IsActive:          true,
	})
	seedPromo(t, db, models.Promotion{
		Name:             "other group",
		Action:           enums.GrantActionDaily,
		Bonus:            100,
		AppliesToGroupID: &otherGroup,
		StartAt:          now.Add(-time.Hour),
		EndAt:            now.Add(time.Hour),
		IsActive:         true,
	})

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionDaily,
		BaseAmount: 100,
		UserCode:   "u-1",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Amount != 100 || res.PromoID != nil {
		t.Fatalf("expected no match, got %+v", res)
	}
}

func TestResolveRecencyBreaksTies(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()

	seedPromo(t, db, models.Promotion{
		Name:     "older",
		Action:   enums.GrantActionDaily,
		Bonus:    10,
		Priority: 50,
		StartAt:  now.Add(-48 * time.Hour),
		EndAt:    now.Add(time.Hour),
		IsActive: true,
	})
	winner := seedPromo(t, db, models.Promotion{
		Name:     "newer",
		Action:   enums.GrantActionDaily,
		Bonus:    20,
		Priority: 50,
		StartAt:  now.Add(-time.Hour),
		EndAt:    now.Add(time.Hour),
		IsActive: true,
	})

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionDaily,
		BaseAmount: 100,
		UserCode:   "u-1",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.PromoID == nil || *res.PromoID != winner.ID {
		t.Fatalf("expected most recent start to win, got %+v", res)
	}
}

func TestResolveExactTieFallsBackToBase(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()
	start := now.Add(-time.Hour).Truncate(time.Second)

	for _, name := range []string{"twin a", "twin b"} {
		seedPromo(t, db, models.Promotion{
			Name:     name,
			Action:   enums.GrantActionDaily,
			Bonus:    10,
			Priority: 50,
			StartAt:  start,
			EndAt:    now.Add(time.Hour),
			IsActive: true,
		})
	}

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionDaily,
		BaseAmount: 100,
		UserCode:   "u-1",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Amount != 100 || res.PromoID != nil {
		t.Fatalf("expected base fallback on exact tie, got %+v", res)
	}
}

func TestResolveNegativeResultFallsBackToBase(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	now := time.Now()

	seedPromo(t, db, models.Promotion{
		Name:     "misconfigured",
		Action:   enums.GrantActionAdjustment,
		Bonus:    -500,
		StartAt:  now.Add(-time.Hour),
		EndAt:    now.Add(time.Hour),
		IsActive: true,
	})

	res, err := svc.Resolve(context.Background(), ResolveInput{
		Action:     enums.GrantActionAdjustment,
		BaseAmount: 100,
		UserCode:   "u-1",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Amount != 100 || res.PromoID != nil {
		t.Fatalf("expected base fallback on negative result, got %+v", res)
	}
}
