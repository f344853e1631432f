package credits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/creditcore/creditcore-backend/pkg/db"
	"github.com/creditcore/creditcore-backend/pkg/db/models"
	"github.com/creditcore/creditcore-backend/pkg/enums"
	pkgerrors "github.com/creditcore/creditcore-backend/pkg/errors"
	"github.com/creditcore/creditcore-backend/pkg/pagination"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// Append inserts one ledger entry. A unique violation on the
	// (user_code, ref, kind) index surfaces as a conflict error so the
	// service can resolve the replay.
	Append(ctx context.Context, entry *models.LedgerEntry) error

	FindByRefKind(ctx context.Context, userCode, ref string, kind enums.LedgerEntryKind) (*models.LedgerEntry, error)

	// LockBalance loads the per-user balance row for update, creating it
	// at zero on first touch. Must run inside a transaction; on Postgres
	// the row is locked with FOR UPDATE so concurrent mutations serialize.
	LockBalance(ctx context.Context, userCode string) (*models.UserBalance, error)

	SaveBalance(ctx context.Context, balance *models.UserBalance) error

	// FindBalance reads the balance row without locking or creating it.
	// Returns nil when the user has no ledger history yet.
	FindBalance(ctx context.Context, userCode string) (*models.UserBalance, error)

	// OpenHoldTotal sums the reserved amount of holds that have neither a
	// capture nor a void entry sharing their ref.
	OpenHoldTotal(ctx context.Context, userCode string) (int64, error)

	SumDeltas(ctx context.Context, userCode string) (int64, error)

	ListForUser(ctx context.Context, userCode string, limit int, cursor *pagination.Cursor) ([]models.LedgerEntry, error)

	// ListExpiredGrants returns grants whose expiry has passed and for
	// which no reversal entry exists yet, oldest expiry first.
	ListExpiredGrants(ctx context.Context, now time.Time, limit int) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) Repository {
	return &repository{db: gdb}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "ledger entry already exists")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "appending ledger entry")
	}
	return nil
}

func (r *repository) FindByRefKind(ctx context.Context, userCode, ref string, kind enums.LedgerEntryKind) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_code = ? AND ref = ? AND kind = ?", userCode, ref, kind).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading ledger entry")
	}
	return &entry, nil
}

func (r *repository) LockBalance(ctx context.Context, userCode string) (*models.UserBalance, error) {
	seed := models.UserBalance{UserCode: userCode}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seeding balance row")
	}

	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var balance models.UserBalance
	if err := query.First(&balance, "user_code = ?", userCode).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "locking balance row")
	}
	return &balance, nil
}

func (r *repository) SaveBalance(ctx context.Context, balance *models.UserBalance) error {
	err := r.db.WithContext(ctx).
		Model(&models.UserBalance{}).
		Where("user_code = ?", balance.UserCode).
		Updates(map[string]any{
			"balance":    balance.Balance,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving balance row")
	}
	return nil
}

func (r *repository) FindBalance(ctx context.Context, userCode string) (*models.UserBalance, error) {
	var balance models.UserBalance
	err := r.db.WithContext(ctx).First(&balance, "user_code = ?", userCode).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading balance row")
	}
	return &balance, nil
}

func (r *repository) OpenHoldTotal(ctx context.Context, userCode string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("user_code = ? AND kind = ?", userCode, enums.LedgerEntryKindHold).
		Where(`NOT EXISTS (
			SELECT 1 FROM ledger_entries settled
			WHERE settled.user_code = ledger_entries.user_code
			  AND settled.ref = ledger_entries.ref
			  AND settled.kind IN ?
		)`, []enums.LedgerEntryKind{enums.LedgerEntryKindCapture, enums.LedgerEntryKindVoid}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "summing open holds")
	}
	return total, nil
}

func (r *repository) SumDeltas(ctx context.Context, userCode string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("user_code = ?", userCode).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "summing ledger deltas")
	}
	return total, nil
}

func (r *repository) ListForUser(ctx context.Context, userCode string, limit int, cursor *pagination.Cursor) ([]models.LedgerEntry, error) {
	query := r.db.WithContext(ctx).
		Where("user_code = ?", userCode).
		Order("created_at DESC, id DESC").
		Limit(limit)

	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var entries []models.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing ledger entries")
	}
	return entries, nil
}

func (r *repository) ListExpiredGrants(ctx context.Context, now time.Time, limit int) ([]models.LedgerEntry, error) {
	var grants []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("kind = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.LedgerEntryKindGrant, now).
		Where(`NOT EXISTS (
			SELECT 1 FROM ledger_entries reversal
			WHERE reversal.source_entry_id = ledger_entries.id
		)`).
		Order("expires_at ASC").
		Limit(limit).
		Find(&grants).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing expired grants")
	}
	return grants, nil
}
