package promotions

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/creditcore/creditcore-backend/pkg/db/models"
	"github.com/creditcore/creditcore-backend/pkg/enums"
	pkgerrors "github.com/creditcore/creditcore-backend/pkg/errors"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// ListActiveForAction returns promotions whose window contains now and
	// whose action matches. Scope filtering happens in the resolver.
	ListActiveForAction(ctx context.Context, action enums.GrantAction, now time.Time) ([]models.Promotion, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) ListActiveForAction(ctx context.Context, action enums.GrantAction, now time.Time) ([]models.Promotion, error) {
	var promos []models.Promotion
	err := r.db.WithContext(ctx).
		Where("action = ? AND is_active = ?", action, true).
		Where("start_at <= ? AND end_at >= ?", now, now).
		Order("priority ASC, start_at DESC, id ASC").
		Find(&promos).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing active promotions")
	}
	return promos, nil
}
