package promotions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditcore/creditcore-backend/pkg/db/models"
	"github.com/creditcore/creditcore-backend/pkg/enums"
	"github.com/creditcore/creditcore-backend/pkg/logger"
)

// Scope specificity ranks for tie-breaking. A user-targeted promotion
// beats a group-targeted one, which beats a global one.
const (
	scopeUser   = 0
	scopeGroup  = 1
	scopeGlobal = 2
)

type ResolveInput struct {
	Action     enums.GrantAction
	BaseAmount int64
	UserCode   string
	GroupID    *uuid.UUID
	Now        time.Time
}

// Resolution is the outcome of promotion matching. When no promotion
// applies (or matching is ambiguous) Amount equals the base amount and
// PromoID stays nil.
type Resolution struct {
	Amount    int64
	PromoID   *uuid.UUID
	ExpiresAt *time.Time
}

type Service interface {
	// Resolve picks the single winning promotion for the input and
	// computes the final grant amount. Malformed or ambiguous promotion
	// configuration degrades to the base amount instead of failing the
	// grant; only storage errors bubble up.
	Resolve(ctx context.Context, input ResolveInput) (Resolution, error)
}

type ServiceParams struct {
	Repo Repository
	Logg *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("promotions service requires a repository")
	}
	if params.Logg == nil {
		return nil, fmt.Errorf("promotions service requires a logger")
	}
	return &service{repo: params.Repo, logg: params.Logg}, nil
}

func (s *service) Resolve(ctx context.Context, input ResolveInput) (Resolution, error) {
	base := Resolution{Amount: input.BaseAmount}

	promos, err := s.repo.ListActiveForAction(ctx, input.Action, input.Now)
	if err != nil {
		return base, err
	}

	candidates := make([]models.Promotion, 0, len(promos))
	for _, promo := range promos {
		if matchesScope(promo, input.UserCode, input.GroupID) {
			candidates = append(candidates, promo)
		}
	}
	if len(candidates) == 0 {
		return base, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		ra, rb := scopeRank(a), scopeRank(b)
		if ra != rb {
			return ra < rb
		}
		return a.StartAt.After(b.StartAt)
	})

	winner := candidates[0]
	if len(candidates) > 1 && tied(winner, candidates[1]) {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"action":   input.Action,
			"promo_a":  winner.ID.String(),
			"promo_b":  candidates[1].ID.String(),
			"priority": winner.Priority,
		})
		s.logg.Warn(ctx, "ambiguous promotion tie, granting base amount")
		return base, nil
	}

	amount := applyPromotion(input.BaseAmount, winner)
	if amount < 0 {
		ctx = s.logg.WithField(ctx, "promo_id", winner.ID.String())
		s.logg.Warn(ctx, "promotion resolved to a negative amount, granting base amount")
		return base, nil
	}

	resolution := Resolution{Amount: amount, PromoID: &winner.ID}
	if winner.ExpiresAfterDays != nil {
		expiresAt := input.Now.Add(time.Duration(*winner.ExpiresAfterDays) * 24 * time.Hour)
		resolution.ExpiresAt = &expiresAt
	}
	return resolution, nil
}

func matchesScope(promo models.Promotion, userCode string, groupID *uuid.UUID) bool {
	switch {
	case promo.AppliesToUserCode != nil:
		return *promo.AppliesToUserCode == userCode
	case promo.AppliesToGroupID != nil:
		return groupID != nil && *promo.AppliesToGroupID == *groupID
	default:
		return true
	}
}

func scopeRank(promo models.Promotion) int {
	switch {
	case promo.AppliesToUserCode != nil:
		return scopeUser
	case promo.AppliesToGroupID != nil:
		return scopeGroup
	default:
		return scopeGlobal
	}
}

func tied(a, b models.Promotion) bool {
	return a.Priority == b.Priority &&
		scopeRank(a) == scopeRank(b) &&
		a.StartAt.Equal(b.StartAt)
}

func applyPromotion(base int64, promo models.Promotion) int64 {
	boosted := decimal.NewFromInt(base).
		Mul(promo.Multiplier).
		Round(0).
		IntPart()
	return boosted + promo.Bonus
}
