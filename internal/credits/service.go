package credits

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/creditcore/creditcore-backend/internal/promotions"
	"github.com/creditcore/creditcore-backend/pkg/db/models"
	"github.com/creditcore/creditcore-backend/pkg/enums"
	pkgerrors "github.com/creditcore/creditcore-backend/pkg/errors"
	"github.com/creditcore/creditcore-backend/pkg/logger"
	"github.com/creditcore/creditcore-backend/pkg/metrics"
	"github.com/creditcore/creditcore-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the credit engine: an append-only ledger with a running
// balance per user, mutated through grants, two-phase holds and direct
// debits. Every mutating call is idempotent on its caller-supplied ref.
type Service interface {
	Authorize(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error)
	Capture(ctx context.Context, input CaptureInput) (*CaptureResult, error)
	Void(ctx context.Context, input VoidInput) (*VoidResult, error)
	Grant(ctx context.Context, input GrantInput) (*GrantResult, error)
	GetBalance(ctx context.Context, userCode string) (*BalanceResult, error)
	ListEntries(ctx context.Context, userCode string, params pagination.Params) (*EntryPage, error)

	// RunExpirySweep reverses expired, unconsumed grants in batches. Safe
	// to invoke repeatedly; each grant is reversed at most once.
	RunExpirySweep(ctx context.Context) (*SweepResult, error)
}

type ServiceParams struct {
	Repo           Repository
	Tx             txRunner
	Promotions     promotions.Service
	Logg           *logger.Logger
	Metrics        *metrics.CreditOpMetrics
	MaxGrantAmount int64
	SweepBatchSize int

	// ReplayReadDelay is how long the loser of a same-ref race waits
	// before reading the winner's committed result.
	ReplayReadDelay time.Duration
	Now             func() time.Time
}

type service struct {
	repo            Repository
	tx              txRunner
	promos          promotions.Service
	logg            *logger.Logger
	metrics         *metrics.CreditOpMetrics
	maxGrantAmount  int64
	sweepBatchSize  int
	replayReadDelay time.Duration
	now             func() time.Time
}

const (
	defaultMaxGrantAmount  = 1_000_000
	defaultSweepBatchSize  = 100
	defaultReplayReadDelay = 50 * time.Millisecond
)

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credits service requires a repository")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("credits service requires a transaction runner")
	}
	if params.Promotions == nil {
		return nil, fmt.Errorf("credits service requires a promotion resolver")
	}
	if params.Logg == nil {
		return nil, fmt.Errorf("credits service requires a logger")
	}
	if params.MaxGrantAmount <= 0 {
		params.MaxGrantAmount = defaultMaxGrantAmount
	}
	if params.SweepBatchSize <= 0 {
		params.SweepBatchSize = defaultSweepBatchSize
	}
	if params.ReplayReadDelay <= 0 {
		params.ReplayReadDelay = defaultReplayReadDelay
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:            params.Repo,
		tx:              params.Tx,
		promos:          params.Promotions,
		logg:            params.Logg,
		metrics:         params.Metrics,
		maxGrantAmount:  params.MaxGrantAmount,
		sweepBatchSize:  params.SweepBatchSize,
		replayReadDelay: params.ReplayReadDelay,
		now:             params.Now,
	}, nil
}

func (s *service) Authorize(ctx context.Context, input AuthorizeInput) (result *AuthorizeResult, err error) {
	defer s.observe("authorize", time.Now())(&err)

	if verr := validateOp(input.UserCode, input.Ref, input.Amount); verr != nil {
		return nil, verr
	}
	ctx = s.logg.WithRef(s.logg.WithUserCode(ctx, input.UserCode), input.Ref)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		balance, lerr := repo.LockBalance(ctx, input.UserCode)
		if lerr != nil {
			return lerr
		}

		existing, ferr := repo.FindByRefKind(ctx, input.UserCode, input.Ref, enums.LedgerEntryKindHold)
		if ferr != nil {
			return ferr
		}
		if existing != nil {
			result, ferr = s.replayAuthorize(ctx, repo, existing, input, balance.Balance)
			return ferr
		}

		// A ref settled by a direct debit never had a hold; authorizing
		// it now would create a hold no capture or void can ever reach.
		settled, serr := s.findSettlement(ctx, repo, input.UserCode, input.Ref)
		if serr != nil {
			return serr
		}
		if settled != nil {
			return pkgerrors.New(pkgerrors.CodeIdempotency, "ref already settled by a prior operation").
				WithDetails(map[string]any{"kind": string(settled.Kind)})
		}

		openHolds, herr := repo.OpenHoldTotal(ctx, input.UserCode)
		if herr != nil {
			return herr
		}
		available := balance.Balance - openHolds
		if available < input.Amount {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "available balance below requested hold").
				WithDetails(map[string]any{"available": available, "requested": input.Amount})
		}

		entry := &models.LedgerEntry{
			UserCode:     input.UserCode,
			Delta:        0,
			Kind:         enums.LedgerEntryKindHold,
			Ref:          input.Ref,
			Amount:       input.Amount,
			BalanceAfter: balance.Balance,
		}
		if aerr := repo.Append(ctx, entry); aerr != nil {
			return aerr
		}

		result = &AuthorizeResult{
			Status:    StatusNew,
			HoldID:    entry.ID,
			Balance:   balance.Balance,
			Available: available - input.Amount,
		}
		return nil
	})
	if err != nil {
		if isIdempotencyRace(err) {
			return s.retryAuthorizeRead(ctx, input)
		}
		return nil, err
	}
	if result.Status == StatusExists {
		s.metrics.IncReplay("authorize")
	}
	return result, nil
}

func (s *service) replayAuthorize(ctx context.Context, repo Repository, existing *models.LedgerEntry, input AuthorizeInput, balance int64) (*AuthorizeResult, error) {
	if existing.Amount != input.Amount {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "authorize ref replayed with a different amount").
			WithDetails(map[string]any{"original": existing.Amount, "requested": input.Amount})
	}
	openHolds, err := repo.OpenHoldTotal(ctx, input.UserCode)
	if err != nil {
		return nil, err
	}
	return &AuthorizeResult{
		Status:    StatusExists,
		HoldID:    existing.ID,
		Balance:   balance,
		Available: balance - openHolds,
	}, nil
}

// retryAuthorizeRead resolves the loser of a same-ref race: the winner's
// hold row committed first, so after a short pause the replay read
// observes it.
func (s *service) retryAuthorizeRead(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error) {
	time.Sleep(s.replayReadDelay)

	existing, err := s.repo.FindByRefKind(ctx, input.UserCode, input.Ref, enums.LedgerEntryKindHold)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "hold claim conflicted but winner not visible")
	}
	balance, err := s.currentBalance(ctx, input.UserCode)
	if err != nil {
		return nil, err
	}
	result, err := s.replayAuthorize(ctx, s.repo, existing, input, balance)
	if err != nil {
		return nil, err
	}
	s.metrics.IncReplay("authorize")
	return result, nil
}

func (s *service) Capture(ctx context.Context, input CaptureInput) (result *CaptureResult, err error) {
	defer s.observe("capture", time.Now())(&err)

	if verr := validateOp(input.UserCode, input.Ref, input.Amount); verr != nil {
		return nil, verr
	}
	ctx = s.logg.WithRef(s.logg.WithUserCode(ctx, input.UserCode), input.Ref)

	replayed := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		balance, lerr := repo.LockBalance(ctx, input.UserCode)
		if lerr != nil {
			return lerr
		}

		settled, serr := s.findSettlement(ctx, repo, input.UserCode, input.Ref)
		if serr != nil {
			return serr
		}
		if settled != nil {
			result, serr = replayCaptureSettlement(settled, input.Amount)
			replayed = serr == nil
			return serr
		}

		hold, herr := repo.FindByRefKind(ctx, input.UserCode, input.Ref, enums.LedgerEntryKindHold)
		if herr != nil {
			return herr
		}

		if hold != nil {
			result, herr = s.captureHold(ctx, repo, balance, hold, input)
			return herr
		}
		result, herr = s.directDebit(ctx, repo, balance, input)
		return herr
	})
	if err != nil {
		if isIdempotencyRace(err) {
			return s.retryCaptureRead(ctx, input)
		}
		return nil, err
	}
	if replayed {
		s.metrics.IncReplay("capture")
	}
	return result, nil
}

// findSettlement loads whichever terminal entry already settled the ref:
// a capture of a hold, a direct debit, or a void.
func (s *service) findSettlement(ctx context.Context, repo Repository, userCode, ref string) (*models.LedgerEntry, error) {
	for _, kind := range []enums.LedgerEntryKind{
		enums.LedgerEntryKindCapture,
		enums.LedgerEntryKindDebit,
		enums.LedgerEntryKindVoid,
	} {
		entry, err := repo.FindByRefKind(ctx, userCode, ref, kind)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

func replayCaptureSettlement(settled *models.LedgerEntry, amount int64) (*CaptureResult, error) {
	if settled.Kind == enums.LedgerEntryKindVoid {
		// Hold already released; the capture is a no-op reporting the
		// void's outcome rather than an error.
		return &CaptureResult{Status: StatusVoided, Balance: settled.BalanceAfter}, nil
	}
	if settled.Amount != amount {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "capture ref replayed with a different amount").
			WithDetails(map[string]any{"original": settled.Amount, "requested": amount})
	}
	return &CaptureResult{Status: StatusReplayed, Balance: settled.BalanceAfter}, nil
}

func (s *service) captureHold(ctx context.Context, repo Repository, balance *models.UserBalance, hold *models.LedgerEntry, input CaptureInput) (*CaptureResult, error) {
	if input.Amount > hold.Amount {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "capture amount exceeds held amount").
			WithDetails(map[string]any{"held": hold.Amount, "requested": input.Amount})
	}

	newBalance := balance.Balance - input.Amount
	if newBalance < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "capture would drive balance negative").
			WithDetails(map[string]any{"balance": balance.Balance, "requested": input.Amount})
	}

	entry := &models.LedgerEntry{
		UserCode:      input.UserCode,
		Delta:         -input.Amount,
		Kind:          enums.LedgerEntryKindCapture,
		Ref:           input.Ref,
		Amount:        input.Amount,
		SourceEntryID: &hold.ID,
		BalanceAfter:  newBalance,
	}
	if err := repo.Append(ctx, entry); err != nil {
		return nil, err
	}

	balance.Balance = newBalance
	if err := repo.SaveBalance(ctx, balance); err != nil {
		return nil, err
	}
	return &CaptureResult{Status: StatusCaptured, Balance: newBalance}, nil
}

// directDebit settles a capture that never had an authorize: it still
// claims the ref and honors the non-negative availability check.
func (s *service) directDebit(ctx context.Context, repo Repository, balance *models.UserBalance, input CaptureInput) (*CaptureResult, error) {
	openHolds, err := repo.OpenHoldTotal(ctx, input.UserCode)
	if err != nil {
		return nil, err
	}
	available := balance.Balance - openHolds
	if available < input.Amount {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "available balance below requested debit").
			WithDetails(map[string]any{"available": available, "requested": input.Amount})
	}

	newBalance := balance.Balance - input.Amount
	entry := &models.LedgerEntry{
		UserCode:     input.UserCode,
		Delta:        -input.Amount,
		Kind:         enums.LedgerEntryKindDebit,
		Ref:          input.Ref,
		Amount:       input.Amount,
		BalanceAfter: newBalance,
	}
	if err := repo.Append(ctx, entry); err != nil {
		return nil, err
	}

	balance.Balance = newBalance
	if err := repo.SaveBalance(ctx, balance); err != nil {
		return nil, err
	}
	return &CaptureResult{Status: StatusCaptured, Balance: newBalance}, nil
}

func (s *service) retryCaptureRead(ctx context.Context, input CaptureInput) (*CaptureResult, error) {
	time.Sleep(s.replayReadDelay)

	settled, err := s.findSettlement(ctx, s.repo, input.UserCode, input.Ref)
	if err != nil {
		return nil, err
	}
	if settled == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "capture claim conflicted but winner not visible")
	}
	result, err := replayCaptureSettlement(settled, input.Amount)
	if err != nil {
		return nil, err
	}
	s.metrics.IncReplay("capture")
	return result, nil
}

func (s *service) Void(ctx context.Context, input VoidInput) (result *VoidResult, err error) {
	defer s.observe("void", time.Now())(&err)

	if input.UserCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user code is required")
	}
	if input.Ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ref is required")
	}
	ctx = s.logg.WithRef(s.logg.WithUserCode(ctx, input.UserCode), input.Ref)

	replayed := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		balance, lerr := repo.LockBalance(ctx, input.UserCode)
		if lerr != nil {
			return lerr
		}

		settled, serr := s.findSettlement(ctx, repo, input.UserCode, input.Ref)
		if serr != nil {
			return serr
		}
		if settled != nil {
			result = replayVoidSettlement(settled)
			replayed = true
			return nil
		}

		hold, herr := repo.FindByRefKind(ctx, input.UserCode, input.Ref, enums.LedgerEntryKindHold)
		if herr != nil {
			return herr
		}
		if hold == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no hold found for ref")
		}

		entry := &models.LedgerEntry{
			UserCode:      input.UserCode,
			Delta:         0,
			Kind:          enums.LedgerEntryKindVoid,
			Ref:           input.Ref,
			Amount:        hold.Amount,
			SourceEntryID: &hold.ID,
			BalanceAfter:  balance.Balance,
		}
		if aerr := repo.Append(ctx, entry); aerr != nil {
			return aerr
		}

		result = &VoidResult{Status: StatusVoided, Balance: balance.Balance}
		return nil
	})
	if err != nil {
		if isIdempotencyRace(err) {
			return s.retryVoidRead(ctx, input)
		}
		return nil, err
	}
	if replayed {
		s.metrics.IncReplay("void")
	}
	return result, nil
}

func replayVoidSettlement(settled *models.LedgerEntry) *VoidResult {
	if settled.Kind == enums.LedgerEntryKindVoid {
		return &VoidResult{Status: StatusReplayed, Balance: settled.BalanceAfter}
	}
	// Already captured or debited; voiding afterwards reports the
	// capture's outcome instead of crediting the user back.
	return &VoidResult{Status: StatusCaptured, Balance: settled.BalanceAfter}
}

func (s *service) retryVoidRead(ctx context.Context, input VoidInput) (*VoidResult, error) {
	time.Sleep(s.replayReadDelay)

	settled, err := s.findSettlement(ctx, s.repo, input.UserCode, input.Ref)
	if err != nil {
		return nil, err
	}
	if settled == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "void claim conflicted but winner not visible")
	}
	s.metrics.IncReplay("void")
	return replayVoidSettlement(settled), nil
}

func (s *service) Grant(ctx context.Context, input GrantInput) (result *GrantResult, err error) {
	defer s.observe("grant", time.Now())(&err)

	if verr := validateOp(input.UserCode, input.Ref, input.BaseAmount); verr != nil {
		return nil, verr
	}
	if !input.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid grant action %q", input.Action))
	}
	if input.BaseAmount > s.maxGrantAmount {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grant amount exceeds the allowed maximum").
			WithDetails(map[string]any{"max": s.maxGrantAmount, "requested": input.BaseAmount})
	}
	ctx = s.logg.WithRef(s.logg.WithUserCode(ctx, input.UserCode), input.Ref)

	resolution, err := s.promos.Resolve(ctx, promotions.ResolveInput{
		Action:     input.Action,
		BaseAmount: input.BaseAmount,
		UserCode:   input.UserCode,
		GroupID:    input.GroupID,
		Now:        s.now(),
	})
	if err != nil {
		return nil, err
	}

	replayed := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		balance, lerr := repo.LockBalance(ctx, input.UserCode)
		if lerr != nil {
			return lerr
		}

		existing, ferr := repo.FindByRefKind(ctx, input.UserCode, input.Ref, enums.LedgerEntryKindGrant)
		if ferr != nil {
			return ferr
		}
		if existing != nil {
			result, ferr = replayGrant(existing, input.BaseAmount)
			replayed = ferr == nil
			return ferr
		}

		newBalance := balance.Balance + resolution.Amount
		entry := &models.LedgerEntry{
			UserCode:     input.UserCode,
			Delta:        resolution.Amount,
			Kind:         enums.LedgerEntryKindGrant,
			Ref:          input.Ref,
			Amount:       input.BaseAmount,
			PromoID:      resolution.PromoID,
			ExpiresAt:    resolution.ExpiresAt,
			BalanceAfter: newBalance,
		}
		if aerr := repo.Append(ctx, entry); aerr != nil {
			return aerr
		}

		balance.Balance = newBalance
		if serr := repo.SaveBalance(ctx, balance); serr != nil {
			return serr
		}

		result = &GrantResult{
			Status:    StatusGranted,
			EntryID:   entry.ID,
			Amount:    resolution.Amount,
			PromoID:   resolution.PromoID,
			ExpiresAt: resolution.ExpiresAt,
			Balance:   newBalance,
		}
		return nil
	})
	if err != nil {
		if isIdempotencyRace(err) {
			return s.retryGrantRead(ctx, input)
		}
		return nil, err
	}
	if replayed {
		s.metrics.IncReplay("grant")
	}
	return result, nil
}

// replayGrant reconstructs the original grant outcome, including the
// balance snapshot taken when the grant committed.
func replayGrant(existing *models.LedgerEntry, baseAmount int64) (*GrantResult, error) {
	if existing.Amount != baseAmount {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "grant ref replayed with a different amount").
			WithDetails(map[string]any{"original": existing.Amount, "requested": baseAmount})
	}
	return &GrantResult{
		Status:    StatusReplayed,
		EntryID:   existing.ID,
		Amount:    existing.Delta,
		PromoID:   existing.PromoID,
		ExpiresAt: existing.ExpiresAt,
		Balance:   existing.BalanceAfter,
	}, nil
}

func (s *service) retryGrantRead(ctx context.Context, input GrantInput) (*GrantResult, error) {
	time.Sleep(s.replayReadDelay)

	existing, err := s.repo.FindByRefKind(ctx, input.UserCode, input.Ref, enums.LedgerEntryKindGrant)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "grant claim conflicted but winner not visible")
	}
	result, err := replayGrant(existing, input.BaseAmount)
	if err != nil {
		return nil, err
	}
	s.metrics.IncReplay("grant")
	return result, nil
}

func (s *service) GetBalance(ctx context.Context, userCode string) (*BalanceResult, error) {
	if userCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user code is required")
	}

	balance, err := s.currentBalance(ctx, userCode)
	if err != nil {
		return nil, err
	}
	openHolds, err := s.repo.OpenHoldTotal(ctx, userCode)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{
		UserCode:  userCode,
		Balance:   balance,
		Available: balance - openHolds,
	}, nil
}

func (s *service) ListEntries(ctx context.Context, userCode string, params pagination.Params) (*EntryPage, error) {
	if userCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user code is required")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListForUser(ctx, userCode, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, err
	}

	page := &EntryPage{Entries: make([]Entry, 0, len(rows))}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	for _, row := range rows {
		page.Entries = append(page.Entries, Entry{
			ID:            row.ID,
			Delta:         row.Delta,
			Kind:          row.Kind,
			Ref:           row.Ref,
			Amount:        row.Amount,
			PromoID:       row.PromoID,
			SourceEntryID: row.SourceEntryID,
			ExpiresAt:     row.ExpiresAt,
			BalanceAfter:  row.BalanceAfter,
			CreatedAt:     row.CreatedAt,
		})
	}
	if hasMore {
		last := rows[len(rows)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (s *service) RunExpirySweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{}
	now := s.now()

	var sweepErr error
	for {
		grants, err := s.repo.ListExpiredGrants(ctx, now, s.sweepBatchSize)
		if err != nil {
			s.metrics.ObserveDuration("expiry_sweep", time.Since(start))
			s.metrics.IncOutcome("expiry_sweep", "error")
			return result, err
		}
		if len(grants) == 0 {
			break
		}
		result.Scanned += len(grants)

		failed := 0
		for _, grant := range grants {
			if err := s.reverseExpiredGrant(ctx, grant); err != nil {
				failed++
				result.Failed++
				gctx := s.logg.WithField(ctx, "grant_id", grant.ID.String())
				s.logg.Error(gctx, "reversing expired grant", err)
				sweepErr = multierr.Append(sweepErr, err)
				continue
			}
			result.Reversed++
		}
		// Failed grants stay eligible and would be re-listed immediately;
		// leave them for the next scheduled run instead of spinning.
		if failed > 0 || len(grants) < s.sweepBatchSize {
			break
		}
	}

	s.metrics.ObserveDuration("expiry_sweep", time.Since(start))
	if sweepErr != nil {
		s.metrics.IncOutcome("expiry_sweep", "error")
	} else {
		s.metrics.IncOutcome("expiry_sweep", "ok")
	}
	return result, sweepErr
}

// reverseExpiredGrant neutralizes one expired grant in its own short
// transaction. The reversal never drives the balance negative: it
// reverses at most the user's current balance.
func (s *service) reverseExpiredGrant(ctx context.Context, grant models.LedgerEntry) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		balance, err := repo.LockBalance(ctx, grant.UserCode)
		if err != nil {
			return err
		}

		reverse := grant.Delta
		if balance.Balance < reverse {
			reverse = balance.Balance
		}
		if reverse < 0 {
			reverse = 0
		}

		newBalance := balance.Balance - reverse
		entry := &models.LedgerEntry{
			UserCode:      grant.UserCode,
			Delta:         -reverse,
			Kind:          enums.LedgerEntryKindExpiryReversal,
			Ref:           grant.Ref,
			Amount:        reverse,
			SourceEntryID: &grant.ID,
			BalanceAfter:  newBalance,
		}
		if err := repo.Append(ctx, entry); err != nil {
			// A concurrent sweep already reversed this grant.
			if isIdempotencyRace(err) {
				return nil
			}
			return err
		}

		if reverse > 0 {
			balance.Balance = newBalance
			if err := repo.SaveBalance(ctx, balance); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) currentBalance(ctx context.Context, userCode string) (int64, error) {
	balance, err := s.repo.FindBalance(ctx, userCode)
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Balance, nil
}

func validateOp(userCode, ref string, amount int64) error {
	if userCode == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user code is required")
	}
	if ref == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ref is required")
	}
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return nil
}

func isIdempotencyRace(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeConflict
}

func (s *service) observe(op string, start time.Time) func(*error) {
	return func(errp *error) {
		s.metrics.ObserveDuration(op, time.Since(start))
		s.metrics.IncOutcome(op, outcomeLabel(*errp))
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return "error"
	}
	switch typed.Code() {
	case pkgerrors.CodeInsufficientBalance:
		return "insufficient_balance"
	case pkgerrors.CodeIdempotency:
		return "conflict"
	case pkgerrors.CodeNotFound:
		return "not_found"
	case pkgerrors.CodeValidation:
		return "invalid"
	default:
		return "error"
	}
}
