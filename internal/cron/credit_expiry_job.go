package cron

import (
	"context"
	"fmt"

	"github.com/creditcore/creditcore-backend/internal/credits"
	"github.com/creditcore/creditcore-backend/pkg/logger"
)

type expirySweeper interface {
	RunExpirySweep(ctx context.Context) (*credits.SweepResult, error)
}

type CreditExpiryJobParams struct {
	Logger  *logger.Logger
	Credits expirySweeper
}

// NewCreditExpiryJob builds the job that reverses expired, unconsumed
// credit grants. The sweep itself is idempotent, so overlapping runs
// from a lost lock cannot double-reverse a grant.
func NewCreditExpiryJob(params CreditExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credit sweeper required")
	}
	return &creditExpiryJob{
		logg:    params.Logger,
		credits: params.Credits,
	}, nil
}

type creditExpiryJob struct {
	logg    *logger.Logger
	credits expirySweeper
}

func (j *creditExpiryJob) Name() string { return "credit-expiry" }

func (j *creditExpiryJob) Run(ctx context.Context) error {
	result, err := j.credits.RunExpirySweep(ctx)
	if result != nil {
		ctx = j.logg.WithFields(ctx, map[string]any{
			"grants_scanned":  result.Scanned,
			"grants_reversed": result.Reversed,
			"grants_failed":   result.Failed,
		})
	}
	if err != nil {
		// Partial progress is kept; failed grants are retried on the
		// next scheduled run.
		return fmt.Errorf("credit expiry sweep: %w", err)
	}
	j.logg.Info(ctx, "credit expiry sweep complete")
	return nil
}
