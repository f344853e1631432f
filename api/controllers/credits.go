package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creditcore/creditcore-backend/api/responses"
	"github.com/creditcore/creditcore-backend/api/validators"
	"github.com/creditcore/creditcore-backend/internal/credits"
	"github.com/creditcore/creditcore-backend/pkg/enums"
	pkgerrors "github.com/creditcore/creditcore-backend/pkg/errors"
	"github.com/creditcore/creditcore-backend/pkg/logger"
	"github.com/creditcore/creditcore-backend/pkg/pagination"
)

type authorizeRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Ref    string `json:"ref" validate:"required,max=128"`
}

type captureRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Ref    string `json:"ref" validate:"required,max=128"`
}

type voidRequest struct {
	Ref string `json:"ref" validate:"required,max=128"`
}

type grantRequest struct {
	Action  string     `json:"action" validate:"required"`
	Amount  int64      `json:"amount" validate:"required,gt=0"`
	Ref     string     `json:"ref" validate:"required,max=128"`
	GroupID *uuid.UUID `json:"group_id,omitempty"`
}

func userCodeParam(r *http.Request) (string, error) {
	userCode := strings.TrimSpace(chi.URLParam(r, "userCode"))
	if userCode == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user code is required")
	}
	return userCode, nil
}

// AuthorizeCredits places a hold against the user's available balance.
func AuthorizeCredits(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode, err := userCodeParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req authorizeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Authorize(r.Context(), credits.AuthorizeInput{
			UserCode: userCode,
			Amount:   req.Amount,
			Ref:      req.Ref,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CaptureCredits finalizes a hold, or performs a direct debit when no
// hold exists for the ref.
func CaptureCredits(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode, err := userCodeParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req captureRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Capture(r.Context(), credits.CaptureInput{
			UserCode: userCode,
			Amount:   req.Amount,
			Ref:      req.Ref,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// VoidCredits releases a hold without economic effect.
func VoidCredits(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode, err := userCodeParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req voidRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Void(r.Context(), credits.VoidInput{
			UserCode: userCode,
			Ref:      req.Ref,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GrantCredits credits the user, applying whatever promotion currently
// wins for the action.
func GrantCredits(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode, err := userCodeParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req grantRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := enums.ParseGrantAction(req.Action)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid action"))
			return
		}

		result, err := svc.Grant(r.Context(), credits.GrantInput{
			UserCode:   userCode,
			Action:     action,
			BaseAmount: req.Amount,
			Ref:        req.Ref,
			GroupID:    req.GroupID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// GetCreditBalance reports the visible balance and the availability net
// of open holds.
func GetCreditBalance(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode, err := userCodeParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.GetBalance(r.Context(), userCode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ListCreditEntries returns the user's ledger history, newest first.
func ListCreditEntries(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode, err := userCodeParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListEntries(r.Context(), userCode, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
