package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creditcore/creditcore-backend/internal/credits"
	pkgerrors "github.com/creditcore/creditcore-backend/pkg/errors"
	"github.com/creditcore/creditcore-backend/pkg/logger"
	"github.com/creditcore/creditcore-backend/pkg/pagination"
)

type stubCreditsService struct {
	authorizeInput credits.AuthorizeInput
	authorize      *credits.AuthorizeResult
	captureInput   credits.CaptureInput
	capture        *credits.CaptureResult
	voidInput      credits.VoidInput
	voidResult     *credits.VoidResult
	grantInput     credits.GrantInput
	grant          *credits.GrantResult
	balance        *credits.BalanceResult
	listParams     pagination.Params
	page           *credits.EntryPage
	err            error
}

func (s *stubCreditsService) Authorize(_ context.Context, input credits.AuthorizeInput) (*credits.AuthorizeResult, error) {
	s.authorizeInput = input
	return s.authorize, s.err
}

func (s *stubCreditsService) Capture(_ context.Context, input credits.CaptureInput) (*credits.CaptureResult, error) {
	s.captureInput = input
	return s.capture, s.err
}

func (s *stubCreditsService) Void(_ context.Context, input credits.VoidInput) (*credits.VoidResult, error) {
	s.voidInput = input
	return s.voidResult, s.err
}

func (s *stubCreditsService) Grant(_ context.Context, input credits.GrantInput) (*credits.GrantResult, error) {
	s.grantInput = input
	return s.grant, s.err
}

func (s *stubCreditsService) GetBalance(_ context.Context, _ string) (*credits.BalanceResult, error) {
	return s.balance, s.err
}

func (s *stubCreditsService) ListEntries(_ context.Context, _ string, params pagination.Params) (*credits.EntryPage, error) {
	s.listParams = params
	return s.page, s.err
}

func (s *stubCreditsService) RunExpirySweep(_ context.Context) (*credits.SweepResult, error) {
	return nil, s.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func creditsTestRouter(svc credits.Service) http.Handler {
	logg := testLogger()
	r := chi.NewRouter()
	r.Route("/api/v1/credits/{userCode}", func(r chi.Router) {
		r.Post("/authorize", AuthorizeCredits(svc, logg))
		r.Post("/capture", CaptureCredits(svc, logg))
		r.Post("/void", VoidCredits(svc, logg))
		r.Post("/grant", GrantCredits(svc, logg))
		r.Get("/balance", GetCreditBalance(svc, logg))
		r.Get("/entries", ListCreditEntries(svc, logg))
	})
	return r
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthorizeCreditsSuccess(t *testing.T) {
	holdID := uuid.New()
	svc := &stubCreditsService{
		authorize: &credits.AuthorizeResult{Status: credits.StatusNew, HoldID: holdID, Balance: 45, Available: 40},
	}
	router := creditsTestRouter(svc)

	rec := postJSON(t, router, "/api/v1/credits/user-1/authorize", map[string]any{
		"amount": 5,
		"ref":    "job-1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.authorizeInput.UserCode != "user-1" || svc.authorizeInput.Amount != 5 || svc.authorizeInput.Ref != "job-1" {
		t.Fatalf("unexpected input: %+v", svc.authorizeInput)
	}
	var envelope struct {
		Data credits.AuthorizeResult `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.HoldID != holdID || envelope.Data.Available != 40 {
		t.Fatalf("unexpected body: %+v", envelope.Data)
	}
}

func TestAuthorizeCreditsRejectsBadBody(t *testing.T) {
	svc := &stubCreditsService{}
	router := creditsTestRouter(svc)

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"missing amount", map[string]any{"ref": "job-1"}},
		{"zero amount", map[string]any{"amount": 0, "ref": "job-1"}},
		{"negative amount", map[string]any{"amount": -3, "ref": "job-1"}},
		{"missing ref", map[string]any{"amount": 5}},
		{"unknown field", map[string]any{"amount": 5, "ref": "job-1", "bogus": true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, router, "/api/v1/credits/user-1/authorize", tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
	if svc.authorizeInput.Ref != "" {
		t.Fatalf("service should not have been called, got %+v", svc.authorizeInput)
	}
}

func TestAuthorizeCreditsInsufficientBalanceMapsTo402(t *testing.T) {
	svc := &stubCreditsService{
		err: pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance"),
	}
	router := creditsTestRouter(svc)

	rec := postJSON(t, router, "/api/v1/credits/user-1/authorize", map[string]any{
		"amount": 500,
		"ref":    "job-1",
	})

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Error struct {
			Code      string `json:"code"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeInsufficientBalance) {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
	if envelope.Error.Retryable {
		t.Fatal("insufficient balance must not be marked retryable")
	}
}

func TestCaptureCreditsSuccess(t *testing.T) {
	svc := &stubCreditsService{
		capture: &credits.CaptureResult{Status: credits.StatusCaptured, Balance: 40},
	}
	router := creditsTestRouter(svc)

	rec := postJSON(t, router, "/api/v1/credits/user-1/capture", map[string]any{
		"amount": 5,
		"ref":    "job-1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.captureInput.Amount != 5 || svc.captureInput.Ref != "job-1" {
		t.Fatalf("unexpected input: %+v", svc.captureInput)
	}
}

func TestVoidCreditsRequiresRef(t *testing.T) {
	svc := &stubCreditsService{
		voidResult: &credits.VoidResult{Status: credits.StatusVoided, Balance: 45},
	}
	router := creditsTestRouter(svc)

	rec := postJSON(t, router, "/api/v1/credits/user-1/void", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	rec = postJSON(t, router, "/api/v1/credits/user-1/void", map[string]any{"ref": "job-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.voidInput.UserCode != "user-1" || svc.voidInput.Ref != "job-1" {
		t.Fatalf("unexpected input: %+v", svc.voidInput)
	}
}

func TestGrantCreditsCreated(t *testing.T) {
	groupID := uuid.New()
	svc := &stubCreditsService{
		grant: &credits.GrantResult{Status: credits.StatusGranted, EntryID: uuid.New(), Amount: 95, Balance: 95},
	}
	router := creditsTestRouter(svc)

	rec := postJSON(t, router, "/api/v1/credits/user-1/grant", map[string]any{
		"action":   "referral",
		"amount":   45,
		"ref":      "ref-1",
		"group_id": groupID.String(),
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.grantInput.BaseAmount != 45 || string(svc.grantInput.Action) != "referral" {
		t.Fatalf("unexpected input: %+v", svc.grantInput)
	}
	if svc.grantInput.GroupID == nil || *svc.grantInput.GroupID != groupID {
		t.Fatalf("group id not forwarded: %+v", svc.grantInput)
	}
}

func TestGrantCreditsRejectsUnknownAction(t *testing.T) {
	svc := &stubCreditsService{}
	router := creditsTestRouter(svc)

	rec := postJSON(t, router, "/api/v1/credits/user-1/grant", map[string]any{
		"action": "lottery",
		"amount": 45,
		"ref":    "ref-1",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.grantInput.Ref != "" {
		t.Fatalf("service should not have been called, got %+v", svc.grantInput)
	}
}

func TestGetCreditBalance(t *testing.T) {
	svc := &stubCreditsService{
		balance: &credits.BalanceResult{UserCode: "user-1", Balance: 45, Available: 40},
	}
	router := creditsTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/user-1/balance", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data credits.BalanceResult `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Balance != 45 || envelope.Data.Available != 40 {
		t.Fatalf("unexpected body: %+v", envelope.Data)
	}
}

func TestListCreditEntriesForwardsPagination(t *testing.T) {
	svc := &stubCreditsService{
		page: &credits.EntryPage{Entries: []credits.Entry{}, NextCursor: "abc"},
	}
	router := creditsTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/user-1/entries?limit=10&cursor=xyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.listParams.Limit != 10 || svc.listParams.Cursor != "xyz" {
		t.Fatalf("unexpected pagination params: %+v", svc.listParams)
	}
}

func TestListCreditEntriesRejectsBadLimit(t *testing.T) {
	svc := &stubCreditsService{page: &credits.EntryPage{}}
	router := creditsTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/user-1/entries?limit=nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rec.Code, rec.Body.String())
	}
}
