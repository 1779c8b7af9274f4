package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"billingcore/internal/domain"
	"billingcore/internal/loyalty"
	"billingcore/internal/service"
	"billingcore/internal/settings"
	"billingcore/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo, err := memory.NewSeeded(zap.NewNop())
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	rewards := settings.NewRepository(repo, nil, zap.NewNop(), settings.Options{Backoff: time.Millisecond})
	ledger := loyalty.NewReconciler(repo, 50, zap.NewNop())
	svc := service.New(repo, rewards, ledger, zap.NewNop())
	auth := NewAuthManager("test-secret-key", time.Hour, repo, zap.NewNop())

	return New(svc, auth, "*", zap.NewNop())
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, res.Code, res.Body.String())
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return payload.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	return loginAs(t, api, "admin", "admin123")
}

func loginAsCashier(t *testing.T, api *API) string {
	return loginAs(t, api, "cashier", "cashier123")
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf token request failed: %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf: %v", err)
	}
	return payload["csrf_token"]
}

func doJSON(t *testing.T, api *API, method string, path string, token string, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBill(t *testing.T, res *httptest.ResponseRecorder) domain.Bill {
	t.Helper()
	var payload domain.BillResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode bill: %v", err)
	}
	return payload.Bill
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)
	if token == "" {
		t.Fatalf("expected access token")
	}
}

func TestHandleLogin_InvalidPassword(t *testing.T) {
	api := newTestAPI(t)
	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "admin", Password: "wrong"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestBillLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/bills", token, csrf, domain.BillCreateRequest{
		CustomerPhone: "0812000111",
		CustomerName:  "Rina",
		Items:         []domain.BillItemInput{{ProductID: "prod-coffee", Quantity: 2}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", res.Code, res.Body.String())
	}
	bill := decodeBill(t, res)
	if len(bill.Items) != 2 || !bill.Items[1].IsOfferFreeItem {
		t.Fatalf("expected a free row to be resolved, got %+v", bill.Items)
	}
	if bill.GrossAmount != 60 {
		t.Fatalf("expected gross 60, got %v", bill.GrossAmount)
	}

	res = doJSON(t, api, http.MethodPatch, "/api/v1/bills/"+bill.ID+"/items/"+bill.Items[0].ID+"/status", token, csrf,
		domain.ItemStatusRequest{Status: domain.StatusPrepared})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for item status, got %d (%s)", res.Code, res.Body.String())
	}
	bill = decodeBill(t, res)
	if bill.Items[0].Status != domain.StatusPrepared {
		t.Fatalf("expected prepared item, got %q", bill.Items[0].Status)
	}

	res = doJSON(t, api, http.MethodPatch, "/api/v1/bills/"+bill.ID+"/items/"+bill.Items[0].ID+"/status", token, csrf,
		domain.ItemStatusRequest{Status: domain.StatusOrdered})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for status regression, got %d", res.Code)
	}

	completed := domain.StatusCompleted
	res = doJSON(t, api, http.MethodPatch, "/api/v1/bills/"+bill.ID, token, csrf, domain.BillUpdateRequest{
		Status:  &completed,
		Version: bill.Version,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for completion, got %d (%s)", res.Code, res.Body.String())
	}
	bill = decodeBill(t, res)
	if !strings.HasSuffix(bill.InvoiceNumber, "-001") {
		t.Fatalf("expected first invoice number, got %q", bill.InvoiceNumber)
	}
	if !bill.CustomerRewardProcessed || !bill.OfferCountersProcessed {
		t.Fatalf("expected post-completion flags, got %+v", bill)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/bills/"+bill.ID, token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for get, got %d", res.Code)
	}
	if got := decodeBill(t, res); got.Version != bill.Version {
		t.Fatalf("expected stored version %d, got %d", bill.Version, got.Version)
	}
}

func TestMutationWithoutCSRFIsRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/bills", token, "", domain.BillCreateRequest{
		Items: []domain.BillItemInput{{ProductID: "prod-tea", Quantity: 1}},
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	api := newTestAPI(t)
	res := doJSON(t, api, http.MethodGet, "/api/v1/products", "", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestCashierCannotTouchAnotherBranch(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	cashier := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/bills", admin, csrf, domain.BillCreateRequest{
		BranchID: "branch-airport",
		Items:    []domain.BillItemInput{{ProductID: "prod-water", Quantity: 1}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", res.Code, res.Body.String())
	}
	bill := decodeBill(t, res)

	res = doJSON(t, api, http.MethodGet, "/api/v1/bills/"+bill.ID, cashier, "", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another branch, got %d", res.Code)
	}
}

func TestUnknownBillReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodGet, "/api/v1/bills/missing", token, "", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestStaleVersionReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/bills", token, csrf, domain.BillCreateRequest{
		Items: []domain.BillItemInput{{ProductID: "prod-tea", Quantity: 1}},
	})
	bill := decodeBill(t, res)

	name := "Budi"
	res = doJSON(t, api, http.MethodPatch, "/api/v1/bills/"+bill.ID, token, csrf, domain.BillUpdateRequest{
		CustomerName: &name,
		Version:      bill.Version,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPatch, "/api/v1/bills/"+bill.ID, token, csrf, domain.BillUpdateRequest{
		CustomerName: &name,
		Version:      bill.Version,
	})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d", res.Code)
	}
}

func TestCreateBillValidationReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/bills", token, csrf, domain.BillCreateRequest{})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty bill, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/bills", token, csrf, map[string]any{"unexpected": true})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestRewardSettingsRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	cashier := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := doJSON(t, api, http.MethodGet, "/api/v1/settings/rewards", cashier, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var payload struct {
		Settings domain.CustomerRewardSettings `json:"settings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if len(payload.Settings.ProductToProductOffers) != 1 {
		t.Fatalf("expected seeded rule, got %+v", payload.Settings.ProductToProductOffers)
	}

	res = doJSON(t, api, http.MethodPut, "/api/v1/settings/rewards", cashier, csrf, payload.Settings)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier replace, got %d", res.Code)
	}

	incoming := payload.Settings
	incoming.ProductToProductOffers = nil
	res = doJSON(t, api, http.MethodPut, "/api/v1/settings/rewards", admin, csrf, incoming)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin replace, got %d (%s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/bills", cashier, csrf, domain.BillCreateRequest{
		Items: []domain.BillItemInput{{ProductID: "prod-coffee", Quantity: 2}},
	})
	if bill := decodeBill(t, res); len(bill.Items) != 1 {
		t.Fatalf("expected no free row after removing the rule, got %+v", bill.Items)
	}
}

func TestAdminRepairAndReconcile(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	cashier := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/post-completion/repair?limit=10", cashier, csrf, nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier sweep, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/post-completion/repair?limit=10", admin, csrf, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for sweep, got %d (%s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/customers/0812999000/ledger/reconcile", admin, csrf, nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown customer, got %d", res.Code)
	}

	completed := domain.StatusCompleted
	res = doJSON(t, api, http.MethodPost, "/api/v1/bills", cashier, csrf, domain.BillCreateRequest{
		CustomerPhone: "0812999000",
		Status:        completed,
		Items:         []domain.BillItemInput{{ProductID: "prod-sandwich", Quantity: 1}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/customers/0812999000/ledger/reconcile", admin, csrf, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for reconcile, got %d (%s)", res.Code, res.Body.String())
	}
	var payload struct {
		Ledger domain.LedgerSnapshot `json:"ledger"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if payload.Ledger.Phone != "0812999000" || payload.Ledger.BillsReplayed != 1 || payload.Ledger.RewardProgressAmount != 55 {
		t.Fatalf("unexpected ledger: %+v", payload.Ledger)
	}
}

func TestAdminCreatesCashier(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/users/cashiers", admin, csrf, domain.CashierCreateRequest{
		Username: "kasir02",
		Password: "secret-pass",
		BranchID: "branch-airport",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/users/cashiers", admin, csrf, domain.CashierCreateRequest{
		Username: "kasir03",
		Password: "secret-pass",
		BranchID: "branch-nowhere",
	})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown branch, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/users/cashiers", admin, "", nil)
	var payload struct {
		Cashiers []domain.CashierUser `json:"cashiers"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode cashiers: %v", err)
	}
	if len(payload.Cashiers) != 2 {
		t.Fatalf("expected seeded and new cashier, got %+v", payload.Cashiers)
	}
}
