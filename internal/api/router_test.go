package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/cache"
	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/lock"
	"github.com/baharkarakas/wallet-ledger/internal/rates"
	"github.com/baharkarakas/wallet-ledger/internal/reference"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	users   *services.UserService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Config{Env: "test", RateRPS: 0, LockTimeout: 2 * time.Second, ReferenceAttempts: 3}
	static, err := rates.ParseTable("USD:EUR=0.92,USD:PKR=278.50,EUR:PKR=302.70", time.Now())
	require.NoError(t, err)

	store := memory.New()
	locks := lock.NewManager()
	tm := auth.NewTokenManager("access", "refresh", "wallet-ledger", time.Minute, time.Hour)
	users := services.NewUserService(store, tm)
	wallets := services.NewWalletService(store, locks, cfg.LockTimeout, cache.Nop{})
	txns := services.NewTransactionService(store, locks, reference.NewULIDGenerator(), static, services.LedgerConfig{
		LockTimeout:       cfg.LockTimeout,
		ReferenceAttempts: cfg.ReferenceAttempts,
	})
	return &testAPI{
		t:     t,
		users: users,
		handler: NewRouter(RouterDeps{
			Cfg: cfg, Tokens: tm, UserSvc: users, WalletSvc: wallets, TxnSvc: txns,
		}),
	}
}

func (a *testAPI) do(method, path, token string, body any, headers ...string) (int, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec.Code, out
}

// signup registers a user and returns an access token and wallet id.
func (a *testAPI) signup(name string) (token, walletID string) {
	a.t.Helper()
	code, body := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "password123",
	})
	require.Equal(a.t, http.StatusCreated, code, body)
	walletID = body["wallet"].(map[string]any)["wallet_id"].(string)
	return a.login(name+"@example.com", "password123"), walletID
}

func (a *testAPI) login(email, password string) string {
	a.t.Helper()
	code, body := a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(a.t, http.StatusOK, code, body)
	return body["access_token"].(string)
}

func (a *testAPI) balances(token string) map[string]any {
	a.t.Helper()
	code, body := a.do(http.MethodGet, "/api/v1/wallet/balance", token, nil)
	require.Equal(a.t, http.StatusOK, code, body)
	return body["balances"].(map[string]any)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t)
	a.signup("alice")

	code, _ := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice2", "email": "ALICE@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, body := a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_credentials", body["code"])

	code, body = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, code)
	code, body = a.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": body["refresh_token"].(string),
	})
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["access_token"])

	code, _ = a.do(http.MethodGet, "/api/v1/wallet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestDepositWithdrawAndIdempotency(t *testing.T) {
	a := newTestAPI(t)
	alice, _ := a.signup("alice")

	dep := map[string]string{"currency": "usd", "amount": "100.00", "payment_method": "card"}
	code, first := a.do(http.MethodPost, "/api/v1/transactions/deposit", alice, dep, "Idempotency-Key", "dep-1")
	require.Equal(t, http.StatusCreated, code, first)
	assert.Equal(t, "completed", first["status"])
	assert.Equal(t, "deposit", first["type"])

	code, again := a.do(http.MethodPost, "/api/v1/transactions/deposit", alice, dep, "Idempotency-Key", "dep-1")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, first["reference"], again["reference"])
	assert.Equal(t, "100.00", a.balances(alice)["USD"])

	code, body := a.do(http.MethodPost, "/api/v1/transactions/withdraw", alice,
		map[string]string{"payment_method": "card", "currency": "USD", "amount": "500"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "insufficient_funds", body["code"])
	ref := body["details"].(map[string]any)["reference"].(string)

	code, failed := a.do(http.MethodGet, "/api/v1/transactions/"+ref, alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "failed", failed["status"])

	code, _ = a.do(http.MethodPost, "/api/v1/transactions/withdraw", alice,
		map[string]string{"payment_method": "card", "currency": "USD", "amount": "40.25"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "59.75", a.balances(alice)["USD"])
}

func TestValidationErrorsListFields(t *testing.T) {
	a := newTestAPI(t)
	alice, _ := a.signup("alice")

	code, body := a.do(http.MethodPost, "/api/v1/transactions/deposit", alice,
		map[string]string{"payment_method": "card", "currency": "GBP", "amount": "ten"})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", body["code"])
	assert.Len(t, body["details"], 2)

	code, body = a.do(http.MethodPost, "/api/v1/transactions/deposit", alice,
		map[string]string{"payment_method": "card", "currency": "USD", "amount": "1.005"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", body["code"])

	code, _ = a.do(http.MethodPost, "/api/v1/transactions/deposit", alice,
		map[string]any{"payment_method": "card", "currency": "USD", "amount": "1", "surprise": true})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodGet, "/api/v1/transactions?status=weird", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTransferExchangeAndListing(t *testing.T) {
	a := newTestAPI(t)
	alice, _ := a.signup("alice")
	bob, bobWallet := a.signup("bob")

	code, _ := a.do(http.MethodPost, "/api/v1/transactions/deposit", alice,
		map[string]string{"payment_method": "card", "currency": "USD", "amount": "100"})
	require.Equal(t, http.StatusCreated, code)

	code, trf := a.do(http.MethodPost, "/api/v1/transactions/transfer", alice,
		map[string]string{"recipient_email": "bob@example.com", "currency": "USD", "amount": "30"})
	require.Equal(t, http.StatusCreated, code, trf)

	code, _ = a.do(http.MethodPost, "/api/v1/transactions/transfer", alice,
		map[string]string{"recipient_wallet_id": bobWallet, "currency": "USD", "amount": "20"})
	require.Equal(t, http.StatusCreated, code)

	code, exc := a.do(http.MethodPost, "/api/v1/transactions/exchange", alice,
		map[string]string{"from_currency": "USD", "to_currency": "EUR", "amount": "10"})
	require.Equal(t, http.StatusCreated, code, exc)

	got := a.balances(alice)
	assert.Equal(t, "40.00", got["USD"])
	assert.Equal(t, "9.20", got["EUR"])
	assert.Equal(t, "50.00", a.balances(bob)["USD"])

	// the recipient can read the transfer
	code, _ = a.do(http.MethodGet, "/api/v1/transactions/"+trf["reference"].(string), bob, nil)
	assert.Equal(t, http.StatusOK, code)

	code, list := a.do(http.MethodGet, "/api/v1/transactions?kind=transfer&limit=1", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list["items"], 1)
	assert.EqualValues(t, 1, list["limit"])

	code, list = a.do(http.MethodGet, "/api/v1/transactions", bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list["items"], 2)

	code, _ = a.do(http.MethodGet, "/api/v1/transactions/DEP-NOPE", bob, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPINGuardsWithdrawal(t *testing.T) {
	a := newTestAPI(t)
	alice, _ := a.signup("alice")
	a.do(http.MethodPost, "/api/v1/transactions/deposit", alice, map[string]string{"payment_method": "card", "currency": "EUR", "amount": "10"})

	code, _ := a.do(http.MethodPost, "/api/v1/wallet/pin", alice, map[string]string{"pin": "1234"})
	require.Equal(t, http.StatusNoContent, code)

	code, body := a.do(http.MethodPost, "/api/v1/transactions/withdraw", alice,
		map[string]string{"payment_method": "card", "currency": "EUR", "amount": "1", "pin": "0000"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "invalid_pin", body["code"])

	code, _ = a.do(http.MethodPost, "/api/v1/transactions/withdraw", alice,
		map[string]string{"payment_method": "card", "currency": "EUR", "amount": "1", "pin": "1234"})
	assert.Equal(t, http.StatusCreated, code)
}

func TestAdminRoutes(t *testing.T) {
	a := newTestAPI(t)
	alice, aliceWallet := a.signup("alice")
	_, err := a.users.EnsureAdmin(context.Background(), "root@example.com", "rootpassword")
	require.NoError(t, err)
	admin := a.login("root@example.com", "rootpassword")

	code, _ := a.do(http.MethodPost, "/api/v1/admin/wallets/"+aliceWallet+"/freeze", alice, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, w := a.do(http.MethodPost, "/api/v1/admin/wallets/"+aliceWallet+"/freeze", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "frozen", w["status"])

	code, body := a.do(http.MethodPost, "/api/v1/transactions/deposit", alice,
		map[string]string{"payment_method": "card", "currency": "USD", "amount": "5"})
	assert.Equal(t, http.StatusLocked, code)
	assert.Equal(t, "wallet_frozen", body["code"])

	code, _ = a.do(http.MethodPost, "/api/v1/admin/wallets/"+aliceWallet+"/unfreeze", admin, nil)
	require.Equal(t, http.StatusOK, code)
	code, dep := a.do(http.MethodPost, "/api/v1/transactions/deposit", alice,
		map[string]string{"payment_method": "card", "currency": "USD", "amount": "5"})
	require.Equal(t, http.StatusCreated, code)
	ref := dep["reference"].(string)

	code, _ = a.do(http.MethodGet, "/api/v1/admin/transactions/"+ref, admin, nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = a.do(http.MethodPost, "/api/v1/admin/transactions/"+ref+"/cancel", admin, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", body["code"])

	code, _ = a.do(http.MethodPost, "/api/v1/admin/wallets/not-a-uuid/freeze", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdminAuditTrail(t *testing.T) {
	a := newTestAPI(t)
	alice, _ := a.signup("alice")
	_, err := a.users.EnsureAdmin(context.Background(), "root@example.com", "rootpassword")
	require.NoError(t, err)
	admin := a.login("root@example.com", "rootpassword")

	_, dep := a.do(http.MethodPost, "/api/v1/transactions/deposit", alice,
		map[string]string{"payment_method": "card", "currency": "PKR", "amount": "1000"})
	ref := dep["reference"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/transactions/"+ref+"/audit", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var logs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, "created", logs[0]["action"])
}

func TestPaymentMethodRequired(t *testing.T) {
	a := newTestAPI(t)
	alice, _ := a.signup("alice")

	for _, path := range []string{"/api/v1/transactions/deposit", "/api/v1/transactions/withdraw"} {
		code, body := a.do(http.MethodPost, path, alice, map[string]string{"currency": "USD", "amount": "5"})
		require.Equal(t, http.StatusBadRequest, code, path)
		details := body["details"].([]any)
		require.Len(t, details, 1)
		assert.Equal(t, "payment_method", details[0].(map[string]any)["field"])
	}
	assert.Equal(t, "0.00", a.balances(alice)["USD"])
}
