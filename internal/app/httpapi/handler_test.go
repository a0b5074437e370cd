package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	app "github.com/pi-work-link/wallet-engine/internal/app"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{LockTimeout: time.Second}, nil)
	require.NoError(t, err)
	server := httptest.NewServer(NewHandler(application, HandlerConfig{}))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, server *httptest.Server, method, path, accountID string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, server.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set(headerAccountID, accountID)
	}

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func createAccount(t *testing.T, server *httptest.Server, owner string) string {
	t.Helper()
	resp, body := doJSON(t, server, http.MethodPost, "/accounts", "", map[string]string{"owner": owner})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHandler_DepositAndBalance(t *testing.T) {
	server := newTestServer(t)
	acct := createAccount(t, server, "alice")

	resp, body := doJSON(t, server, http.MethodPost, "/accounts/"+acct+"/wallet/deposit", acct,
		map[string]string{"amount": "25.50", "note": "topup"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tx, ok := body["transaction"].(map[string]interface{})
	require.True(t, ok, "response missing transaction: %v", body)
	require.Equal(t, "deposit", tx["kind"])
	require.Equal(t, "25.5", tx["amount"])

	resp, body = doJSON(t, server, http.MethodGet, "/accounts/"+acct+"/wallet", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "25.5", body["available"])
	require.Equal(t, "0", body["held"])
	require.Equal(t, "25.5", body["total"])
}

func TestHandler_WithdrawInsufficientFunds(t *testing.T) {
	server := newTestServer(t)
	acct := createAccount(t, server, "alice")

	resp, _ := doJSON(t, server, http.MethodPost, "/accounts/"+acct+"/wallet/withdraw", acct,
		map[string]string{"amount": "5"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandler_InvalidAmount(t *testing.T) {
	server := newTestServer(t)
	acct := createAccount(t, server, "alice")

	resp, _ := doJSON(t, server, http.MethodPost, "/accounts/"+acct+"/wallet/deposit", acct,
		map[string]string{"amount": "-3"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_IdentityHeaderRequired(t *testing.T) {
	server := newTestServer(t)
	acct := createAccount(t, server, "alice")

	// No header at all.
	resp, _ := doJSON(t, server, http.MethodPost, "/accounts/"+acct+"/wallet/deposit", "",
		map[string]string{"amount": "5"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Somebody else's header.
	resp, _ = doJSON(t, server, http.MethodPost, "/accounts/"+acct+"/wallet/deposit", "intruder",
		map[string]string{"amount": "5"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_UnknownAccount(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, server, http.MethodGet, "/accounts/nope/wallet", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_EscrowLifecycle(t *testing.T) {
	server := newTestServer(t)
	payer := createAccount(t, server, "payer")
	payee := createAccount(t, server, "payee")

	resp, _ := doJSON(t, server, http.MethodPost, "/accounts/"+payer+"/wallet/deposit", payer,
		map[string]string{"amount": "30"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, server, http.MethodPost, "/accounts/"+payer+"/wallet/escrows", payer,
		map[string]string{"payee_id": payee, "amount": "12"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	escrowID, _ := body["id"].(string)
	require.NotEmpty(t, escrowID)
	require.Equal(t, "created", body["state"])

	// The payee cannot release; only the payer approves payout.
	resp, _ = doJSON(t, server, http.MethodPost, "/escrows/"+escrowID+"/release", payee, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = doJSON(t, server, http.MethodPost, "/escrows/"+escrowID+"/release", payer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "released", body["state"])

	// A second resolution conflicts.
	resp, _ = doJSON(t, server, http.MethodPost, "/escrows/"+escrowID+"/refund", payer, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, server, http.MethodGet, "/accounts/"+payee+"/wallet", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "12", body["available"])
}

func TestHandler_EscrowRefundByPayee(t *testing.T) {
	server := newTestServer(t)
	payer := createAccount(t, server, "payer")
	payee := createAccount(t, server, "payee")

	resp, _ := doJSON(t, server, http.MethodPost, "/accounts/"+payer+"/wallet/deposit", payer,
		map[string]string{"amount": "30"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, server, http.MethodPost, "/accounts/"+payer+"/wallet/escrows", payer,
		map[string]string{"payee_id": payee, "amount": "12"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	escrowID := body["id"].(string)

	resp, body = doJSON(t, server, http.MethodPost, "/escrows/"+escrowID+"/refund", payee, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "refunded", body["state"])

	resp, body = doJSON(t, server, http.MethodGet, "/accounts/"+payer+"/wallet", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "30", body["available"])
	require.Equal(t, "0", body["held"])
}

func TestHandler_HistoryPagination(t *testing.T) {
	server := newTestServer(t)
	acct := createAccount(t, server, "alice")

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, server, http.MethodPost, "/accounts/"+acct+"/wallet/deposit", acct,
			map[string]string{"amount": "1"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := doJSON(t, server, http.MethodGet, "/accounts/"+acct+"/wallet/transactions?limit=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page, ok := body["transactions"].([]interface{})
	require.True(t, ok)
	require.Len(t, page, 2)
	cursor, _ := body["next_cursor"].(string)
	require.NotEmpty(t, cursor)

	resp, body = doJSON(t, server, http.MethodGet, "/accounts/"+acct+"/wallet/transactions?limit=2&cursor="+cursor, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page, ok = body["transactions"].([]interface{})
	require.True(t, ok)
	require.Len(t, page, 1)
}

func TestHandler_Healthz(t *testing.T) {
	server := newTestServer(t)
	resp, body := doJSON(t, server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

// Guards against the decimal type silently accepting JSON numbers with float
// damage; the API contract is string amounts but numbers must round-trip too.
func TestHandler_NumericAmountAccepted(t *testing.T) {
	server := newTestServer(t)
	acct := createAccount(t, server, "alice")

	resp, body := doJSON(t, server, http.MethodPost, "/accounts/"+acct+"/wallet/deposit", acct,
		map[string]interface{}{"amount": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tx := body["transaction"].(map[string]interface{})
	require.Equal(t, "7", tx["amount"])
}
