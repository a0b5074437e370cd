// Package httpapi exposes the wallet operations over HTTP. Authentication is
// an upstream concern: the gateway injects the authenticated account id via
// the X-Account-ID header and this layer only checks that the caller operates
// on its own wallet.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	app "github.com/pi-work-link/wallet-engine/internal/app"
	escrowdomain "github.com/pi-work-link/wallet-engine/internal/app/domain/escrow"
	ledgerdomain "github.com/pi-work-link/wallet-engine/internal/app/domain/ledger"
	"github.com/pi-work-link/wallet-engine/internal/app/metrics"
)

// headerAccountID carries the authenticated account id set by the upstream
// identity layer.
const headerAccountID = "X-Account-ID"

var errTooManyRequests = errors.New("rate limit exceeded")

// HandlerConfig tunes the transport middleware. The zero value disables CORS
// handling and rate limiting.
type HandlerConfig struct {
	AllowedOrigins    []string
	RequestsPerSecond int
	Burst             int
}

type handler struct {
	app *app.Application
}

// NewHandler returns the wallet REST API router.
func NewHandler(application *app.Application, cfg HandlerConfig) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/accounts", h.createAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/wallet", h.getBalance).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}/wallet/transactions", h.getHistory).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}/wallet/deposit", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/wallet/withdraw", h.withdraw).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/wallet/escrows", h.createEscrow).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/wallet/escrows", h.listEscrows).Methods(http.MethodGet)
	r.HandleFunc("/escrows/{id}/release", h.releaseEscrow).Methods(http.MethodPost)
	r.HandleFunc("/escrows/{id}/refund", h.refundEscrow).Methods(http.MethodPost)

	var wrapped http.Handler = r
	if cfg.RequestsPerSecond > 0 {
		wrapped = newRateLimiter(cfg.RequestsPerSecond, cfg.Burst).Handler(wrapped)
	}
	wrapped = newCORSMiddleware(cfg.AllowedOrigins).Handler(wrapped)

	return metrics.InstrumentHandler(wrapped)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner string `json:"owner"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Wallet.CreateAccount(r.Context(), payload.Owner)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountJSON(acct))
}

func (h *handler) getBalance(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	balance, err := h.app.Wallet.GetBalance(r.Context(), accountID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": balance.AccountID,
		"available":  balance.Available.String(),
		"held":       balance.Held.String(),
		"total":      balance.Total.String(),
		"version":    balance.Version,
	})
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	cursor := r.URL.Query().Get("cursor")

	txs, next, err := h.app.Wallet.GetHistory(r.Context(), accountID, limit, cursor)
	if err != nil {
		writeFailure(w, err)
		return
	}

	items := make([]map[string]interface{}, 0, len(txs))
	for _, tx := range txs {
		items = append(items, transactionJSON(tx))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": items,
		"next_cursor":  next,
	})
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	h.fundsOp(w, r, h.app.Wallet.Deposit)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.fundsOp(w, r, h.app.Wallet.Withdraw)
}

func (h *handler) fundsOp(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, accountID string, amount decimal.Decimal, note string) (ledgerdomain.Account, ledgerdomain.Transaction, error)) {
	accountID := mux.Vars(r)["id"]
	if !callerOwns(r, accountID) {
		writeError(w, http.StatusForbidden, errors.New("account mismatch"))
		return
	}

	var payload struct {
		Amount decimal.Decimal `json:"amount"`
		Note   string          `json:"note"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, tx, err := op(r.Context(), accountID, payload.Amount, strings.TrimSpace(payload.Note))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":     accountJSON(acct),
		"transaction": transactionJSON(tx),
	})
}

func (h *handler) createEscrow(w http.ResponseWriter, r *http.Request) {
	payerID := mux.Vars(r)["id"]
	if !callerOwns(r, payerID) {
		writeError(w, http.StatusForbidden, errors.New("account mismatch"))
		return
	}

	var payload struct {
		PayeeID string          `json:"payee_id"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	esc, err := h.app.Wallet.CreateEscrow(r.Context(), payerID, payload.PayeeID, payload.Amount)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, escrowJSON(esc))
}

func (h *handler) listEscrows(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	escrows, err := h.app.Wallet.ListEscrows(r.Context(), accountID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	items := make([]map[string]interface{}, 0, len(escrows))
	for _, esc := range escrows {
		items = append(items, escrowJSON(esc))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"escrows": items})
}

func (h *handler) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	escrowID := mux.Vars(r)["id"]

	esc, err := h.app.Wallet.GetEscrow(r.Context(), escrowID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	// Only the payer approves paying the held funds out.
	if !callerOwns(r, esc.PayerID) {
		writeError(w, http.StatusForbidden, errors.New("only the payer may release an escrow"))
		return
	}

	resolved, err := h.app.Wallet.ReleaseEscrow(r.Context(), escrowID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowJSON(resolved))
}

func (h *handler) refundEscrow(w http.ResponseWriter, r *http.Request) {
	escrowID := mux.Vars(r)["id"]

	esc, err := h.app.Wallet.GetEscrow(r.Context(), escrowID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	// Either side may send the funds back to the payer.
	if !callerOwns(r, esc.PayerID) && !callerOwns(r, esc.PayeeID) {
		writeError(w, http.StatusForbidden, errors.New("caller is not a party to this escrow"))
		return
	}

	resolved, err := h.app.Wallet.RefundEscrow(r.Context(), escrowID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowJSON(resolved))
}

// --- helpers ----------------------------------------------------------------

func callerOwns(r *http.Request, accountID string) bool {
	caller := strings.TrimSpace(r.Header.Get(headerAccountID))
	return caller != "" && caller == accountID
}

func accountJSON(acct ledgerdomain.Account) map[string]interface{} {
	return map[string]interface{}{
		"id":         acct.ID,
		"owner":      acct.Owner,
		"available":  acct.Available.String(),
		"held":       acct.Held.String(),
		"version":    acct.Version,
		"created_at": acct.CreatedAt,
		"updated_at": acct.UpdatedAt,
	}
}

func transactionJSON(tx ledgerdomain.Transaction) map[string]interface{} {
	out := map[string]interface{}{
		"id":              tx.ID,
		"account_id":      tx.AccountID,
		"kind":            tx.Kind,
		"amount":          tx.Amount.String(),
		"available_after": tx.AvailableAfter.String(),
		"sequence":        tx.Sequence,
		"status":          tx.Status,
		"created_at":      tx.CreatedAt,
	}
	if tx.Counterparty != "" {
		out["counterparty"] = tx.Counterparty
	}
	if tx.EscrowID != "" {
		out["escrow_id"] = tx.EscrowID
	}
	if tx.Note != "" {
		out["note"] = tx.Note
	}
	return out
}

func escrowJSON(esc escrowdomain.Escrow) map[string]interface{} {
	out := map[string]interface{}{
		"id":         esc.ID,
		"payer_id":   esc.PayerID,
		"payee_id":   esc.PayeeID,
		"amount":     esc.Amount.String(),
		"state":      esc.State,
		"hold_tx_id": esc.HoldTxID,
		"created_at": esc.CreatedAt,
	}
	if esc.ResolveTxID != "" {
		out["resolve_tx_id"] = esc.ResolveTxID
	}
	if !esc.ExpiresAt.IsZero() {
		out["expires_at"] = esc.ExpiresAt
	}
	if !esc.ResolvedAt.IsZero() {
		out["resolved_at"] = esc.ResolvedAt
	}
	return out
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeFailure maps typed domain errors onto stable HTTP statuses. Unknown
// errors surface as a generic 500 with no internal detail.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ledgerdomain.ErrAccountNotFound), errors.Is(err, escrowdomain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, escrowdomain.ErrInvalidState), errors.Is(err, ledgerdomain.ErrVersionConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ledgerdomain.ErrLockTimeout):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}
