package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matrixise/chain-portfolio/internal/errdefs"
	"github.com/matrixise/chain-portfolio/internal/storage"
	"github.com/matrixise/chain-portfolio/internal/track"
)

const defaultHistoryLimit = 100

type createWalletRequest struct {
	Address string  `json:"address"`
	Chain   string  `json:"chain"`
	Label   *string `json:"label,omitempty"`
}

type walletResponse struct {
	ID        uuid.UUID `json:"id"`
	Address   string    `json:"address"`
	Chain     string    `json:"chain"`
	Label     *string   `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type balanceResponse struct {
	TokenSymbol  string           `json:"token_symbol"`
	TokenAddress *string          `json:"token_address,omitempty"`
	Balance      decimal.Decimal  `json:"balance"`
	USDValue     *decimal.Decimal `json:"usd_value"`
	LastUpdated  time.Time        `json:"last_updated"`
}

type historyResponse struct {
	TokenSymbol  string           `json:"token_symbol"`
	TokenAddress *string          `json:"token_address,omitempty"`
	Balance      decimal.Decimal  `json:"balance"`
	USDValue     *decimal.Decimal `json:"usd_value"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

type walletSummaryResponse struct {
	Wallet        walletResponse    `json:"wallet"`
	Balances      []balanceResponse `json:"balances"`
	TotalUSDValue decimal.Decimal   `json:"total_usd_value"`
}

type portfolioResponse struct {
	TotalWallets  int                     `json:"total_wallets"`
	TotalUSDValue decimal.Decimal         `json:"total_usd_value"`
	Wallets       []walletSummaryResponse `json:"wallets"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toWalletResponse(w storage.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		Address:   w.Address,
		Chain:     w.Chain,
		Label:     w.Label,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func toBalanceResponses(balances []storage.Balance) []balanceResponse {
	out := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, balanceResponse{
			TokenSymbol:  b.TokenSymbol,
			TokenAddress: b.TokenAddress,
			Balance:      b.Balance,
			USDValue:     b.USDValue,
			LastUpdated:  b.LastUpdated,
		})
	}
	return out
}

func (s *Server) createWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Address == "" || req.Chain == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "address and chain are required"})
		return
	}

	wallet, err := s.tracker.CreateWallet(r.Context(), req.Address, req.Chain, req.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletResponse(wallet))
}

func (s *Server) listWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.tracker.ListWallets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]walletResponse, 0, len(wallets))
	for _, wallet := range wallets {
		out = append(out, toWalletResponse(wallet))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := walletID(w, r)
	if !ok {
		return
	}
	wallet, err := s.tracker.GetWallet(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (s *Server) deleteWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := walletID(w, r)
	if !ok {
		return
	}
	deleted, err := s.tracker.DeleteWallet(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "wallet not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listBalances(w http.ResponseWriter, r *http.Request) {
	id, ok := walletID(w, r)
	if !ok {
		return
	}
	balances, err := s.tracker.ListBalances(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponses(balances))
}

func (s *Server) refreshBalances(w http.ResponseWriter, r *http.Request) {
	id, ok := walletID(w, r)
	if !ok {
		return
	}
	force := r.URL.Query().Get("force") == "true"

	balances, err := s.tracker.FetchBalances(r.Context(), id, force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceResponses(balances))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, ok := walletID(w, r)
	if !ok {
		return
	}

	var tokenSymbol *string
	if symbol := r.URL.Query().Get("token_symbol"); symbol != "" {
		tokenSymbol = &symbol
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := s.tracker.History(r.Context(), id, tokenSymbol, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			TokenSymbol:  e.TokenSymbol,
			TokenAddress: e.TokenAddress,
			Balance:      e.Balance,
			USDValue:     e.USDValue,
			RecordedAt:   e.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) portfolioSummary(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.tracker.PortfolioSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := portfolioResponse{
		TotalWallets:  portfolio.TotalWallets,
		TotalUSDValue: portfolio.TotalUSDValue,
		Wallets:       make([]walletSummaryResponse, 0, len(portfolio.Wallets)),
	}
	for _, summary := range portfolio.Wallets {
		out.Wallets = append(out.Wallets, toWalletSummaryResponse(summary))
	}
	writeJSON(w, http.StatusOK, out)
}

func toWalletSummaryResponse(s track.WalletSummary) walletSummaryResponse {
	return walletSummaryResponse{
		Wallet:        toWalletResponse(s.Wallet),
		Balances:      toBalanceResponses(s.Balances),
		TotalUSDValue: s.TotalUSDValue,
	}
}

func walletID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "walletID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid wallet id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the error kind to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errdefs.KindOf(err) {
	case errdefs.KindValidation:
		status = http.StatusBadRequest
	case errdefs.KindNotFound:
		status = http.StatusNotFound
	case errdefs.KindTransient:
		status = http.StatusBadGateway
	case errdefs.KindConfiguration:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
