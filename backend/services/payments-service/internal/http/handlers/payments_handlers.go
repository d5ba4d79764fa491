package handlers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/chain"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/service"
)

const precheckSource = "precheck-api"

// Prechecker runs balance prechecks.
type Prechecker interface {
	Precheck(ctx context.Context, provider, address, chain string, amountUSD decimal.Decimal) (*service.PrecheckResult, error)
	PrecheckAndRecord(ctx context.Context, in service.PrecheckAndRecordInput) (*service.RecordedPrecheck, error)
}

// PaymentsHandlers serves /api/v1/payments.
type PaymentsHandlers struct {
	verifier  Prechecker
	providers []string
	logger    *zap.Logger
}

// NewPaymentsHandlers returns handler set. providers lists the registered provider keys.
func NewPaymentsHandlers(verifier Prechecker, providers []string, logger *zap.Logger) *PaymentsHandlers {
	return &PaymentsHandlers{verifier: verifier, providers: providers, logger: logger}
}

type precheckRequest struct {
	Provider      string           `json:"provider"`
	WalletAddress string           `json:"wallet_address"`
	Chain         string           `json:"chain"`
	AmountUSD     *decimal.Decimal `json:"amount_usd"`
	UserID        string           `json:"user_id"`
	Metadata      models.Metadata  `json:"metadata"`
}

type precheckResponse struct {
	*service.PrecheckResult
	BalanceCheckID string `json:"balance_check_id,omitempty"`
	BalanceStatus  string `json:"balance_status,omitempty"`
}

// Precheck handles POST /api/v1/payments/precheck. With user_id the result is recorded as a balance check.
func (h *PaymentsHandlers) Precheck(w http.ResponseWriter, r *http.Request) {
	var req precheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.WalletAddress == "" || req.Chain == "" || req.AmountUSD == nil {
		respondError(w, h.logger, apperr.InvalidArgument("wallet_address, chain, and amount_usd are required"))
		return
	}
	if req.AmountUSD.IsNegative() {
		respondError(w, h.logger, apperr.InvalidArgument("amount_usd must not be negative"))
		return
	}
	if req.Provider == "" {
		req.Provider = service.ProviderStripe
	}

	if req.UserID == "" {
		result, err := h.verifier.Precheck(r.Context(), req.Provider, req.WalletAddress, req.Chain, *req.AmountUSD)
		if err != nil {
			respondError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, precheckResponse{PrecheckResult: result})
		return
	}

	userID, ok := authorizeUser(r, req.UserID)
	if !ok {
		writeForbidden(w)
		return
	}
	recorded, err := h.verifier.PrecheckAndRecord(r.Context(), service.PrecheckAndRecordInput{
		UserID:        userID,
		Provider:      req.Provider,
		WalletAddress: req.WalletAddress,
		Chain:         req.Chain,
		Amount:        *req.AmountUSD,
		Metadata:      req.Metadata,
		Source:        precheckSource,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, precheckResponse{
		PrecheckResult: recorded.Result,
		BalanceCheckID: recorded.BalanceCheckID,
		BalanceStatus:  recorded.Status,
	})
}

// Providers handles GET /api/v1/payments/providers.
func (h *PaymentsHandlers) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.providers,
		"chains":    chain.Names(),
	})
}
