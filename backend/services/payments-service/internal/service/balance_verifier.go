package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/chain"
	"chargepay/backend/services/payments-service/internal/metrics"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/repository"
)

const defaultRecentWindowMinutes = 5

// Shortfall is how much is missing when a wallet cannot pay.
type Shortfall struct {
	USDC   string `json:"usdc"`
	Native string `json:"native"`
}

// PrecheckResult is the verdict of a balance precheck. Error is set when solvency could not be confirmed.
type PrecheckResult struct {
	CanPay        bool       `json:"can_pay"`
	Provider      string     `json:"provider"`
	Chain         string     `json:"chain"`
	WalletAddress string     `json:"wallet_address"`
	RequiredUSDC  string     `json:"required_usdc"`
	USDCBalance   string     `json:"usdc_balance"`
	NativeBalance string     `json:"native_balance"`
	NativeSymbol  string     `json:"native_symbol,omitempty"`
	EstimatedGas  string     `json:"estimated_gas"`
	Shortfall     *Shortfall `json:"shortfall,omitempty"`
	Error         string     `json:"error,omitempty"`

	usdc decimal.Decimal
}

// PrecheckAndRecordInput describes one recorded precheck.
type PrecheckAndRecordInput struct {
	UserID        string
	Provider      string
	WalletAddress string
	Chain         string
	Amount        decimal.Decimal
	Metadata      models.Metadata
	Source        string
}

// RecordedPrecheck is a precheck together with the balance check row it produced.
type RecordedPrecheck struct {
	Result         *PrecheckResult      `json:"result"`
	BalanceCheckID string               `json:"balance_check_id"`
	Status         string               `json:"status"`
	BalanceCheck   *models.BalanceCheck `json:"-"`
}

// BalanceVerifier prechecks wallets against balance oracles and records the outcome.
type BalanceVerifier struct {
	providers *Providers
	checks    BalanceCheckStore
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewBalanceVerifier builds verifier. timeout bounds each oracle call.
func NewBalanceVerifier(providers *Providers, checks BalanceCheckStore, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *BalanceVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BalanceVerifier{
		providers: providers,
		checks:    checks,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Precheck reads balances through the provider's oracle and decides whether the wallet can pay
// amountUSD plus the chain's gas reserve. Only an unknown provider fails; every other problem is
// reported in the result's Error field with CanPay false.
func (v *BalanceVerifier) Precheck(ctx context.Context, provider, address, chainName string, amountUSD decimal.Decimal) (*PrecheckResult, error) {
	balanceOracle, err := v.providers.Oracle(provider)
	if err != nil {
		return nil, err
	}

	result := &PrecheckResult{
		Provider:      provider,
		Chain:         chainName,
		WalletAddress: address,
		RequiredUSDC:  amountUSD.String(),
		USDCBalance:   "0",
		NativeBalance: "0",
		EstimatedGas:  "0",
		usdc:          decimal.Zero,
	}

	network, ok := chain.Lookup(chainName)
	if !ok {
		result.Error = fmt.Sprintf("Unsupported chain: %s", chainName)
		return result, nil
	}
	result.NativeSymbol = network.NativeSymbol
	result.EstimatedGas = network.GasReserve.String()

	if err := network.ValidateAddress(address); err != nil {
		result.Error = fmt.Sprintf("Invalid wallet address for %s", network.Name)
		return result, nil
	}

	oracleCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := v.now()
	balances, err := balanceOracle.GetBalances(oracleCtx, address, network.Name)
	v.metrics.OracleDuration(network.Name, time.Since(start))
	if err == nil && oracleCtx.Err() != nil {
		err = oracleCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperr.Wrap(apperr.KindTransport, err, "Balance lookup timed out after %s", v.timeout)
		}
		v.logger.Warn("balance precheck failed",
			zap.String("provider", provider),
			zap.String("chain", network.Name),
			zap.String("wallet_address", address),
			zap.Error(err),
		)
		result.Error = apperr.MessageOf(err)
		return result, nil
	}

	result.usdc = balances.Stable
	result.USDCBalance = balances.Stable.String()
	result.NativeBalance = balances.Native.String()

	hasUSDC := balances.Stable.GreaterThanOrEqual(amountUSD)
	hasGas := balances.Native.GreaterThanOrEqual(network.GasReserve)
	result.CanPay = hasUSDC && hasGas

	if !result.CanPay {
		shortfall := &Shortfall{USDC: decimal.Zero.StringFixed(6), Native: "0"}
		if !hasUSDC {
			shortfall.USDC = amountUSD.Sub(balances.Stable).StringFixed(6)
		}
		if !hasGas {
			shortfall.Native = network.GasReserve.Sub(balances.Native).String()
		}
		result.Shortfall = shortfall
	}
	return result, nil
}

// PrecheckAndRecord runs Precheck and persists exactly one BalanceCheck row for it, including when the
// oracle failed. Only an unknown provider or a failed save return an error.
func (v *BalanceVerifier) PrecheckAndRecord(ctx context.Context, in PrecheckAndRecordInput) (*RecordedPrecheck, error) {
	result, err := v.Precheck(ctx, in.Provider, in.WalletAddress, in.Chain, in.Amount)
	if err != nil {
		return nil, err
	}

	check := &models.BalanceCheck{
		UserID:          in.UserID,
		WalletAddress:   in.WalletAddress,
		Chain:           canonicalChain(in.Chain),
		RequestedAmount: in.Amount,
		ActualBalance:   decimal.Zero,
		Provider:        in.Provider,
		Metadata: in.Metadata.Merge(models.Metadata{
			"source":          in.Source,
			"precheckDetails": precheckDetails(result),
		}),
	}
	switch {
	case result.Error != "":
		check.Status = models.BalanceStatusError
		msg := result.Error
		check.ErrorMessage = &msg
	case result.CanPay:
		check.Status = models.BalanceStatusSufficient
		check.ActualBalance = result.usdc
	default:
		check.Status = models.BalanceStatusInsufficient
		check.ActualBalance = result.usdc
	}

	if err := v.checks.Save(ctx, check); err != nil {
		return nil, fmt.Errorf("save balance check: %w", err)
	}
	v.metrics.BalanceCheck(check.Chain, check.Status)

	v.logger.Info("balance check recorded",
		zap.String("balance_check_id", check.ID),
		zap.String("user_id", check.UserID),
		zap.String("chain", check.Chain),
		zap.String("status", check.Status),
	)
	return &RecordedPrecheck{
		Result:         result,
		BalanceCheckID: check.ID,
		Status:         check.Status,
		BalanceCheck:   check,
	}, nil
}

// RecentSufficientCheck returns the newest SUFFICIENT check for the exact tuple within the last
// withinMinutes (5 when unset), or nil.
func (v *BalanceVerifier) RecentSufficientCheck(ctx context.Context, userID, address, chainName string, amount decimal.Decimal, withinMinutes int) (*models.BalanceCheck, error) {
	if withinMinutes <= 0 {
		withinMinutes = defaultRecentWindowMinutes
	}
	since := v.now().Add(-time.Duration(withinMinutes) * time.Minute)
	return v.checks.LatestSufficient(ctx, userID, address, canonicalChain(chainName), amount, since)
}

// canonicalChain returns the registered network name for chainName, or chainName unchanged when unknown.
func canonicalChain(chainName string) string {
	if network, ok := chain.Lookup(chainName); ok {
		return network.Name
	}
	return chainName
}

// BalanceCheckHistory returns a user's newest checks.
func (v *BalanceVerifier) BalanceCheckHistory(ctx context.Context, userID string, limit int) ([]models.BalanceCheck, error) {
	return v.checks.ListByUser(ctx, userID, limit)
}

// BalanceCheckByID returns a check or NotFound.
func (v *BalanceVerifier) BalanceCheckByID(ctx context.Context, id string) (*models.BalanceCheck, error) {
	check, err := v.checks.GetByID(ctx, id)
	if errors.Is(err, repository.ErrBalanceCheckNotFound) {
		return nil, apperr.NotFound("Balance check %s not found", id)
	}
	return check, err
}

func precheckDetails(r *PrecheckResult) map[string]interface{} {
	details := map[string]interface{}{
		"canPay":        r.CanPay,
		"usdcBalance":   r.USDCBalance,
		"nativeBalance": r.NativeBalance,
		"estimatedGas":  r.EstimatedGas,
		"requiredUsdc":  r.RequiredUSDC,
	}
	if r.Shortfall != nil {
		details["shortfall"] = map[string]interface{}{"usdc": r.Shortfall.USDC, "native": r.Shortfall.Native}
	}
	if r.Error != "" {
		details["error"] = r.Error
	}
	return details
}
