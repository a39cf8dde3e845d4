package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeePolicy is the versioned rate record passed into the order splitter and
// payout engine at call time, so historical orders keep the rates in effect
// when they were created.
type FeePolicy struct {
	Version        int             `json:"version"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	GatewayFeeRate decimal.Decimal `json:"gateway_fee_rate"`
}

// NewFeePolicy parses the configured decimal rate strings.
func NewFeePolicy(commissionRate, gatewayFeeRate string) (FeePolicy, error) {
	commission, err := decimal.NewFromString(commissionRate)
	if err != nil {
		return FeePolicy{}, fmt.Errorf("parsing commission rate: %w", err)
	}
	gateway, err := decimal.NewFromString(gatewayFeeRate)
	if err != nil {
		return FeePolicy{}, fmt.Errorf("parsing gateway fee rate: %w", err)
	}
	policy := FeePolicy{Version: 1, CommissionRate: commission, GatewayFeeRate: gateway}
	if err := policy.Validate(); err != nil {
		return FeePolicy{}, err
	}
	return policy, nil
}

// Validate bounds both rates to [0, 1).
func (p FeePolicy) Validate() error {
	one := decimal.NewFromInt(1)
	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("commission rate %s out of range", p.CommissionRate)
	}
	if p.GatewayFeeRate.IsNegative() || p.GatewayFeeRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("gateway fee rate %s out of range", p.GatewayFeeRate)
	}
	return nil
}

// CommissionOn computes the platform commission on an amount of paise,
// rounded half-up to a whole paisa.
func (p FeePolicy) CommissionOn(amountPaise int64, override *decimal.Decimal) int64 {
	rate := p.CommissionRate
	if override != nil {
		rate = *override
	}
	return decimal.NewFromInt(amountPaise).Mul(rate).Round(0).IntPart()
}

// GatewayFeeOn computes the payment gateway fee on an amount of paise.
func (p FeePolicy) GatewayFeeOn(amountPaise int64) int64 {
	return decimal.NewFromInt(amountPaise).Mul(p.GatewayFeeRate).Round(0).IntPart()
}
