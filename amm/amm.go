// Package amm prices cross-chain swaps against the router's virtual
// liquidity pools. The model is a stable-swap invariant over weighted
// 18-decimal balances with a constant-product fallback for two-asset
// pools when the virtual AMM is disabled. All arithmetic is integer;
// determinism is part of the contract.
package amm

import (
	"math/big"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Model prices swaps with a fixed amplification and price-impact bound.
//
// Fields:
// - amplification: the stable-swap amplification coefficient.
// - maxPriceImpact: the largest tolerated output shortfall as a fraction.
// - allowVirtualAMM: whether multi-asset stable-swap pricing is enabled.
type Model struct {
	amplification   uint64
	maxPriceImpact  decimal.Decimal
	allowVirtualAMM bool
}

// NewModel creates a new Model instance.
//
// Parameters:
// - amplification: the stable-swap amplification coefficient, at least 1.
// - maxPriceImpact: the price impact bound, a fraction in (0, 1).
// - allowVirtualAMM: enables stable-swap pricing for two-asset pools.
//
// Returns:
// - *Model: a new Model instance.
func NewModel(amplification uint64, maxPriceImpact decimal.Decimal, allowVirtualAMM bool) *Model {
	if amplification == 0 {
		amplification = 1
	}
	return &Model{
		amplification:   amplification,
		maxPriceImpact:  maxPriceImpact,
		allowVirtualAMM: allowVirtualAMM,
	}
}

// AmountReceived prices a swap of amount from the input pool asset to the
// output pool asset and returns the deliverable output amount.
//
// Parameters:
// - amount: the input amount in input-asset decimals, positive.
// - inputDecimals: the input asset's decimal count.
// - outputDecimals: the output asset's decimal count.
// - balances: the pool balances, normalized to 18 decimals with weights applied.
// - inputIdx: the input asset's index within balances.
// - outputIdx: the output asset's index within balances.
//
// Returns:
// - *big.Int: the output amount in output-asset decimals, floored.
// - error: a ParamsInvalid error on degenerate inputs, or PriceImpactTooHigh
//   when the output falls short of the input by more than the bound.
func (m *Model) AmountReceived(amount *big.Int, inputDecimals, outputDecimals uint8, balances []*big.Int, inputIdx, outputIdx int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.New(errors.KindParamsInvalid, "swap amount must be positive")
	}
	if len(balances) < 2 {
		return nil, errors.New(errors.KindParamsInvalid, "pool must hold at least two assets")
	}
	if inputIdx < 0 || inputIdx >= len(balances) || outputIdx < 0 || outputIdx >= len(balances) || inputIdx == outputIdx {
		return nil, errors.New(errors.KindParamsInvalid, "swap indices out of range")
	}

	xp := make([]*uint256.Int, len(balances))
	for i, balance := range balances {
		if balance == nil || balance.Sign() <= 0 {
			return nil, errors.New(errors.KindParamsInvalid, "pool balances must be positive")
		}
		converted, overflow := uint256.FromBig(balance)
		if overflow {
			return nil, errors.New(errors.KindParamsInvalid, "pool balance does not fit in 256 bits")
		}
		xp[i] = converted
	}

	x := scaleToWad(amount, inputDecimals)
	if x.IsZero() {
		return nil, errors.New(errors.KindParamsInvalid, "swap amount rounds to zero at 18 decimals")
	}

	var dy *uint256.Int
	if !m.allowVirtualAMM && len(balances) == 2 {
		dy = constantProduct(x, xp[inputIdx], xp[outputIdx])
	} else {
		newX := new(uint256.Int).Add(xp[inputIdx], x)
		y, err := solveY(inputIdx, outputIdx, newX, xp, m.amplification)
		if err != nil {
			return nil, err
		}
		dy = new(uint256.Int)
		if xp[outputIdx].Gt(y) {
			dy.Sub(xp[outputIdx], y)
			if !dy.IsZero() {
				dy.SubUint64(dy, 1)
			}
		}
	}

	if err := m.checkPriceImpact(x, dy); err != nil {
		return nil, err
	}

	return scaleFromWad(dy, outputDecimals), nil
}

// checkPriceImpact rejects swaps whose 18-decimal output falls short of
// the input by more than the configured bound. A favorable swap (output
// above input) has negative impact and always passes.
func (m *Model) checkPriceImpact(x, dy *uint256.Int) error {
	input := decimal.NewFromBigInt(x.ToBig(), 0)
	output := decimal.NewFromBigInt(dy.ToBig(), 0)

	impact := decimal.New(1, 0).Sub(output.Div(input))
	if impact.GreaterThan(m.maxPriceImpact) {
		return errors.New(errors.KindPriceImpactTooHigh, "swap output falls short of the price impact bound").
			WithContext("priceImpact", impact.String()).
			WithContext("maxPriceImpact", m.maxPriceImpact.String())
	}
	return nil
}

// Normalize scales a pool balance to 18 decimals and applies the chain
// weight, producing the balance vector entries AmountReceived consumes.
//
// Parameters:
// - balance: the raw asset balance.
// - decimals: the asset's decimal count.
// - weight: the chain weight, at least 1.
//
// Returns:
// - *big.Int: the weighted 18-decimal balance.
func Normalize(balance *big.Int, decimals uint8, weight uint64) *big.Int {
	if balance == nil {
		return new(big.Int)
	}
	if weight == 0 {
		weight = 1
	}

	normalized, overflow := uint256.FromBig(balance)
	if overflow {
		return new(big.Int)
	}
	switch {
	case decimals < 18:
		normalized.Mul(normalized, pow10(18-decimals))
	case decimals > 18:
		normalized.Div(normalized, pow10(decimals-18))
	}
	normalized.Mul(normalized, uint256.NewInt(weight))
	return normalized.ToBig()
}

func scaleToWad(amount *big.Int, decimals uint8) *uint256.Int {
	scaled, _ := uint256.FromBig(amount)
	switch {
	case decimals < 18:
		scaled.Mul(scaled, pow10(18-decimals))
	case decimals > 18:
		scaled.Div(scaled, pow10(decimals-18))
	}
	return scaled
}

func scaleFromWad(amount *uint256.Int, decimals uint8) *big.Int {
	scaled := new(uint256.Int).Set(amount)
	switch {
	case decimals < 18:
		scaled.Div(scaled, pow10(18-decimals))
	case decimals > 18:
		scaled.Mul(scaled, pow10(decimals-18))
	}
	return scaled.ToBig()
}

func pow10(n uint8) *uint256.Int {
	result := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		result.Mul(result, ten)
	}
	return result
}
