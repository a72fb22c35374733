package amm

import (
	"math/big"
	"testing"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func impact(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	return parsed
}

func TestConstantProductExactOutput(t *testing.T) {
	model := NewModel(85, impact(t, "0.1"), false)
	balances := []*big.Int{wad(1_000_000), wad(1_000_000)}

	// dy = 1e24 * 1e22 / (1e24 + 1e22), floored.
	out, err := model.AmountReceived(wad(10_000), 18, 18, balances, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "9900990099009900990099", out.String())
}

func TestConstantProductPriceImpactRejected(t *testing.T) {
	model := NewModel(85, impact(t, "0.1"), false)
	balances := []*big.Int{wad(1_000_000), wad(1_000_000)}

	// A 30% of pool swap loses ~23% to slippage on x*y=k.
	_, err := model.AmountReceived(wad(300_000), 18, 18, balances, 0, 1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPriceImpactTooHigh))

	var kindErr *errors.Error
	require.ErrorAs(t, err, &kindErr)
	assert.Contains(t, kindErr.Context, "priceImpact")
	assert.Contains(t, kindErr.Context, "maxPriceImpact")
}

func TestStableSwapHoldsPegOnBalancedPool(t *testing.T) {
	model := NewModel(85, impact(t, "0.1"), true)
	balances := []*big.Int{wad(1_000_000), wad(1_000_000)}

	in := wad(100)
	out, err := model.AmountReceived(in, 18, 18, balances, 0, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Sign())
	assert.True(t, out.Cmp(in) <= 0, "output must not exceed input on a balanced pool")

	// Slippage for a 0.01% of pool trade at A=85 is far below 0.1%.
	floor := new(big.Int).Div(new(big.Int).Mul(in, big.NewInt(999)), big.NewInt(1000))
	assert.True(t, out.Cmp(floor) >= 0, "output %s below 99.9%% of input", out)
}

func TestStableSwapOutputGrowsSublinearly(t *testing.T) {
	model := NewModel(85, impact(t, "0.5"), true)
	balances := []*big.Int{wad(1_000_000), wad(500_000)}

	small, err := model.AmountReceived(wad(10_000), 18, 18, balances, 0, 1)
	require.NoError(t, err)
	large, err := model.AmountReceived(wad(20_000), 18, 18, balances, 0, 1)
	require.NoError(t, err)

	assert.True(t, large.Cmp(small) > 0, "more input must buy more output")

	double := new(big.Int).Mul(small, big.NewInt(2))
	assert.True(t, large.Cmp(double) <= 0, "output must grow at most linearly")
}

func TestStableSwapThreeAssetPool(t *testing.T) {
	model := NewModel(85, impact(t, "0.1"), true)
	balances := []*big.Int{wad(1_000_000), wad(1_000_000), wad(1_000_000)}

	in := wad(1000)
	out, err := model.AmountReceived(in, 18, 18, balances, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sign())
	assert.True(t, out.Cmp(in) <= 0)
}

func TestAmountReceivedIsDeterministic(t *testing.T) {
	model := NewModel(85, impact(t, "0.1"), true)
	balances := []*big.Int{wad(3_333_333), wad(2_222_222)}

	first, err := model.AmountReceived(wad(12_345), 18, 18, balances, 0, 1)
	require.NoError(t, err)
	second, err := model.AmountReceived(wad(12_345), 18, 18, balances, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
}

func TestAmountReceivedScalesDecimals(t *testing.T) {
	model := NewModel(85, impact(t, "0.1"), true)
	balances := []*big.Int{wad(1_000_000), wad(1_000_000)}

	// 1 token at 6 decimals in, expect just under 1 token at 6 decimals out.
	out, err := model.AmountReceived(big.NewInt(1_000_000), 6, 6, balances, 0, 1)
	require.NoError(t, err)
	assert.True(t, out.Uint64() > 999_000 && out.Uint64() <= 1_000_000, "got %s", out)
}

func TestAmountReceivedRejectsDegenerateInputs(t *testing.T) {
	model := NewModel(85, impact(t, "0.1"), true)
	good := []*big.Int{wad(1000), wad(1000)}

	tests := []struct {
		name      string
		amount    *big.Int
		balances  []*big.Int
		inputIdx  int
		outputIdx int
	}{
		{name: "nil amount", amount: nil, balances: good, inputIdx: 0, outputIdx: 1},
		{name: "zero amount", amount: big.NewInt(0), balances: good, inputIdx: 0, outputIdx: 1},
		{name: "negative amount", amount: big.NewInt(-5), balances: good, inputIdx: 0, outputIdx: 1},
		{name: "single asset pool", amount: big.NewInt(1), balances: good[:1], inputIdx: 0, outputIdx: 0},
		{name: "same indices", amount: big.NewInt(1), balances: good, inputIdx: 1, outputIdx: 1},
		{name: "index out of range", amount: big.NewInt(1), balances: good, inputIdx: 0, outputIdx: 2},
		{name: "zero balance", amount: big.NewInt(1), balances: []*big.Int{wad(1000), big.NewInt(0)}, inputIdx: 0, outputIdx: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.AmountReceived(tt.amount, 18, 18, tt.balances, tt.inputIdx, tt.outputIdx)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindParamsInvalid))
		})
	}
}

func TestNormalizeScalesAndWeights(t *testing.T) {
	tests := []struct {
		name     string
		balance  *big.Int
		decimals uint8
		weight   uint64
		want     string
	}{
		{name: "6 to 18", balance: big.NewInt(1_000_000), decimals: 6, weight: 1, want: wad(1).String()},
		{name: "weight applied", balance: big.NewInt(1_000_000), decimals: 6, weight: 2, want: wad(2).String()},
		{name: "18 unchanged", balance: wad(7), decimals: 18, weight: 1, want: wad(7).String()},
		{name: "20 to 18", balance: new(big.Int).Mul(big.NewInt(100), wad(1)), decimals: 20, weight: 1, want: wad(1).String()},
		{name: "zero weight treated as one", balance: wad(3), decimals: 18, weight: 0, want: wad(3).String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.balance, tt.decimals, tt.weight).String())
		})
	}
}

func TestSolveDBalancedPool(t *testing.T) {
	b, _ := uint256.FromBig(wad(1_000_000))
	d, err := solveD([]*uint256.Int{b, b}, 85)
	require.NoError(t, err)

	// A perfectly balanced pool converges to D = sum immediately.
	assert.Equal(t, wad(2_000_000).String(), d.ToBig().String())
}
