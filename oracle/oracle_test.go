package oracle

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Kuzirashi/nxtp/chains/evm"
	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	types.ChainService

	id        types.ChainID
	gasPrice  *big.Int
	prices    map[common.Address]*big.Int
	decimals  uint8
	readCalls atomic.Int64
}

func (f *fakeChain) ChainID() types.ChainID { return f.id }

func (f *fakeChain) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) GetDecimalsForAsset(ctx context.Context, assetID string) (uint8, error) {
	return f.decimals, nil
}

func (f *fakeChain) ReadTransaction(ctx context.Context, to string, data []byte) ([]byte, error) {
	f.readCalls.Add(1)
	// getTokenPrice(address): the argument is the right-aligned last 20
	// bytes of the single 32-byte word after the selector.
	asset := common.BytesToAddress(data[16:36])
	price, ok := f.prices[asset]
	if !ok {
		return nil, errors.New(errors.KindRpcError, "no price for asset")
	}
	return common.LeftPadBytes(price.Bytes(), 32), nil
}

type fakeChains map[types.ChainID]types.ChainService

func (f fakeChains) Get(chainID types.ChainID) (types.ChainService, error) {
	chain, ok := f[chainID]
	if !ok {
		return nil, errors.New(errors.KindChainNotSupported, "chain not configured")
	}
	return chain, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestGasEstimateDefaultsAndOverrides(t *testing.T) {
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337, GasEstimates: map[types.ActionKind]uint64{types.ActionPrepare: 50000}},
	}
	oracle, err := NewOracle(fakeChains{}, configs, false, testLogger())
	require.NoError(t, err)

	assert.Equal(t, uint64(50000), oracle.GasEstimate(1337, types.ActionPrepare))
	assert.Equal(t, uint64(200000), oracle.GasEstimate(1337, types.ActionFulfill))
	assert.Equal(t, uint64(204271), oracle.GasEstimate(9999, types.ActionCancel))
}

func TestGasFeeZeroWithoutOracle(t *testing.T) {
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337},
	}
	oracle, err := NewOracle(fakeChains{}, configs, false, testLogger())
	require.NoError(t, err)

	fee, err := oracle.GasFee(context.Background(), 1337, evm.AddressZero, 18, types.ActionPrepare)
	require.NoError(t, err)
	assert.Zero(t, fee.Sign())
}

func TestGasFeeConvertsToTokenUnits(t *testing.T) {
	token := "0x00000000000000000000000000000000000000aa"
	chain := &fakeChain{
		id:       1337,
		gasPrice: big.NewInt(100_000_000_000), // 100 gwei
		prices: map[common.Address]*big.Int{
			common.HexToAddress(evm.AddressZero): wad(2000), // native at 2000
			common.HexToAddress(token):           wad(1),    // stable at 1
		},
	}
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337, PriceOracleAddress: "0x00000000000000000000000000000000000000ff"},
	}
	oracle, err := NewOracle(fakeChains{1337: chain}, configs, false, testLogger())
	require.NoError(t, err)

	// 100 gwei * 190000 units = 1.9e16 wei; at 2000 per native that is
	// 38 tokens, which is 38_000000 at 6 decimals.
	fee, err := oracle.GasFee(context.Background(), 1337, token, 6, types.ActionPrepare)
	require.NoError(t, err)
	assert.Equal(t, "38000000", fee.String())

	// The native asset prices against itself, so the fee is the raw wei cost.
	nativeFee, err := oracle.GasFee(context.Background(), 1337, evm.AddressZero, 18, types.ActionPrepare)
	require.NoError(t, err)
	assert.Equal(t, "19000000000000000", nativeFee.String())
}

func TestGasPriceUsesStationWithBump(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "number", body: `{"fast": 100}`, want: "110000000000"},
		{name: "string", body: `{"fast": "100"}`, want: "110000000000"},
		{name: "fractional", body: `{"fast": 20.5}`, want: "22550000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			configs := map[types.ChainID]*types.ChainConfig{
				1337: {ChainID: 1337, GasStations: []string{server.URL}},
			}
			oracle, err := NewOracle(fakeChains{}, configs, false, testLogger())
			require.NoError(t, err)

			price, err := oracle.GasPrice(context.Background(), 1337)
			require.NoError(t, err)
			assert.Equal(t, tt.want, price.String())
		})
	}
}

func TestGasPriceFallsBackToRPC(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	chain := &fakeChain{id: 1337, gasPrice: big.NewInt(42_000_000_000)}
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337, GasStations: []string{server.URL}},
	}
	oracle, err := NewOracle(fakeChains{1337: chain}, configs, false, testLogger())
	require.NoError(t, err)

	price, err := oracle.GasPrice(context.Background(), 1337)
	require.NoError(t, err)
	assert.Equal(t, "42000000000", price.String())
}

func TestTokenPriceRequiresOracle(t *testing.T) {
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337},
	}
	oracle, err := NewOracle(fakeChains{}, configs, false, testLogger())
	require.NoError(t, err)

	_, err = oracle.TokenPrice(context.Background(), 1337, evm.AddressZero)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindChainNotSupported))
}

func TestTokenPriceCaching(t *testing.T) {
	chain := &fakeChain{
		id: 1337,
		prices: map[common.Address]*big.Int{
			common.HexToAddress(evm.AddressZero): wad(1800),
		},
	}
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337, PriceOracleAddress: "0x00000000000000000000000000000000000000ff"},
	}

	cached, err := NewOracle(fakeChains{1337: chain}, configs, true, testLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		price, err := cached.TokenPrice(context.Background(), 1337, evm.AddressZero)
		require.NoError(t, err)
		assert.Equal(t, wad(1800).String(), price.String())
	}
	assert.Equal(t, int64(1), chain.readCalls.Load())

	chain.readCalls.Store(0)
	uncached, err := NewOracle(fakeChains{1337: chain}, configs, false, testLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := uncached.TokenPrice(context.Background(), 1337, evm.AddressZero)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), chain.readCalls.Load())
}

func TestGasFeeInReceivingTokenSumsBothSides(t *testing.T) {
	token := "0x00000000000000000000000000000000000000aa"
	sending := &fakeChain{
		id:       1337,
		gasPrice: big.NewInt(100_000_000_000),
		prices: map[common.Address]*big.Int{
			common.HexToAddress(evm.AddressZero): wad(2000),
			common.HexToAddress(token):           wad(1),
		},
	}
	receiving := &fakeChain{
		id:       1338,
		gasPrice: big.NewInt(50_000_000_000),
		prices: map[common.Address]*big.Int{
			common.HexToAddress(evm.AddressZero): wad(2000),
			common.HexToAddress(token):           wad(1),
		},
	}
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337, PriceOracleAddress: "0x00000000000000000000000000000000000000ff"},
		1338: {ChainID: 1338, PriceOracleAddress: "0x00000000000000000000000000000000000000ff"},
	}
	oracle, err := NewOracle(fakeChains{1337: sending, 1338: receiving}, configs, false, testLogger())
	require.NoError(t, err)

	// Sender fulfill: 100 gwei * 200000 * 2000 = 40 tokens.
	// Receiver prepare: 50 gwei * 190000 * 2000 = 19 tokens.
	fee, err := oracle.GasFeeInReceivingToken(context.Background(), 1337, token, 1338, token, 18)
	require.NoError(t, err)
	assert.Equal(t, wad(59).String(), fee.String())
}

func TestRelayerFeeDefaultsToNativeAsset(t *testing.T) {
	chain := &fakeChain{
		id:       1337,
		gasPrice: big.NewInt(100_000_000_000),
		prices: map[common.Address]*big.Int{
			common.HexToAddress(evm.AddressZero): wad(2000),
		},
	}
	configs := map[types.ChainID]*types.ChainConfig{
		1337: {ChainID: 1337, PriceOracleAddress: "0x00000000000000000000000000000000000000ff"},
	}
	oracle, err := NewOracle(fakeChains{1337: chain}, configs, false, testLogger())
	require.NoError(t, err)

	// Native-denominated relayer fee is the raw gas cost: 100 gwei * 204271.
	fee, err := oracle.RelayerFee(context.Background(), 1337, types.ActionCancel)
	require.NoError(t, err)
	assert.Equal(t, "20427100000000000", fee.String())
}
