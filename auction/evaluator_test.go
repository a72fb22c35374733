package auction

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kuzirashi/nxtp/amm"
	"github.com/Kuzirashi/nxtp/chains/evm/signer"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/Kuzirashi/nxtp/metrics"
)

const (
	testUser             = "0x1111111111111111111111111111111111111111"
	testReceiver         = "0x2222222222222222222222222222222222222222"
	testSendingAsset     = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testReceivingAsset   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testTransactionID    = "0x0101010101010101010101010101010101010101010101010101010101010101"
	testSendingManager   = "0xcccccccccccccccccccccccccccccccccccccccc"
	testReceivingManager = "0xdddddddddddddddddddddddddddddddddddddddd"
)

var (
	testSendingChain   = types.ChainID(1337)
	testReceivingChain = types.ChainID(1338)
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

type fakeChain struct {
	types.ChainService

	id            types.ChainID
	decimals      uint8
	nativeBalance *big.Int
}

func (f *fakeChain) ChainID() types.ChainID {
	return f.id
}

func (f *fakeChain) GetDecimalsForAsset(_ context.Context, _ string) (uint8, error) {
	return f.decimals, nil
}

func (f *fakeChain) GetBalance(_ context.Context, _ string) (*big.Int, error) {
	return new(big.Int).Set(f.nativeBalance), nil
}

type fakeChains struct {
	services  map[types.ChainID]*fakeChain
	unhealthy map[types.ChainID]bool
}

func (f *fakeChains) Get(chainID types.ChainID) (types.ChainService, error) {
	service, ok := f.services[chainID]
	if !ok {
		return nil, rerrors.Newf(rerrors.KindChainNotSupported, "no service for chain %s", chainID)
	}
	return service, nil
}

func (f *fakeChains) Healthy(chainID types.ChainID) bool {
	return !f.unhealthy[chainID]
}

type balanceKey struct {
	chainID types.ChainID
	assetID string
}

type fakeLiquidity struct {
	unsynced map[types.ChainID]bool
	records  map[types.ChainID][]types.SyncRecord
	balances map[balanceKey]*big.Int
}

func (f *fakeLiquidity) IsSynced(_ context.Context, chainID types.ChainID) (bool, []types.SyncRecord, error) {
	synced := !f.unsynced[chainID]
	records := f.records[chainID]
	if records == nil {
		records = []types.SyncRecord{{URI: "http://indexer.test", Synced: synced, LatestBlock: 100, SyncedBlock: 100}}
	}
	return synced, records, nil
}

func (f *fakeLiquidity) GetAssetBalance(_ context.Context, assetID string, chainID types.ChainID) (*big.Int, error) {
	balance, ok := f.balances[balanceKey{chainID: chainID, assetID: assetID}]
	if !ok {
		return nil, errors.Errorf("no balance fixture for %s on chain %s", assetID, chainID)
	}
	return new(big.Int).Set(balance), nil
}

type fakeFees struct {
	fee *big.Int
	err error
}

func (f *fakeFees) GasFeeInReceivingToken(_ context.Context, _ types.ChainID, _ string, _ types.ChainID, _ string, _ uint8) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.fee), nil
}

type evalFixture struct {
	evaluator *Evaluator
	clock     *fakeClock
	chains    *fakeChains
	liquidity *fakeLiquidity
	fees      *fakeFees
	router    string
}

func newTestEvaluator(t *testing.T) *evalFixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	routerSigner, err := signer.NewLocalSigner(key)
	require.NoError(t, err)

	clock := &fakeClock{current: time.Unix(1700000000, 0)}

	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	chains := &fakeChains{
		services: map[types.ChainID]*fakeChain{
			testSendingChain:   {id: testSendingChain, decimals: 18, nativeBalance: oneEther},
			testReceivingChain: {id: testReceivingChain, decimals: 18, nativeBalance: oneEther},
		},
		unhealthy: map[types.ChainID]bool{},
	}

	deep := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	liquidity := &fakeLiquidity{
		unsynced: map[types.ChainID]bool{},
		records:  map[types.ChainID][]types.SyncRecord{},
		balances: map[balanceKey]*big.Int{
			{chainID: testSendingChain, assetID: testSendingAsset}:     new(big.Int).Set(deep),
			{chainID: testReceivingChain, assetID: testReceivingAsset}: new(big.Int).Set(deep),
		},
	}

	fees := &fakeFees{fee: big.NewInt(250)}

	minGas := new(big.Int).SetUint64(100000000000000000)
	configs := map[types.ChainID]*types.ChainConfig{
		testSendingChain: {
			ChainID:                   testSendingChain,
			MinGas:                    minGas,
			TransactionManagerAddress: testSendingManager,
			Weight:                    1,
		},
		testReceivingChain: {
			ChainID:                   testReceivingChain,
			MinGas:                    minGas,
			TransactionManagerAddress: testReceivingManager,
			Weight:                    1,
		},
	}

	pool := types.SwapPool{
		Name: "TEST",
		Assets: []types.PoolAsset{
			{ChainID: testSendingChain, AssetID: testSendingAsset},
			{ChainID: testReceivingChain, AssetID: testReceivingAsset},
		},
	}

	limiter := newRateLimiter(5 * time.Second)
	limiter.now = clock.Now

	evaluator := &Evaluator{
		logger:    testLogger(),
		signer:    routerSigner,
		metrics:   metrics.New(),
		chains:    chains,
		configs:   configs,
		pools:     []types.SwapPool{pool},
		model:     amm.NewModel(85, decimal.RequireFromString("0.1"), true),
		liquidity: liquidity,
		fees:      fees,
		limiter:   limiter,
		now:       clock.Now,
	}

	return &evalFixture{
		evaluator: evaluator,
		clock:     clock,
		chains:    chains,
		liquidity: liquidity,
		fees:      fees,
		router:    routerSigner.Address(),
	}
}

func testPayload() *types.AuctionPayload {
	return &types.AuctionPayload{
		User:             testUser,
		Initiator:        testUser,
		SendingChainID:   testSendingChain,
		SendingAssetID:   testSendingAsset,
		Amount:           "1000000",
		ReceivingChainID: testReceivingChain,
		ReceivingAssetID: testReceivingAsset,
		ReceivingAddress: testReceiver,
		Expiry:           1700000000 + 3600,
		TransactionID:    testTransactionID,
	}
}

func requireKind(t *testing.T, err error, kind rerrors.Kind) *rerrors.Error {
	t.Helper()
	require.Error(t, err)
	var kindErr *rerrors.Error
	require.ErrorAs(t, err, &kindErr)
	require.Equal(t, kind, kindErr.Kind)
	return kindErr
}

func TestEvaluateAnswersWithSignedBid(t *testing.T) {
	f := newTestEvaluator(t)
	payload := testPayload()

	response, err := f.evaluator.Evaluate(context.Background(), payload)
	require.NoError(t, err)

	require.NotEmpty(t, response.BidSignature)
	require.NoError(t, VerifyBidSignature(&response.Bid, response.BidSignature))

	assert.Equal(t, f.router, response.Bid.Router)
	assert.Equal(t, payload.TransactionID, response.Bid.TransactionID)
	assert.Equal(t, payload.Amount, response.Bid.Amount)
	assert.Equal(t, testSendingManager, response.Bid.SendingChainTxManagerAddress)
	assert.Equal(t, testReceivingManager, response.Bid.ReceivingChainTxManagerAddress)
	assert.Equal(t, uint64(1700000000+bidTTLSec), response.Bid.BidExpiry)
	assert.Equal(t, "250", response.GasFeeInReceivingToken)

	amountReceived, ok := new(big.Int).SetString(response.Bid.AmountReceived, 10)
	require.True(t, ok)
	assert.Equal(t, 1, amountReceived.Sign())
	// Curve slip plus the deducted gas fee keep the quote under the input.
	assert.True(t, amountReceived.Cmp(big.NewInt(1000000)) < 0)
}

func TestEvaluateDryRunSuppressesSignature(t *testing.T) {
	f := newTestEvaluator(t)
	payload := testPayload()
	payload.DryRun = true

	response, err := f.evaluator.Evaluate(context.Background(), payload)
	require.NoError(t, err)

	assert.Empty(t, response.BidSignature)
	assert.Equal(t, "250", response.GasFeeInReceivingToken)
	assert.NotEmpty(t, response.Bid.AmountReceived)

	// Dry runs still consume the lane's quota.
	_, admitted := f.evaluator.limiter.check(limiterKeyFor(payload))
	assert.False(t, admitted)
}

func TestEvaluateRateLimitsRepeatQuotes(t *testing.T) {
	f := newTestEvaluator(t)
	payload := testPayload()

	_, err := f.evaluator.Evaluate(context.Background(), payload)
	require.NoError(t, err)

	f.clock.Advance(1000 * time.Millisecond)

	_, err = f.evaluator.Evaluate(context.Background(), payload)
	kindErr := requireKind(t, err, rerrors.KindAuctionRateExceeded)
	assert.EqualValues(t, 1000, kindErr.Context["elapsedMs"])
	assert.EqualValues(t, 5000, kindErr.Context["minimalPeriod"])

	f.clock.Advance(4 * time.Second)

	_, err = f.evaluator.Evaluate(context.Background(), payload)
	require.NoError(t, err)
}

func TestEvaluateReportsUnsyncedIndexers(t *testing.T) {
	f := newTestEvaluator(t)
	records := []types.SyncRecord{
		{URI: "http://indexer.test", Synced: false, LatestBlock: 100, SyncedBlock: 40, Lag: 60},
	}
	f.liquidity.unsynced[testReceivingChain] = true
	f.liquidity.records[testReceivingChain] = records

	_, err := f.evaluator.Evaluate(context.Background(), testPayload())
	kindErr := requireKind(t, err, rerrors.KindSubgraphNotSynced)
	assert.Equal(t, testReceivingChain.String(), kindErr.Context["chainId"])
	assert.Equal(t, records, kindErr.Context["records"])
}

func TestEvaluateRejectsThinReceiverLiquidity(t *testing.T) {
	f := newTestEvaluator(t)

	// A weighted receiving chain makes the curve quote more than the raw
	// balance can pay out.
	f.liquidity.balances[balanceKey{chainID: testSendingChain, assetID: testSendingAsset}] = big.NewInt(1000000)
	f.liquidity.balances[balanceKey{chainID: testReceivingChain, assetID: testReceivingAsset}] = big.NewInt(100000)
	f.evaluator.configs[testReceivingChain].Weight = 10

	payload := testPayload()
	payload.Amount = "300000"

	_, err := f.evaluator.Evaluate(context.Background(), payload)
	kindErr := requireKind(t, err, rerrors.KindNotEnoughLiquidity)
	assert.Equal(t, "100000", kindErr.Context["balance"])

	quoted, ok := new(big.Int).SetString(kindErr.Context["amountReceived"].(string), 10)
	require.True(t, ok)
	assert.True(t, quoted.Cmp(big.NewInt(100000)) > 0)
}

func TestEvaluateRejectsExpiringAuction(t *testing.T) {
	f := newTestEvaluator(t)
	payload := testPayload()
	payload.Expiry = 1700000000 + 200

	_, err := f.evaluator.Evaluate(context.Background(), payload)
	kindErr := requireKind(t, err, rerrors.KindAuctionExpired)
	assert.EqualValues(t, payload.Expiry, kindErr.Context["expiry"])
	assert.EqualValues(t, auctionExpiryBufferSec, kindErr.Context["buffer"])
}

func TestEvaluateRejectsWorthlessAmounts(t *testing.T) {
	f := newTestEvaluator(t)

	for _, amount := range []string{"0", "-5", "one million"} {
		payload := testPayload()
		payload.Amount = amount

		_, err := f.evaluator.Evaluate(context.Background(), payload)
		requireKind(t, err, rerrors.KindZeroValueBid)
	}
}

func TestEvaluateValidatesPayloadShape(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		mutate func(*types.AuctionPayload)
	}{
		{"short transaction id", "transactionId", func(p *types.AuctionPayload) { p.TransactionID = "0x01" }},
		{"user not an address", "user", func(p *types.AuctionPayload) { p.User = "bob" }},
		{"same chain both sides", "receivingChainId", func(p *types.AuctionPayload) { p.ReceivingChainID = p.SendingChainID }},
		{"missing amount", "amount", func(p *types.AuctionPayload) { p.Amount = "" }},
		{"missing expiry", "expiry", func(p *types.AuctionPayload) { p.Expiry = 0 }},
		{"bad callTo", "callTo", func(p *types.AuctionPayload) { p.CallTo = "someone" }},
		{"calldata without hash", "callDataHash", func(p *types.AuctionPayload) { p.EncryptedCallData = "0xffff" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestEvaluator(t)
			payload := testPayload()
			tt.mutate(payload)

			_, err := f.evaluator.Evaluate(context.Background(), payload)
			kindErr := requireKind(t, err, rerrors.KindParamsInvalid)
			assert.Equal(t, tt.field, kindErr.Context["field"])
		})
	}
}

func TestEvaluateRequiresHealthyProviders(t *testing.T) {
	t.Run("providers down", func(t *testing.T) {
		f := newTestEvaluator(t)
		f.chains.unhealthy[testReceivingChain] = true

		_, err := f.evaluator.Evaluate(context.Background(), testPayload())
		kindErr := requireKind(t, err, rerrors.KindProvidersNotAvailable)
		assert.Equal(t, testReceivingChain.String(), kindErr.Context["chainId"])
	})

	t.Run("chain not configured", func(t *testing.T) {
		f := newTestEvaluator(t)
		payload := testPayload()
		payload.ReceivingChainID = types.ChainID(9999)

		_, err := f.evaluator.Evaluate(context.Background(), payload)
		requireKind(t, err, rerrors.KindProvidersNotAvailable)
	})
}

func TestEvaluateRejectsUnknownLane(t *testing.T) {
	f := newTestEvaluator(t)
	payload := testPayload()
	payload.ReceivingAssetID = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

	_, err := f.evaluator.Evaluate(context.Background(), payload)
	kindErr := requireKind(t, err, rerrors.KindParamsInvalid)
	assert.Equal(t, payload.ReceivingAssetID, kindErr.Context["receivingAssetId"])
}

func TestEvaluateUnsyncedOutranksUnknownLane(t *testing.T) {
	f := newTestEvaluator(t)
	f.liquidity.unsynced[testSendingChain] = true
	payload := testPayload()
	payload.ReceivingAssetID = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

	_, err := f.evaluator.Evaluate(context.Background(), payload)
	requireKind(t, err, rerrors.KindSubgraphNotSynced)
}

func TestEvaluateRejectsLowNativeBalance(t *testing.T) {
	f := newTestEvaluator(t)
	f.chains.services[testReceivingChain].nativeBalance = big.NewInt(5)

	_, err := f.evaluator.Evaluate(context.Background(), testPayload())
	kindErr := requireKind(t, err, rerrors.KindNotEnoughGas)
	assert.Equal(t, testReceivingChain.String(), kindErr.Context["chainId"])
	assert.Equal(t, "5", kindErr.Context["balance"])
	assert.Equal(t, "100000000000000000", kindErr.Context["minGas"])
}

func TestEvaluateRejectsQuoteUnderGasFee(t *testing.T) {
	f := newTestEvaluator(t)
	f.fees.fee = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

	_, err := f.evaluator.Evaluate(context.Background(), testPayload())
	kindErr := requireKind(t, err, rerrors.KindNotEnoughAmount)
	assert.NotEmpty(t, kindErr.Context["amountReceived"])
	assert.NotEmpty(t, kindErr.Context["gasFee"])
}

func TestEvaluateSitsOutInMaintenanceModes(t *testing.T) {
	t.Run("diagnostic mode", func(t *testing.T) {
		f := newTestEvaluator(t)
		f.evaluator.diagnosticMode = true

		_, err := f.evaluator.Evaluate(context.Background(), testPayload())
		assert.ErrorIs(t, err, ErrNotParticipating)
	})

	t.Run("clean up mode", func(t *testing.T) {
		f := newTestEvaluator(t)
		f.evaluator.cleanUpMode = true

		_, err := f.evaluator.Evaluate(context.Background(), testPayload())
		assert.ErrorIs(t, err, ErrNotParticipating)
	})
}
