// Package auction answers user broadcast requests for cross-chain transfer
// quotes. The evaluator runs a fixed sequence of checks over each request
// and either signs a bid committing the router to deliver the quoted amount
// or rejects with a classified error the user can act on.
package auction

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Kuzirashi/nxtp/amm"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/Kuzirashi/nxtp/config"
	"github.com/Kuzirashi/nxtp/metrics"
	"github.com/Kuzirashi/nxtp/oracle"
	"github.com/Kuzirashi/nxtp/subgraph"
)

const (
	// auctionExpiryBufferSec is the minimum padding, in seconds, between now
	// and the sender-side lock expiry for a quote to be worth producing.
	auctionExpiryBufferSec = 5 * 60

	// bidTTLSec is how long, in seconds, a produced bid stays actionable.
	bidTTLSec = 5 * 60
)

// lowGasWarning is the native balance, in wei, under which the router warns
// operators even when the configured floor still admits bids.
var lowGasWarning = new(big.Int).SetUint64(100000000000000000)

// ErrNotParticipating marks auctions received while the router is in
// diagnostic or clean-up mode. It is not a rejection of the request, so the
// messaging layer stays silent instead of replying with an error.
var ErrNotParticipating = errors.New("router is not participating in auctions")

// ChainGetter resolves chain services and reports their provider health.
type ChainGetter interface {
	Get(chainID types.ChainID) (types.ChainService, error)
	Healthy(chainID types.ChainID) bool
}

// liquiditySource is the slice of the indexer layer the evaluator reads.
type liquiditySource interface {
	IsSynced(ctx context.Context, chainID types.ChainID) (bool, []types.SyncRecord, error)
	GetAssetBalance(ctx context.Context, assetID string, chainID types.ChainID) (*big.Int, error)
}

// feeSource is the slice of the oracle the evaluator reads.
type feeSource interface {
	GasFeeInReceivingToken(
		ctx context.Context,
		sendingChainID types.ChainID,
		sendingAssetID string,
		receivingChainID types.ChainID,
		receivingAssetID string,
		outputDecimals uint8,
	) (*big.Int, error)
}

// Evaluator turns auction payloads into signed bids.
//
// Fields:
// - logger: the router logger.
// - signer: the router key, used for the bid signature and the router address.
// - metrics: the router collectors fed per auction outcome.
// - chains: chain services keyed by chain id.
// - configs: per-chain configuration keyed by chain id.
// - pools: the swap pools the router quotes across.
// - model: the liquidity curve pricing quotes.
// - liquidity: the indexer layer answering balance and sync queries.
// - fees: the oracle pricing gas in the receiving asset.
// - limiter: the per-lane rate limiter.
// - diagnosticMode, cleanUpMode: when set, no auctions are answered.
type Evaluator struct {
	logger  *logrus.Logger
	signer  types.Signer
	metrics *metrics.Metrics

	chains  ChainGetter
	configs map[types.ChainID]*types.ChainConfig
	pools   []types.SwapPool

	model     *amm.Model
	liquidity liquiditySource
	fees      feeSource
	limiter   *rateLimiter

	diagnosticMode bool
	cleanUpMode    bool

	now func() time.Time
}

// NewEvaluator wires an evaluator from the router's subsystems.
func NewEvaluator(
	cfg *config.Config,
	chains ChainGetter,
	liquidity *subgraph.Subgraph,
	fees *oracle.Oracle,
	model *amm.Model,
	signer types.Signer,
	collectors *metrics.Metrics,
	logger *logrus.Logger,
) *Evaluator {
	return &Evaluator{
		logger:         logger,
		signer:         signer,
		metrics:        collectors,
		chains:         chains,
		configs:        cfg.Chains(),
		pools:          cfg.SwapPools,
		model:          model,
		liquidity:      liquidity,
		fees:           fees,
		limiter:        newRateLimiter(time.Duration(cfg.RequestLimitMs) * time.Millisecond),
		diagnosticMode: cfg.DiagnosticMode,
		cleanUpMode:    cfg.CleanUpMode,
		now:            time.Now,
	}
}

// Evaluate answers one auction payload.
//
// Parameters:
// - ctx: the context for managing the request.
// - payload: the user's auction request.
//
// Returns:
// - *types.AuctionResponse: the bid, signed unless the payload is a dry run.
// - error: ErrNotParticipating, or a classified rejection.
func (e *Evaluator) Evaluate(ctx context.Context, payload *types.AuctionPayload) (*types.AuctionResponse, error) {
	e.metrics.AuctionReceived(payload.SendingChainID)

	if e.diagnosticMode || e.cleanUpMode {
		e.logger.WithFields(logrus.Fields{
			"transactionId":  payload.TransactionID,
			"diagnosticMode": e.diagnosticMode,
			"cleanUpMode":    e.cleanUpMode,
		}).Debug("Ignoring auction while not participating")
		return nil, ErrNotParticipating
	}

	response, err := e.evaluate(ctx, payload)
	if err != nil {
		e.metrics.AuctionFailed(payload.SendingChainID, rerrors.KindOf(err))
		e.logger.WithError(err).WithFields(logrus.Fields{
			"transactionId": payload.TransactionID,
			"user":          payload.User,
		}).Info("Rejected auction")
		return nil, err
	}

	e.metrics.AuctionSucceeded(payload.SendingChainID)
	e.logger.WithFields(logrus.Fields{
		"transactionId":    payload.TransactionID,
		"sendingChainId":   payload.SendingChainID.String(),
		"receivingChainId": payload.ReceivingChainID.String(),
		"amountReceived":   response.Bid.AmountReceived,
		"dryRun":           payload.DryRun,
	}).Info("Answering auction")
	return response, nil
}

func (e *Evaluator) evaluate(ctx context.Context, payload *types.AuctionPayload) (*types.AuctionResponse, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, rerrors.Newf(rerrors.KindZeroValueBid, "amount %q quotes nothing", payload.Amount)
	}

	key := limiterKeyFor(payload)
	if elapsed, admitted := e.limiter.check(key); !admitted {
		return nil, rerrors.Newf(rerrors.KindAuctionRateExceeded, "lane quoted %d ms ago, minimum period is %d ms", elapsed, e.limiter.period.Milliseconds()).
			WithContext("elapsedMs", elapsed).
			WithContext("minimalPeriod", e.limiter.period.Milliseconds())
	}

	now := e.now()
	if payload.Expiry <= uint64(now.Unix())+auctionExpiryBufferSec {
		return nil, rerrors.Newf(rerrors.KindAuctionExpired, "expiry %d leaves less than %d s to act on a bid", payload.Expiry, auctionExpiryBufferSec).
			WithContext("expiry", payload.Expiry).
			WithContext("buffer", auctionExpiryBufferSec)
	}

	for _, chainID := range []types.ChainID{payload.SendingChainID, payload.ReceivingChainID} {
		if _, configured := e.configs[chainID]; !configured || !e.chains.Healthy(chainID) {
			return nil, rerrors.Newf(rerrors.KindProvidersNotAvailable, "no live provider for chain %s", chainID).
				WithContext("chainId", chainID.String())
		}
	}
	sendingConfig := e.configs[payload.SendingChainID]
	receivingConfig := e.configs[payload.ReceivingChainID]

	// Pool resolution is pure, so it runs before the fan-out; its error is
	// still reported after a sync failure to keep the rejection order stable.
	pool, sendingIdx, receivingIdx, poolErr := e.resolvePool(payload)

	// Each task records into its own error slot and never fails the group,
	// so the slot inspected first decides the rejection regardless of which
	// goroutine lost the race.
	var (
		syncErr     error
		normalized  []*big.Int
		raw         []*big.Int
		decimals    []uint8
		balancesErr error
		gasFee      *big.Int
		feeErr      error
		nativeErr   error
	)
	var group errgroup.Group
	group.Go(func() error {
		syncErr = e.checkSynced(ctx, payload)
		return nil
	})
	if poolErr == nil {
		group.Go(func() error {
			normalized, raw, decimals, balancesErr = e.poolBalances(ctx, pool)
			return nil
		})
	}
	group.Go(func() error {
		gasFee, feeErr = e.quoteGasFee(ctx, payload)
		return nil
	})
	group.Go(func() error {
		nativeErr = e.checkNativeGas(ctx, payload)
		return nil
	})
	_ = group.Wait()

	if syncErr != nil {
		return nil, syncErr
	}
	if poolErr != nil {
		return nil, poolErr
	}
	if balancesErr != nil {
		return nil, balancesErr
	}

	amountReceived, err := e.model.AmountReceived(amount, decimals[sendingIdx], decimals[receivingIdx], normalized, sendingIdx, receivingIdx)
	if err != nil {
		return nil, err
	}

	if feeErr != nil {
		return nil, feeErr
	}
	if amountReceived.Cmp(gasFee) <= 0 {
		return nil, rerrors.Newf(rerrors.KindNotEnoughAmount, "quote %s does not cover the %s gas fee", amountReceived, gasFee).
			WithContext("amountReceived", amountReceived.String()).
			WithContext("gasFee", gasFee.String())
	}
	amountReceived = new(big.Int).Sub(amountReceived, gasFee)

	receiverBalance := raw[receivingIdx]
	if receiverBalance.Cmp(amountReceived) < 0 {
		return nil, rerrors.Newf(rerrors.KindNotEnoughLiquidity, "chain %s holds %s of %s, quote needs %s",
			payload.ReceivingChainID, receiverBalance, payload.ReceivingAssetID, amountReceived).
			WithContext("balance", receiverBalance.String()).
			WithContext("amountReceived", amountReceived.String())
	}

	if nativeErr != nil {
		return nil, nativeErr
	}

	bid := types.Bid{
		User:                           payload.User,
		Router:                         e.signer.Address(),
		Initiator:                      payload.Initiator,
		SendingChainID:                 payload.SendingChainID,
		SendingAssetID:                 payload.SendingAssetID,
		Amount:                         payload.Amount,
		ReceivingChainID:               payload.ReceivingChainID,
		ReceivingAssetID:               payload.ReceivingAssetID,
		AmountReceived:                 amountReceived.String(),
		ReceivingAddress:               payload.ReceivingAddress,
		TransactionID:                  payload.TransactionID,
		Expiry:                         payload.Expiry,
		CallDataHash:                   payload.CallDataHash,
		CallTo:                         payload.CallTo,
		EncryptedCallData:              payload.EncryptedCallData,
		SendingChainTxManagerAddress:   sendingConfig.TransactionManagerAddress,
		ReceivingChainTxManagerAddress: receivingConfig.TransactionManagerAddress,
		BidExpiry:                      uint64(now.Unix()) + bidTTLSec,
	}

	response := &types.AuctionResponse{
		Bid:                    bid,
		GasFeeInReceivingToken: gasFee.String(),
	}
	if !payload.DryRun {
		signature, err := SignBid(ctx, e.signer, &bid)
		if err != nil {
			return nil, err
		}
		response.BidSignature = signature
	}

	e.limiter.record(key)
	return response, nil
}

func validatePayload(payload *types.AuctionPayload) error {
	invalid := func(field, reason string) error {
		return rerrors.Newf(rerrors.KindParamsInvalid, "%s %s", field, reason).
			WithContext("field", field)
	}

	if raw, err := hexutil.Decode(payload.TransactionID); err != nil || len(raw) != 32 {
		return invalid("transactionId", "must be 32 bytes of 0x-prefixed hex")
	}
	if !common.IsHexAddress(payload.User) {
		return invalid("user", "must be an address")
	}
	if !common.IsHexAddress(payload.Initiator) {
		return invalid("initiator", "must be an address")
	}
	if !common.IsHexAddress(payload.ReceivingAddress) {
		return invalid("receivingAddress", "must be an address")
	}
	if !common.IsHexAddress(payload.SendingAssetID) {
		return invalid("sendingAssetId", "must be an address")
	}
	if !common.IsHexAddress(payload.ReceivingAssetID) {
		return invalid("receivingAssetId", "must be an address")
	}
	if payload.SendingChainID == 0 || payload.ReceivingChainID == 0 {
		return invalid("sendingChainId", "and receivingChainId must be set")
	}
	if payload.SendingChainID == payload.ReceivingChainID {
		return invalid("receivingChainId", "must differ from sendingChainId")
	}
	if payload.Amount == "" {
		return invalid("amount", "must be set")
	}
	if payload.Expiry == 0 {
		return invalid("expiry", "must be set")
	}
	if payload.CallTo != "" && !common.IsHexAddress(payload.CallTo) {
		return invalid("callTo", "must be an address when set")
	}
	if payload.EncryptedCallData != "" {
		if raw, err := hexutil.Decode(payload.CallDataHash); err != nil || len(raw) != 32 {
			return invalid("callDataHash", "must be 32 bytes of 0x-prefixed hex when calldata is attached")
		}
	}
	return nil
}

func (e *Evaluator) checkSynced(ctx context.Context, payload *types.AuctionPayload) error {
	for _, chainID := range []types.ChainID{payload.SendingChainID, payload.ReceivingChainID} {
		synced, records, err := e.liquidity.IsSynced(ctx, chainID)
		if err != nil {
			return err
		}
		if !synced {
			return rerrors.Newf(rerrors.KindSubgraphNotSynced, "no synced indexer for chain %s", chainID).
				WithContext("chainId", chainID.String()).
				WithContext("records", records)
		}
	}
	return nil
}

// resolvePool finds the pool containing both legs of the transfer and the
// positions of the two assets within it.
func (e *Evaluator) resolvePool(payload *types.AuctionPayload) (*types.SwapPool, int, int, error) {
	for i := range e.pools {
		pool := &e.pools[i]
		if !pool.Includes(payload.SendingChainID, payload.SendingAssetID) ||
			!pool.Includes(payload.ReceivingChainID, payload.ReceivingAssetID) {
			continue
		}

		sendingIdx, receivingIdx := -1, -1
		for j, asset := range pool.Assets {
			if asset.ChainID == payload.SendingChainID && strings.EqualFold(asset.AssetID, payload.SendingAssetID) {
				sendingIdx = j
			}
			if asset.ChainID == payload.ReceivingChainID && strings.EqualFold(asset.AssetID, payload.ReceivingAssetID) {
				receivingIdx = j
			}
		}
		return pool, sendingIdx, receivingIdx, nil
	}

	return nil, 0, 0, rerrors.Newf(rerrors.KindParamsInvalid, "no swap pool covers %s on chain %s into %s on chain %s",
		payload.SendingAssetID, payload.SendingChainID, payload.ReceivingAssetID, payload.ReceivingChainID).
		WithContext("sendingAssetId", payload.SendingAssetID).
		WithContext("receivingAssetId", payload.ReceivingAssetID)
}

// poolBalances reads the router's liquidity for every asset in the pool,
// returning slices aligned to the pool's asset order: the balance normalized
// to 18 decimals with the chain weight applied, the raw balance in asset
// units, and the asset decimals.
func (e *Evaluator) poolBalances(ctx context.Context, pool *types.SwapPool) ([]*big.Int, []*big.Int, []uint8, error) {
	normalized := make([]*big.Int, len(pool.Assets))
	raw := make([]*big.Int, len(pool.Assets))
	decimals := make([]uint8, len(pool.Assets))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, asset := range pool.Assets {
		group.Go(func() error {
			cfg, ok := e.configs[asset.ChainID]
			if !ok {
				return rerrors.Newf(rerrors.KindChainNotSupported, "pool %s references unconfigured chain %s", pool.Name, asset.ChainID).
					WithContext("chainId", asset.ChainID.String())
			}
			chain, err := e.chains.Get(asset.ChainID)
			if err != nil {
				return err
			}
			balance, err := e.liquidity.GetAssetBalance(groupCtx, asset.AssetID, asset.ChainID)
			if err != nil {
				return err
			}
			assetDecimals, err := chain.GetDecimalsForAsset(groupCtx, asset.AssetID)
			if err != nil {
				return err
			}
			raw[i] = balance
			decimals[i] = assetDecimals
			normalized[i] = amm.Normalize(balance, assetDecimals, cfg.Weight)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return normalized, raw, decimals, nil
}

func (e *Evaluator) quoteGasFee(ctx context.Context, payload *types.AuctionPayload) (*big.Int, error) {
	chain, err := e.chains.Get(payload.ReceivingChainID)
	if err != nil {
		return nil, err
	}
	outputDecimals, err := chain.GetDecimalsForAsset(ctx, payload.ReceivingAssetID)
	if err != nil {
		return nil, err
	}
	return e.fees.GasFeeInReceivingToken(ctx,
		payload.SendingChainID, payload.SendingAssetID,
		payload.ReceivingChainID, payload.ReceivingAssetID,
		outputDecimals)
}

func (e *Evaluator) checkNativeGas(ctx context.Context, payload *types.AuctionPayload) error {
	router := e.signer.Address()
	for _, chainID := range []types.ChainID{payload.SendingChainID, payload.ReceivingChainID} {
		cfg := e.configs[chainID]
		chain, err := e.chains.Get(chainID)
		if err != nil {
			return err
		}
		balance, err := chain.GetBalance(ctx, router)
		if err != nil {
			return err
		}
		if balance.Cmp(cfg.MinGas) < 0 {
			return rerrors.Newf(rerrors.KindNotEnoughGas, "native balance %s on chain %s is under the %s floor", balance, chainID, cfg.MinGas).
				WithContext("chainId", chainID.String()).
				WithContext("balance", balance.String()).
				WithContext("minGas", cfg.MinGas.String())
		}
		if balance.Cmp(lowGasWarning) < 0 {
			e.logger.WithFields(logrus.Fields{
				"chainId": chainID.String(),
				"balance": balance.String(),
			}).Warn("Router native balance is running low")
		}
	}
	return nil
}
