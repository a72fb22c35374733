package dispatcher

import (
	"context"
	"math/big"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

const (
	// gasLimitFactor pads gas estimates, in percent.
	gasLimitFactor = 110

	// replaceGasFactor prices the replacement for a stuck transaction, in
	// percent of the original gas price.
	replaceGasFactor = 150

	// underpricedGasFactor bumps the gas price after the pool rejects a
	// submission as underpriced, in percent.
	underpricedGasFactor = 110

	// maxSendAttempts bounds the retries around one submission.
	maxSendAttempts = 5

	// stuckBlockBuffer is how many blocks past the submission block must
	// pass, on top of stuckTimeout, before a pending transaction counts as
	// stuck. Keeps slow block times from triggering replacements.
	stuckBlockBuffer = 2
)

// task pairs a queued action with its deduplication entry.
type task struct {
	action *types.Action
	entry  *inflight
}

// worker owns one chain's submissions. A single goroutine consumes the
// queue, so the nonces it assigns are strictly increasing even when many
// transfers dispatch concurrently.
type worker struct {
	dispatcher *Dispatcher
	logger     *logrus.Logger

	chainID    types.ChainID
	chainIDBig *big.Int
	chain      types.ChainService
	signer     types.Signer
	prices     GasPricer

	confirmations uint64
	pollInterval  time.Duration
	stuckTimeout  time.Duration

	queue chan *task

	// nonce is the next account nonce. Only the worker goroutine touches it.
	nonce       uint64
	noncePrimed bool
}

func (w *worker) run(ctx context.Context) {
	defer w.dispatcher.wg.Done()

	for t := range w.queue {
		started := time.Now()
		receipt, err := w.process(ctx, t.action)
		w.dispatcher.metrics.ObserveDispatch(w.chainID, t.action.Kind, time.Since(started))
		if err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"chainId":       w.chainID,
				"kind":          t.action.Kind,
				"transactionId": t.action.TransactionID,
			}).Error("Dispatch failed")
		}
		w.dispatcher.complete(t.entry, Result{Receipt: receipt, Err: err})
	}
}

// process submits one action and waits for it to be mined.
func (w *worker) process(ctx context.Context, action *types.Action) (*types.ActionReceipt, error) {
	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), "dispatch aborted")
	}

	signed, err := w.submit(ctx, action)
	if err != nil {
		return nil, err
	}
	return w.waitMined(ctx, signed)
}

// submit signs and broadcasts the action, retrying transient pool rejections.
// The nonce is primed from the account's pending count on first use and
// re-fetched whenever the pool rejects it, so the sequence recovers from
// restarts and external sends from the router key.
func (w *worker) submit(ctx context.Context, action *types.Action) (*ethtypes.Transaction, error) {
	value := action.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := action.GasLimit
	if gasLimit == 0 {
		estimate, err := w.chain.EstimateGas(ctx, w.signer.Address(), action.To, value, action.Data)
		if err != nil {
			return nil, rerrors.Wrap(err, rerrors.KindRpcError, "estimating gas").
				WithContext("chainId", w.chainID.String()).
				WithContext("kind", string(action.Kind))
		}
		gasLimit = estimate * gasLimitFactor / 100
	}

	gasPrice, err := w.prices.GasPrice(ctx, w.chainID)
	if err != nil {
		return nil, rerrors.Wrap(err, rerrors.KindRpcError, "pricing gas").
			WithContext("chainId", w.chainID.String())
	}

	var signed *ethtypes.Transaction
	operation := func() error {
		if !w.noncePrimed {
			nonce, err := w.chain.GetTransactionCount(ctx, w.signer.Address())
			if err != nil {
				return errors.Wrap(err, "fetching pending nonce")
			}
			w.nonce = nonce
			w.noncePrimed = true
		}

		tx := ethtypes.NewTransaction(w.nonce, common.HexToAddress(action.To), value, gasLimit, gasPrice, action.Data)
		signedTx, err := w.signer.SignTx(ctx, tx, w.chainIDBig)
		if err != nil {
			return errors.Wrap(err, "signing transaction")
		}

		if err := w.chain.SendTransaction(ctx, signedTx); err != nil {
			switch {
			case isAlreadyKnown(err):
				// An earlier attempt landed in the pool.
			case isNonceError(err):
				w.noncePrimed = false
				return errors.Wrap(err, "nonce rejected")
			case isUnderpricedError(err):
				gasPrice = scalePrice(gasPrice, underpricedGasFactor)
				return errors.Wrap(err, "submission underpriced")
			case ctx.Err() != nil:
				return backoff.Permanent(err)
			default:
				return errors.Wrap(err, "broadcasting transaction")
			}
		}
		signed = signedTx
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxSendAttempts), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, rerrors.Wrap(err, rerrors.KindRpcError, "submitting transaction").
			WithContext("chainId", w.chainID.String()).
			WithContext("kind", string(action.Kind)).
			WithContext("transactionId", action.TransactionID)
	}

	w.nonce++
	w.logger.WithFields(logrus.Fields{
		"chainId":       w.chainID,
		"kind":          action.Kind,
		"transactionId": action.TransactionID,
		"txHash":        signed.Hash().Hex(),
		"nonce":         signed.Nonce(),
		"gasPrice":      gasPrice.String(),
	}).Info("Submitted transaction")
	return signed, nil
}

// waitMined polls for the receipt, replacing the transaction when it looks
// stuck, and returns once the receipt has the configured confirmations. A
// mined revert returns the receipt together with an error so callers can
// record the failure.
func (w *worker) waitMined(ctx context.Context, tx *ethtypes.Transaction) (*types.ActionReceipt, error) {
	startBlock, err := w.chain.GetBlockNumber(ctx)
	if err != nil {
		startBlock = 0
	}
	submittedAt := time.Now()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, rerrors.Wrap(ctx.Err(), rerrors.KindRpcError, "abandoned receipt wait").
				WithContext("chainId", w.chainID.String()).
				WithContext("txHash", tx.Hash().Hex())
		case <-ticker.C:
		}

		receipt, err := w.chain.GetTransactionReceipt(ctx, tx.Hash().Hex())
		if err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"chainId": w.chainID,
				"txHash":  tx.Hash().Hex(),
			}).Debug("Receipt poll failed")
			continue
		}

		if receipt == nil {
			if replacement, replaced := w.maybeReplace(ctx, tx, startBlock, submittedAt); replaced {
				tx = replacement
				submittedAt = time.Now()
				if head, err := w.chain.GetBlockNumber(ctx); err == nil {
					startBlock = head
				}
			}
			continue
		}

		head, err := w.chain.GetBlockNumber(ctx)
		if err != nil {
			continue
		}
		if w.confirmations > 0 && head < receipt.BlockNumber.Uint64()+w.confirmations-1 {
			continue
		}

		mined := &types.ActionReceipt{
			TransactionHash: receipt.TxHash.Hex(),
			BlockNumber:     receipt.BlockNumber.Uint64(),
			GasUsed:         receipt.GasUsed,
			Nonce:           tx.Nonce(),
			Success:         receipt.Status == ethtypes.ReceiptStatusSuccessful,
		}
		if !mined.Success {
			return mined, rerrors.Newf(rerrors.KindRpcError, "transaction %s reverted", mined.TransactionHash).
				WithContext("chainId", w.chainID.String()).
				WithContext("blockNumber", mined.BlockNumber)
		}
		return mined, nil
	}
}

// maybeReplace rebroadcasts tx at a higher price once it has been pending
// past the stuck window. The replacement keeps the nonce, so at most one of
// the two can mine.
func (w *worker) maybeReplace(ctx context.Context, tx *ethtypes.Transaction, startBlock uint64, submittedAt time.Time) (*ethtypes.Transaction, bool) {
	if time.Since(submittedAt) < w.stuckTimeout {
		return nil, false
	}
	head, err := w.chain.GetBlockNumber(ctx)
	if err != nil || head <= startBlock+stuckBlockBuffer {
		return nil, false
	}

	price := scalePrice(tx.GasPrice(), replaceGasFactor)
	if suggested, err := w.prices.GasPrice(ctx, w.chainID); err == nil && suggested.Cmp(price) > 0 {
		price = suggested
	}

	replacement := ethtypes.NewTransaction(tx.Nonce(), *tx.To(), tx.Value(), tx.Gas(), price, tx.Data())
	signed, err := w.signer.SignTx(ctx, replacement, w.chainIDBig)
	if err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"chainId": w.chainID,
			"txHash":  tx.Hash().Hex(),
		}).Warn("Failed to sign replacement transaction")
		return nil, false
	}
	if err := w.chain.SendTransaction(ctx, signed); err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"chainId": w.chainID,
			"txHash":  tx.Hash().Hex(),
		}).Warn("Failed to replace stuck transaction")
		return nil, false
	}

	w.logger.WithFields(logrus.Fields{
		"chainId":       w.chainID,
		"originalTx":    tx.Hash().Hex(),
		"replacementTx": signed.Hash().Hex(),
		"nonce":         signed.Nonce(),
		"gasPrice":      price.String(),
	}).Info("Replaced stuck transaction")
	return signed, true
}

func scalePrice(price *big.Int, percent int64) *big.Int {
	scaled := new(big.Int).Mul(price, big.NewInt(percent))
	return scaled.Div(scaled, big.NewInt(100))
}

// isNonceError reports whether the pool rejected the nonce, meaning the local
// sequence diverged from the account state.
func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "invalid nonce")
}

func isUnderpricedError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "underpriced")
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "already exists")
}
