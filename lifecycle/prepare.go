package lifecycle

import (
	"context"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Kuzirashi/nxtp/auction"
	"github.com/Kuzirashi/nxtp/chains/evm/txmanager"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

// receiverExpiryBuffer is how much sooner the receiver-side lock expires
// compared to the sender side. The gap is the router's window to claim the
// sender lock after the user claims the receiver lock.
const receiverExpiryBuffer = 24 * time.Hour

// senderPrepared answers a fresh sender-side lock with the matching
// receiver-side prepare. Everything the contract needs rides on the sender
// record: the signed bid is embedded for the audit trail and the encrypted
// call data is passed through untouched.
//
// Rejections are decided locally and never dispatched: an expired or
// unverifiable bid leaves the lock for the expiry sweep and vanished
// liquidity is alerted and left to expire. An already-existing receiver
// record advances the registry and reports ReceiverTxExists, which the
// event loop treats as routine.
func (m *Manager) senderPrepared(ctx context.Context, key registryKey, event types.TransactionEvent) error {
	item := m.track(key, event)
	record := event.Record

	log := m.logger.WithFields(logrus.Fields{
		"transactionId":    key.transactionID,
		"user":             key.user,
		"sendingChainId":   record.Invariant.SendingChainID,
		"receivingChainId": record.Invariant.ReceivingChainID,
	})

	if m.statusOf(item) != types.StatusSenderPrepared {
		log.Debug("Receiver side already handled")
		return nil
	}
	if m.cleanUpMode {
		log.Info("Clean-up mode, not preparing new transfers")
		return nil
	}

	receivingChain := record.Invariant.ReceivingChainID
	manager, ok := m.managerAddress(receivingChain)
	if !ok {
		return rerrors.Newf(rerrors.KindChainNotSupported, "receiving chain %s is not configured", receivingChain).
			WithContext("chainId", receivingChain.String())
	}

	// Restarts and replayed events both land here; the indexer decides
	// whether the receiver side already exists.
	existing, err := m.records.GetTransactionForChain(ctx, key.transactionID, key.user, receivingChain)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindRpcError, "checking for an existing receiver record")
	}
	if existing != nil {
		m.registryMutex.Lock()
		item.receiving = existing
		m.registryMutex.Unlock()
		m.advance(item, types.StatusReceiverPrepared)
		return rerrors.New(rerrors.KindReceiverTxExists, "receiver record already exists").
			WithContext("transactionId", key.transactionID)
	}

	bid, err := auction.DecodeBid(record.EncodedBid)
	if err != nil {
		log.WithError(err).Warn("Sender record carries no readable bid, leaving the lock for expiry")
		return nil
	}
	if err := auction.VerifyBidSignature(bid, record.BidSignature); err != nil {
		log.WithError(err).Warn("Bid signature does not recover this router, ignoring transfer")
		return nil
	}

	now := m.now()
	if bid.BidExpiry != 0 && uint64(now.Unix()) > bid.BidExpiry {
		log.WithField("bidExpiry", bid.BidExpiry).Warn("Bid expired before the sender prepare, leaving the lock for expiry")
		return nil
	}

	amountReceived, ok := new(big.Int).SetString(bid.AmountReceived, 10)
	if !ok || amountReceived.Sign() <= 0 {
		log.WithField("amountReceived", bid.AmountReceived).Warn("Bid quotes nothing receivable, ignoring transfer")
		return nil
	}

	balance, err := m.records.GetAssetBalance(ctx, record.Invariant.ReceivingAssetID, receivingChain)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindRpcError, "reading receiver liquidity")
	}
	if balance.Cmp(amountReceived) < 0 {
		log.WithFields(logrus.Fields{
			"balance":        balance.String(),
			"amountReceived": amountReceived.String(),
		}).Error("Not enough liquidity for the receiver prepare, transfer will expire")
		return nil
	}

	buffer := uint64(receiverExpiryBuffer / time.Second)
	if record.Variant.Expiry <= buffer {
		log.WithField("expiry", record.Variant.Expiry).Warn("Sender expiry leaves no receiver window, leaving the lock for expiry")
		return nil
	}
	receiverExpiry := record.Variant.Expiry - buffer
	if receiverExpiry <= uint64(now.Unix()) {
		log.WithField("expiry", record.Variant.Expiry).Warn("Sender expiry leaves no receiver window, leaving the lock for expiry")
		return nil
	}

	data, err := m.codec.EncodePrepare(txmanager.PrepareParams{
		Invariant:         record.Invariant,
		Amount:            amountReceived,
		Expiry:            receiverExpiry,
		EncryptedCallData: record.EncryptedCallData,
		EncodedBid:        record.EncodedBid,
		BidSignature:      record.BidSignature,
	})
	if err != nil {
		return errors.Wrap(err, "encoding receiver prepare")
	}

	receipt, err := m.execute(ctx, &types.Action{
		Kind:          types.ActionPrepare,
		ChainID:       receivingChain,
		TransactionID: key.transactionID,
		To:            manager,
		Data:          data,
	})
	if err != nil {
		return err
	}

	m.advance(item, types.StatusReceiverPrepared)
	log.WithFields(logrus.Fields{
		"txHash":         receipt.TransactionHash,
		"amountReceived": amountReceived.String(),
		"expiry":         receiverExpiry,
	}).Info("Receiver side prepared")
	return nil
}
