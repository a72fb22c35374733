package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

// senderCancelDelay is the minimum age of the sender-side lock before the
// router may cancel it. Inside this window the user's fulfill could still be
// in flight on the receiving chain.
const senderCancelDelay = 780 * time.Second

// canCancelSender decides whether the sender-side lock may be cancelled.
//
// A live or fulfilled receiver side blocks the cancel outright. A lock
// younger than the safety window is rejected with SenderTxTooNew so callers
// can tell a deferral from a policy violation.
func canCancelSender(now time.Time, sending, receiving *types.TransactionRecord) error {
	if receiving != nil {
		switch receiving.Status {
		case types.StatusFulfilled:
			return errors.New("receiver side is fulfilled, the sender lock must be claimed")
		case types.StatusPrepared:
			if receiving.Variant.Expiry > uint64(now.Unix()) {
				return errors.New("receiver side is live, cancelling the sender would strand it")
			}
		}
	}

	elapsed := now.Unix() - int64(sending.PreparedTimestamp)
	if required := int64(senderCancelDelay / time.Second); elapsed < required {
		return rerrors.Newf(rerrors.KindSenderTxTooNew, "sender lock is %d s old, cancellable after %d s", elapsed, required).
			WithContext("elapsed", elapsed).
			WithContext("required", required)
	}

	if sending.Variant.Expiry > uint64(now.Unix()) {
		return errors.New("sender lock has not expired")
	}
	return nil
}

// cancelSender releases the expired sender-side lock. Post-expiry cancels
// need no signature.
func (m *Manager) cancelSender(ctx context.Context, key registryKey, sending *types.TransactionRecord) error {
	manager, ok := m.managerAddress(sending.Invariant.SendingChainID)
	if !ok {
		return rerrors.Newf(rerrors.KindChainNotSupported, "sending chain %s is not configured", sending.Invariant.SendingChainID).
			WithContext("chainId", sending.Invariant.SendingChainID.String())
	}

	data, err := m.codec.EncodeCancel(sending, "")
	if err != nil {
		return errors.Wrap(err, "encoding sender cancel")
	}

	receipt, err := m.execute(ctx, &types.Action{
		Kind:          types.ActionCancel,
		ChainID:       sending.Invariant.SendingChainID,
		TransactionID: key.transactionID,
		To:            manager,
		Data:          data,
	})
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"transactionId": key.transactionID,
		"chainId":       sending.Invariant.SendingChainID,
		"txHash":        receipt.TransactionHash,
	}).Info("Cancelled expired sender lock")
	return nil
}

// cancelReceiver releases the router's own expired lock on the receiving
// chain, recovering the fronted liquidity.
func (m *Manager) cancelReceiver(ctx context.Context, key registryKey, receiving *types.TransactionRecord) error {
	manager, ok := m.managerAddress(receiving.ChainID)
	if !ok {
		return rerrors.Newf(rerrors.KindChainNotSupported, "receiving chain %s is not configured", receiving.ChainID).
			WithContext("chainId", receiving.ChainID.String())
	}

	data, err := m.codec.EncodeCancel(receiving, "")
	if err != nil {
		return errors.Wrap(err, "encoding receiver cancel")
	}

	receipt, err := m.execute(ctx, &types.Action{
		Kind:          types.ActionCancel,
		ChainID:       receiving.ChainID,
		TransactionID: key.transactionID,
		To:            manager,
		Data:          data,
	})
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"transactionId": key.transactionID,
		"chainId":       receiving.ChainID,
		"txHash":        receipt.TransactionHash,
	}).Info("Cancelled expired receiver lock")
	return nil
}

// receiverCancelled reacts to an indexed receiver-side cancel: once the
// safety window passes, the sender-side lock is released too.
func (m *Manager) receiverCancelled(ctx context.Context, key registryKey, event types.TransactionEvent) error {
	item := m.track(key, event)
	m.advance(item, types.StatusReceiverCancelled)

	sending, _ := m.sidesOf(item)
	if sending == nil || sending.Status != types.StatusPrepared {
		return nil
	}

	if err := canCancelSender(m.now(), sending, event.Record); err != nil {
		m.logger.WithError(err).WithField("transactionId", key.transactionID).Debug("Sender cancel deferred")
		return nil
	}
	return m.cancelSender(ctx, key, sending)
}

// sweepExpired walks a snapshot of the registry and drives expiry work:
// receiver locks past expiry are cancelled, orphaned or released sender
// locks are cancelled once the safety window passes, and terminal leftovers
// are dropped. Transfers with an operation in flight are skipped; the next
// sweep sees them again.
func (m *Manager) sweepExpired(ctx context.Context) {
	type candidate struct {
		key  registryKey
		item *entry
	}

	m.registryMutex.Lock()
	snapshot := make([]candidate, 0, len(m.registry))
	for key, item := range m.registry {
		snapshot = append(snapshot, candidate{key: key, item: item})
	}
	m.registryMutex.Unlock()

	now := m.now()
	for _, c := range snapshot {
		if !m.locks.TryAcquire(c.key.String()) {
			continue
		}
		m.sweepTransfer(ctx, now, c.key, c.item)
		m.locks.Release(c.key.String())
	}
}

func (m *Manager) sweepTransfer(ctx context.Context, now time.Time, key registryKey, item *entry) {
	m.registryMutex.Lock()
	status := item.status
	sending := item.sending
	receiving := item.receiving
	m.registryMutex.Unlock()

	// Transfers settled by this process whose terminal event never arrived.
	if status == types.StatusSenderFulfilled || status == types.StatusSenderCancelled {
		m.registryMutex.Lock()
		_, present := m.registry[key]
		delete(m.registry, key)
		m.registryMutex.Unlock()

		if present {
			if chainID, ok := senderChainOf(sending, receiving); ok {
				m.metrics.TransactionClosed(chainID)
			}
		}
		return
	}

	if receiving != nil && receiving.Status == types.StatusPrepared && receiving.Variant.Expiry <= uint64(now.Unix()) {
		if err := m.cancelReceiver(ctx, key, receiving); err != nil {
			m.logger.WithError(err).WithField("transactionId", key.transactionID).Warn("Receiver cancel failed, retrying next sweep")
			return
		}
		m.advance(item, types.StatusReceiverCancelled)
	}

	if sending != nil && sending.Status == types.StatusPrepared {
		if err := canCancelSender(now, sending, receiving); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"transactionId": key.transactionID,
			}).Debug("Sender cancel deferred")
			return
		}
		if err := m.cancelSender(ctx, key, sending); err != nil {
			m.logger.WithError(err).WithField("transactionId", key.transactionID).Warn("Sender cancel failed, retrying next sweep")
		}
	}
}

func senderChainOf(sending, receiving *types.TransactionRecord) (types.ChainID, bool) {
	switch {
	case sending != nil:
		return sending.Invariant.SendingChainID, true
	case receiving != nil:
		return receiving.Invariant.SendingChainID, true
	}
	return 0, false
}
