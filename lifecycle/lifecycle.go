// Package lifecycle drives tracked transfers to completion. It consumes the
// tracker's events, decides the next contract write for each transfer, and
// hands the write to the per-chain dispatchers: receiver prepares after the
// user locks, fulfills when the user reveals their signature, cancels once
// locks expire. One transfer is handled by at most one goroutine at a time.
package lifecycle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Kuzirashi/nxtp/archive"
	"github.com/Kuzirashi/nxtp/chains/evm/txmanager"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/keyedlock"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/Kuzirashi/nxtp/config"
	"github.com/Kuzirashi/nxtp/dispatcher"
	"github.com/Kuzirashi/nxtp/metrics"
	"github.com/Kuzirashi/nxtp/oracle"
	"github.com/Kuzirashi/nxtp/subgraph"
)

// recordSource is the slice of the subgraph the lifecycle consults.
type recordSource interface {
	GetTransactionForChain(ctx context.Context, transactionID, user string, chainID types.ChainID) (*types.TransactionRecord, error)
	GetAssetBalance(ctx context.Context, assetID string, chainID types.ChainID) (*big.Int, error)
}

// feeSource prices relayed submissions.
type feeSource interface {
	RelayerFee(ctx context.Context, chainID types.ChainID, kind types.ActionKind) (*big.Int, error)
}

// actionDispatcher submits contract writes and reports their mined results.
type actionDispatcher interface {
	Dispatch(action *types.Action) (<-chan dispatcher.Result, error)
}

// recorder archives terminal transfers.
type recorder interface {
	SaveRecord(ctx context.Context, side string, record *types.TransactionRecord) error
}

// registryKey identifies one transfer. The user is part of the key because
// transaction ids are chosen by users and only unique per user.
type registryKey struct {
	transactionID string
	user          string
}

func (k registryKey) String() string {
	return k.transactionID + ":" + k.user
}

// entry is the tracked state of one transfer.
//
// Fields:
// - status: the cross-chain status, advanced monotonically.
// - sending: the sender-side record, nil until observed.
// - receiving: the receiver-side record, nil until observed.
// - updatedAt: when the entry last changed.
type entry struct {
	status    types.CrosschainStatus
	sending   *types.TransactionRecord
	receiving *types.TransactionRecord
	updatedAt time.Time
}

// statusRank orders cross-chain statuses so updates only ever move forward.
// The fulfill and cancel branches share ranks; a transfer follows one of them.
var statusRank = map[types.CrosschainStatus]int{
	types.StatusSenderPrepared:    1,
	types.StatusReceiverPrepared:  2,
	types.StatusReceiverFulfilled: 3,
	types.StatusReceiverCancelled: 3,
	types.StatusSenderFulfilled:   4,
	types.StatusSenderCancelled:   4,
}

// Manager owns the transfer registry and the decisions that move transfers
// forward.
//
// Fields:
// - logger: the router logger.
// - metrics: the router collectors, fed per transfer open/close.
// - configs: per-chain configuration keyed by chain id.
// - codec: the transaction manager calldata codec.
// - records: the indexer layer answering record and balance queries.
// - fees: the oracle pricing relayed submissions.
// - actions: the per-chain dispatchers.
// - archive: the optional terminal-transfer store, nil when unconfigured.
// - locks: the per-transfer single-flight locks.
// - cleanUpMode: when set, no new receiver prepares are dispatched.
// - sweepInterval: how often the expiry sweep walks the registry.
// - now: the clock, replaceable in tests.
type Manager struct {
	logger  *logrus.Logger
	metrics *metrics.Metrics

	configs map[types.ChainID]*types.ChainConfig
	codec   *txmanager.Codec

	records recordSource
	fees    feeSource
	actions actionDispatcher
	archive recorder

	locks *keyedlock.KeyedLock

	cleanUpMode bool

	sweepInterval time.Duration
	now           func() time.Time

	registryMutex sync.Mutex
	// registryMutex guards registry and the entries it holds.
	registry map[registryKey]*entry

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires a lifecycle manager from the router's subsystems. Pass a
// nil store to run without archiving.
func NewManager(
	cfg *config.Config,
	records *subgraph.Subgraph,
	fees *oracle.Oracle,
	codec *txmanager.Codec,
	actions *dispatcher.Dispatcher,
	store *archive.Archive,
	collectors *metrics.Metrics,
	logger *logrus.Logger,
) *Manager {
	m := &Manager{
		logger:        logger,
		metrics:       collectors,
		configs:       cfg.Chains(),
		codec:         codec,
		records:       records,
		fees:          fees,
		actions:       actions,
		locks:         keyedlock.New(),
		cleanUpMode:   cfg.CleanUpMode,
		sweepInterval: time.Duration(cfg.ExpirySweepSec) * time.Second,
		now:           time.Now,
		registry:      make(map[registryKey]*entry),
		runCtx:        context.Background(),
	}
	if store != nil {
		m.archive = store
	}
	return m
}

// Start launches the expiry sweeper. Call before subscribing HandleEvent to
// the tracker.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel

	if m.sweepInterval <= 0 {
		m.sweepInterval = time.Minute
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.sweepExpired(runCtx)
			}
		}
	}()
}

// Stop halts the sweeper and waits for in-flight transfer work.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// HandleEvent consumes one tracker event. It returns immediately; the
// decision runs on its own goroutine behind the transfer's single-flight
// lock. A second event for a busy transfer is dropped, because the next
// indexer poll re-delivers anything still actionable.
func (m *Manager) HandleEvent(event types.TransactionEvent) {
	key := registryKey{
		transactionID: event.Record.Invariant.TransactionID,
		user:          event.Record.Invariant.User,
	}
	if !m.locks.TryAcquire(key.String()) {
		m.logger.WithFields(logrus.Fields{
			"transactionId": key.transactionID,
			"event":         event.Kind,
		}).Debug("Transfer busy, dropping event")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.locks.Release(key.String())
		m.processEvent(m.runCtx, key, event)
	}()
}

func (m *Manager) processEvent(ctx context.Context, key registryKey, event types.TransactionEvent) {
	var err error
	switch event.Kind {
	case types.EventSenderPrepared:
		err = m.senderPrepared(ctx, key, event)
	case types.EventReceiverPrepared:
		item := m.track(key, event)
		m.advance(item, types.StatusReceiverPrepared)
	case types.EventReceiverFulfilled:
		err = m.receiverFulfilled(ctx, key, event)
	case types.EventSenderFulfilled:
		m.finalize(ctx, key, event, types.StatusSenderFulfilled)
	case types.EventReceiverCancelled:
		err = m.receiverCancelled(ctx, key, event)
	case types.EventSenderCancelled:
		m.finalize(ctx, key, event, types.StatusSenderCancelled)
	}
	if err != nil {
		fields := logrus.Fields{
			"transactionId": key.transactionID,
			"user":          key.user,
			"event":         event.Kind,
		}
		if rerrors.IsKind(err, rerrors.KindReceiverTxExists) {
			m.logger.WithFields(fields).Info("Receiver record already exists, transfer advanced")
			return
		}
		m.logger.WithError(err).WithFields(fields).Error("Transfer handling failed")
	}
}

// track returns the transfer's entry, creating it on first sight, and merges
// the event's records into it.
func (m *Manager) track(key registryKey, event types.TransactionEvent) *entry {
	m.registryMutex.Lock()
	defer m.registryMutex.Unlock()

	item, ok := m.registry[key]
	if !ok {
		item = &entry{status: types.StatusSenderPrepared, updatedAt: m.now()}
		m.registry[key] = item
		m.metrics.TransactionOpened(event.Record.Invariant.SendingChainID)
	}

	merge := func(record *types.TransactionRecord) {
		if record == nil {
			return
		}
		if record.Invariant.SendingChainID == record.ChainID {
			item.sending = record
		} else {
			item.receiving = record
		}
	}
	merge(event.Record)
	merge(event.Counterpart)
	return item
}

// advance moves the entry's status forward. Stale statuses are ignored, so a
// replayed event can never walk a transfer backwards.
func (m *Manager) advance(item *entry, status types.CrosschainStatus) bool {
	m.registryMutex.Lock()
	defer m.registryMutex.Unlock()

	if statusRank[status] <= statusRank[item.status] {
		return false
	}
	item.status = status
	item.updatedAt = m.now()
	return true
}

func (m *Manager) statusOf(item *entry) types.CrosschainStatus {
	m.registryMutex.Lock()
	defer m.registryMutex.Unlock()
	return item.status
}

func (m *Manager) sidesOf(item *entry) (sending, receiving *types.TransactionRecord) {
	m.registryMutex.Lock()
	defer m.registryMutex.Unlock()
	return item.sending, item.receiving
}

// finalize archives a terminal transfer and forgets it.
func (m *Manager) finalize(ctx context.Context, key registryKey, event types.TransactionEvent, status types.CrosschainStatus) {
	item := m.track(key, event)
	m.advance(item, status)

	m.registryMutex.Lock()
	_, present := m.registry[key]
	delete(m.registry, key)
	sending, receiving := item.sending, item.receiving
	m.registryMutex.Unlock()

	if present {
		m.metrics.TransactionClosed(event.Record.Invariant.SendingChainID)
	}

	if m.archive != nil {
		if sending != nil {
			if err := m.archive.SaveRecord(ctx, "sender", sending); err != nil {
				m.logger.WithError(err).WithField("transactionId", key.transactionID).Warn("Failed to archive sender record")
			}
		}
		if receiving != nil {
			if err := m.archive.SaveRecord(ctx, "receiver", receiving); err != nil {
				m.logger.WithError(err).WithField("transactionId", key.transactionID).Warn("Failed to archive receiver record")
			}
		}
	}

	m.logger.WithFields(logrus.Fields{
		"transactionId": key.transactionID,
		"user":          key.user,
		"status":        status,
	}).Info("Transfer reached a terminal state")
}

// execute submits one action and waits for its mined receipt.
func (m *Manager) execute(ctx context.Context, action *types.Action) (*types.ActionReceipt, error) {
	ch, err := m.actions.Dispatch(action)
	if err != nil {
		return nil, err
	}
	select {
	case result := <-ch:
		return result.Receipt, result.Err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "abandoned dispatch wait")
	}
}

// managerAddress returns the transaction manager contract for the chain.
func (m *Manager) managerAddress(chainID types.ChainID) (string, bool) {
	cfg, ok := m.configs[chainID]
	if !ok {
		return "", false
	}
	return cfg.TransactionManagerAddress, true
}
