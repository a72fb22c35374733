package subgraph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/sirupsen/logrus"
)

// terminalLookback bounds how far back the tracker asks for fulfilled and
// cancelled records. Older terminals were either already observed or
// predate this process and have nothing left to drive.
const terminalLookback = 24 * time.Hour

// Handler consumes one lifecycle event. Handlers run on the polling
// goroutine of the event's chain and must not block.
type Handler func(types.TransactionEvent)

// recordSource is the slice of the Subgraph the tracker consumes.
type recordSource interface {
	getRouterTransactions(ctx context.Context, chainID types.ChainID, status types.TransactionStatus, sinceTimestamp uint64) ([]*types.TransactionRecord, error)
	GetTransactionForChain(ctx context.Context, transactionID, user string, chainID types.ChainID) (*types.TransactionRecord, error)
	ChainIDs() []types.ChainID
}

// Tracker polls every chain's indexer on an independent timer, diffs the
// returned records against the last-seen set, and delivers one event per
// observed transition in block order.
//
// Fields:
// - logger: the logger instance for logging tracker events.
// - source: the indexer queries the tracker polls.
// - interval: the per-chain polling interval.
// - handlersMutex: mutex for thread-safe access to handlers.
// - handlers: the subscribed event handlers.
// - seenMutex: mutex for thread-safe access to the last-seen set.
// - seen: last observed status per record side.
// - cancel: stops the polling goroutines.
// - wg: tracks the polling goroutines for shutdown.
type Tracker struct {
	logger   *logrus.Logger
	source   recordSource
	interval time.Duration

	handlersMutex sync.RWMutex
	handlers      []Handler

	seenMutex sync.Mutex
	seen      map[seenKey]types.TransactionStatus

	cancelMutex sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

type seenKey struct {
	chainID       types.ChainID
	transactionID string
	user          string
	sender        bool
}

// NewTracker creates a new Tracker instance.
//
// Parameters:
// - source: the subgraph to poll.
// - interval: the polling interval per chain.
// - logger: the logger instance for logging tracker events.
//
// Returns:
// - *Tracker: a new Tracker instance.
func NewTracker(source *Subgraph, interval time.Duration, logger *logrus.Logger) *Tracker {
	return &Tracker{
		logger:   logger,
		source:   source,
		interval: interval,
		seen:     make(map[seenKey]types.TransactionStatus),
	}
}

// Subscribe registers a handler for every event the tracker emits.
// Subscriptions are expected before Start.
func (t *Tracker) Subscribe(handler Handler) {
	t.handlersMutex.Lock()
	t.handlers = append(t.handlers, handler)
	t.handlersMutex.Unlock()
}

// Start launches one polling goroutine per chain. Each chain polls on an
// independent timer so one slow indexer cannot back-pressure the others.
//
// Parameters:
// - ctx: the context bounding the polling goroutines.
func (t *Tracker) Start(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)

	t.cancelMutex.Lock()
	t.cancel = cancel
	t.cancelMutex.Unlock()

	for _, chainID := range t.source.ChainIDs() {
		chainID := chainID
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()

			t.logger.WithFields(logrus.Fields{
				"chainId":  chainID,
				"interval": t.interval,
			}).Info("Start polling indexer for transaction events")

			ticker := time.NewTicker(t.interval)
			defer ticker.Stop()

			for {
				select {
				case <-pollCtx.Done():
					return
				case <-ticker.C:
					if err := t.pollChain(pollCtx, chainID); err != nil {
						t.logger.WithField("chainId", chainID).WithError(err).Error("Error polling indexer")
					}
				}
			}
		}()
	}
}

// Stop halts polling and waits for in-flight polls to finish.
func (t *Tracker) Stop() {
	t.cancelMutex.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.cancelMutex.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// pollChain fetches the router's records on one chain and emits one event
// per new record or status change. Failures skip the tick; the next tick
// retries with the same last-seen set.
func (t *Tracker) pollChain(ctx context.Context, chainID types.ChainID) error {
	since := uint64(0)
	if lookback := time.Now().Add(-terminalLookback).Unix(); lookback > 0 {
		since = uint64(lookback)
	}

	prepared, err := t.source.getRouterTransactions(ctx, chainID, types.StatusPrepared, 0)
	if err != nil {
		return err
	}
	fulfilled, err := t.source.getRouterTransactions(ctx, chainID, types.StatusFulfilled, since)
	if err != nil {
		return err
	}
	cancelled, err := t.source.getRouterTransactions(ctx, chainID, types.StatusCancelled, since)
	if err != nil {
		return err
	}

	records := make([]*types.TransactionRecord, 0, len(prepared)+len(fulfilled)+len(cancelled))
	records = append(records, prepared...)
	records = append(records, fulfilled...)
	records = append(records, cancelled...)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Variant.PreparedBlockNumber < records[j].Variant.PreparedBlockNumber
	})

	current := make(map[seenKey]struct{}, len(records))
	for _, record := range records {
		key := seenKey{
			chainID:       chainID,
			transactionID: record.Invariant.TransactionID,
			user:          record.Invariant.User,
			sender:        record.Invariant.SendingChainID == chainID,
		}
		current[key] = struct{}{}

		t.seenMutex.Lock()
		previous, known := t.seen[key]
		changed := !known || previous != record.Status
		if changed {
			t.seen[key] = record.Status
		}
		t.seenMutex.Unlock()

		if !changed {
			continue
		}

		kind, ok := eventKind(key.sender, record.Status)
		if !ok {
			t.logger.WithFields(logrus.Fields{
				"chainId":       chainID,
				"transactionId": record.Invariant.TransactionID,
				"status":        record.Status,
			}).Warn("Skipping record with unknown status")
			continue
		}

		t.emit(types.TransactionEvent{
			Kind:        kind,
			Record:      record,
			Counterpart: t.counterpart(ctx, record, key.sender),
		})
	}

	t.pruneSeen(chainID, current)
	return nil
}

// counterpart fetches the other side's record so handlers can decide
// without a second round-trip. A fetch failure degrades to nil.
func (t *Tracker) counterpart(ctx context.Context, record *types.TransactionRecord, sender bool) *types.TransactionRecord {
	otherChain := record.Invariant.ReceivingChainID
	if !sender {
		otherChain = record.Invariant.SendingChainID
	}

	other, err := t.source.GetTransactionForChain(ctx, record.Invariant.TransactionID, record.Invariant.User, otherChain)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"transactionId": record.Invariant.TransactionID,
			"chainId":       otherChain,
		}).WithError(err).Debug("Counterpart lookup failed")
		return nil
	}
	return other
}

// pruneSeen forgets records the indexer no longer returns for the chain.
func (t *Tracker) pruneSeen(chainID types.ChainID, current map[seenKey]struct{}) {
	t.seenMutex.Lock()
	defer t.seenMutex.Unlock()

	for key := range t.seen {
		if key.chainID != chainID {
			continue
		}
		if _, ok := current[key]; !ok {
			delete(t.seen, key)
		}
	}
}

func (t *Tracker) emit(event types.TransactionEvent) {
	t.handlersMutex.RLock()
	handlers := t.handlers
	t.handlersMutex.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// eventKind maps a record side and status to the event it represents.
func eventKind(sender bool, status types.TransactionStatus) (types.TransactionEventKind, bool) {
	switch {
	case sender && status == types.StatusPrepared:
		return types.EventSenderPrepared, true
	case sender && status == types.StatusFulfilled:
		return types.EventSenderFulfilled, true
	case sender && status == types.StatusCancelled:
		return types.EventSenderCancelled, true
	case !sender && status == types.StatusPrepared:
		return types.EventReceiverPrepared, true
	case !sender && status == types.StatusFulfilled:
		return types.EventReceiverFulfilled, true
	case !sender && status == types.StatusCancelled:
		return types.EventReceiverCancelled, true
	}
	return "", false
}
