// Package dispatcher turns lifecycle-issued actions into mined transaction
// receipts. One worker goroutine per chain owns that chain's nonce sequence,
// so concurrent dispatches on the same chain serialize into strictly
// increasing nonces. Duplicate actions collapse into a single submission and
// completed receipts are memoized, so re-dispatching the same work never
// produces a second on-chain effect.
package dispatcher

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/Kuzirashi/nxtp/metrics"
)

const (
	// queueCapacity bounds how many actions may wait per chain before
	// dispatch calls start failing instead of queueing.
	queueCapacity = 128

	// memoRetention is how long a completed action's receipt stays available
	// for duplicate dispatches.
	memoRetention = time.Hour
)

// GasPricer prices gas for submissions. The oracle satisfies it, consulting
// the chain's gas stations before falling back to the RPC suggestion.
type GasPricer interface {
	GasPrice(ctx context.Context, chainID types.ChainID) (*big.Int, error)
}

// ChainGetter resolves chain services by id.
type ChainGetter interface {
	Get(chainID types.ChainID) (types.ChainService, error)
}

// Result is the outcome of one dispatched action. Receipt may be non-nil
// alongside an error when the transaction mined but reverted.
type Result struct {
	Receipt *types.ActionReceipt
	Err     error
}

// inflight tracks one deduplicated action: its waiting subscribers while it
// runs and its memoized result once it completes.
type inflight struct {
	subscribers []chan Result
	result      *Result
	completedAt time.Time
}

// Dispatcher routes actions to per-chain workers.
//
// Fields:
// - logger: the router logger.
// - signer: the router key used to sign submissions.
// - chains: chain services keyed by chain id.
// - configs: per-chain configuration keyed by chain id.
// - prices: the gas price source for submissions.
// - metrics: the router collectors fed per dispatch.
// - gracePeriod: how long Stop waits for in-flight work before aborting it.
type Dispatcher struct {
	logger  *logrus.Logger
	signer  types.Signer
	chains  ChainGetter
	configs map[types.ChainID]*types.ChainConfig
	prices  GasPricer
	metrics *metrics.Metrics

	gracePeriod time.Duration

	// pollInterval and stuckTimeout are per-worker settings kept on the
	// dispatcher so tests can tighten them before Start.
	pollInterval time.Duration
	stuckTimeout time.Duration

	stateMutex sync.Mutex
	// stateMutex guards workers, actions and stopped.
	workers map[types.ChainID]*worker
	actions map[string]*inflight
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher for the configured chains. Call Start before
// dispatching.
func New(
	chains ChainGetter,
	configs map[types.ChainID]*types.ChainConfig,
	signer types.Signer,
	prices GasPricer,
	collectors *metrics.Metrics,
	gracePeriod time.Duration,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		logger:       logger,
		signer:       signer,
		chains:       chains,
		configs:      configs,
		prices:       prices,
		metrics:      collectors,
		gracePeriod:  gracePeriod,
		pollInterval: time.Second,
		stuckTimeout: 30 * time.Second,
		workers:      make(map[types.ChainID]*worker),
		actions:      make(map[string]*inflight),
	}
}

// Start launches one worker per configured chain.
//
// Parameters:
// - ctx: the context bounding all submissions and receipt waits.
//
// Returns:
// - error: an error when a configured chain has no service.
func (d *Dispatcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()
	d.cancel = cancel

	for chainID, cfg := range d.configs {
		chain, err := d.chains.Get(chainID)
		if err != nil {
			cancel()
			return err
		}

		w := &worker{
			dispatcher:    d,
			logger:        d.logger,
			chainID:       chainID,
			chainIDBig:    new(big.Int).SetUint64(uint64(chainID)),
			chain:         chain,
			signer:        d.signer,
			prices:        d.prices,
			confirmations: cfg.Confirmations,
			pollInterval:  d.pollInterval,
			stuckTimeout:  d.stuckTimeout,
			queue:         make(chan *task, queueCapacity),
		}
		d.workers[chainID] = w

		d.wg.Add(1)
		go w.run(runCtx)
	}
	return nil
}

// Dispatch enqueues an action on its chain's worker.
//
// The returned channel receives exactly one Result. A dispatch whose key
// matches in-flight or recently completed work joins that work instead of
// submitting again.
//
// Parameters:
// - action: the action to submit.
//
// Returns:
// - <-chan Result: the result channel, buffered so the worker never blocks.
// - error: an error when the dispatcher is stopped, the chain is unknown or
//   the chain's queue is full.
func (d *Dispatcher) Dispatch(action *types.Action) (<-chan Result, error) {
	ch := make(chan Result, 1)

	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()

	if d.stopped {
		return nil, rerrors.New(rerrors.KindRpcError, "dispatcher is draining, not accepting actions")
	}
	d.pruneMemos()

	key := action.Key()
	if entry, ok := d.actions[key]; ok {
		if entry.result != nil {
			ch <- *entry.result
		} else {
			entry.subscribers = append(entry.subscribers, ch)
			d.logger.WithFields(logrus.Fields{
				"actionKey": key,
			}).Debug("Joining in-flight dispatch")
		}
		return ch, nil
	}

	w, ok := d.workers[action.ChainID]
	if !ok {
		return nil, rerrors.Newf(rerrors.KindChainNotSupported, "no dispatcher worker for chain %s", action.ChainID).
			WithContext("chainId", action.ChainID.String())
	}

	entry := &inflight{subscribers: []chan Result{ch}}
	d.actions[key] = entry

	select {
	case w.queue <- &task{action: action, entry: entry}:
	default:
		delete(d.actions, key)
		return nil, rerrors.Newf(rerrors.KindRpcError, "dispatch queue for chain %s is full", action.ChainID).
			WithContext("chainId", action.ChainID.String())
	}
	return ch, nil
}

// Stop drains the workers. New dispatches fail immediately; queued and
// in-flight work gets the grace period to finish before the run context is
// cancelled out from under it.
func (d *Dispatcher) Stop() {
	d.stateMutex.Lock()
	if d.stopped {
		d.stateMutex.Unlock()
		return
	}
	d.stopped = true
	for _, w := range d.workers {
		close(w.queue)
	}
	cancel := d.cancel
	d.stateMutex.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.gracePeriod):
		d.logger.Warn("Dispatch drain exceeded the grace period, aborting in-flight work")
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
}

// complete finishes an action: memoizes the result and wakes every
// subscriber. Subscriber channels are buffered, so delivery never blocks the
// worker.
func (d *Dispatcher) complete(entry *inflight, result Result) {
	d.stateMutex.Lock()
	entry.result = &result
	entry.completedAt = time.Now()
	subscribers := entry.subscribers
	entry.subscribers = nil
	d.stateMutex.Unlock()

	for _, ch := range subscribers {
		ch <- result
	}
}

// pruneMemos drops completed entries older than the retention window.
// Callers must hold stateMutex.
func (d *Dispatcher) pruneMemos() {
	cutoff := time.Now().Add(-memoRetention)
	for key, entry := range d.actions {
		if entry.result != nil && entry.completedAt.Before(cutoff) {
			delete(d.actions, key)
		}
	}
}
