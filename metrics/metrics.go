// Package metrics exposes the router's prometheus collectors. All collectors
// live on a private registry so tests can run several routers in one process
// without duplicate registration panics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

// Metrics holds every collector the router reports. Construct it with New and
// serve Handler from the admin server.
type Metrics struct {
	registry *prometheus.Registry

	auctionReceived  *prometheus.CounterVec
	auctionSucceeded *prometheus.CounterVec
	auctionFailed    *prometheus.CounterVec

	activeTransactions *prometheus.GaugeVec

	dispatchDuration *prometheus.HistogramVec

	subgraphSynced *prometheus.GaugeVec
	subgraphLag    *prometheus.GaugeVec
}

// New creates and registers the router collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		auctionReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_auction_received_total",
			Help: "Auction requests received, by sending chain.",
		}, []string{"sendingChainId"}),
		auctionSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_auction_succeeded_total",
			Help: "Auction requests answered with a signed bid, by sending chain.",
		}, []string{"sendingChainId"}),
		auctionFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_auction_failed_total",
			Help: "Auction requests rejected, by sending chain and error kind.",
		}, []string{"sendingChainId", "kind"}),
		activeTransactions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "router_active_transactions",
			Help: "Transfers the router is currently tracking, by sending chain.",
		}, []string{"sendingChainId"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_dispatch_duration_seconds",
			Help:    "Wall time from enqueueing a transaction to its receipt.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"chainId", "kind"}),
		subgraphSynced: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "router_subgraph_synced",
			Help: "Whether a chain's indexer is within the sync buffer (1) or not (0).",
		}, []string{"chainId"}),
		subgraphLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "router_subgraph_lag_blocks",
			Help: "Blocks between the chain head and the newest indexed block.",
		}, []string{"chainId"}),
	}

	m.registry.MustRegister(
		m.auctionReceived,
		m.auctionSucceeded,
		m.auctionFailed,
		m.activeTransactions,
		m.dispatchDuration,
		m.subgraphSynced,
		m.subgraphLag,
	)

	return m
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AuctionReceived counts one incoming auction request from the given sending
// chain.
func (m *Metrics) AuctionReceived(sendingChainID types.ChainID) {
	m.auctionReceived.WithLabelValues(sendingChainID.String()).Inc()
}

// AuctionSucceeded counts one auction answered with a signed bid.
func (m *Metrics) AuctionSucceeded(sendingChainID types.ChainID) {
	m.auctionSucceeded.WithLabelValues(sendingChainID.String()).Inc()
}

// AuctionFailed counts one rejected auction with the rejection kind.
func (m *Metrics) AuctionFailed(sendingChainID types.ChainID, kind errors.Kind) {
	m.auctionFailed.WithLabelValues(sendingChainID.String(), string(kind)).Inc()
}

// TransactionOpened raises the active transaction gauge for the sending chain.
func (m *Metrics) TransactionOpened(sendingChainID types.ChainID) {
	m.activeTransactions.WithLabelValues(sendingChainID.String()).Inc()
}

// TransactionClosed lowers the active transaction gauge for the sending chain.
func (m *Metrics) TransactionClosed(sendingChainID types.ChainID) {
	m.activeTransactions.WithLabelValues(sendingChainID.String()).Dec()
}

// ObserveDispatch records how long one dispatched transaction took from
// enqueue to mined receipt.
func (m *Metrics) ObserveDispatch(chainID types.ChainID, kind types.ActionKind, elapsed time.Duration) {
	m.dispatchDuration.WithLabelValues(chainID.String(), string(kind)).Observe(elapsed.Seconds())
}

// RecordSync publishes the sync state of one chain's indexer. When several
// endpoints back the chain the caller reports the healthiest record.
func (m *Metrics) RecordSync(chainID types.ChainID, record types.SyncRecord) {
	synced := 0.0
	if record.Synced {
		synced = 1.0
	}
	m.subgraphSynced.WithLabelValues(chainID.String()).Set(synced)
	m.subgraphLag.WithLabelValues(chainID.String()).Set(float64(record.Lag))
}
