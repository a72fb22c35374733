// Package subgraph reads the router's on-chain state through per-chain
// GraphQL indexers: transaction records, locked liquidity, and indexer
// sync health. The tracker in this package turns polled records into
// lifecycle events.
package subgraph

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/sirupsen/logrus"
)

// ChainGetter resolves a chain service by chain ID. The subgraph uses it
// to compare indexer heads against chain heads.
type ChainGetter interface {
	Get(chainID types.ChainID) (types.ChainService, error)
}

// Subgraph provides indexed router state for every configured chain.
//
// Fields:
// - logger: the logger instance for logging query events.
// - chains: resolver for per-chain RPC services.
// - configs: per-chain configuration (endpoints, sync buffer).
// - clients: one GraphQL client per chain.
// - router: the router address all queries are scoped to, lowercase.
type Subgraph struct {
	logger  *logrus.Logger
	chains  ChainGetter
	configs map[types.ChainID]*types.ChainConfig
	clients map[types.ChainID]*client
	router  string
}

// New creates a Subgraph instance with one client per configured chain.
//
// Parameters:
// - configs: per-chain configuration keyed by chain ID.
// - chains: resolver for per-chain RPC services.
// - router: the router address to scope queries to.
// - logger: the logger instance for logging query events.
//
// Returns:
// - *Subgraph: a new Subgraph instance.
// - error: a ConfigurationError if a chain has no indexer endpoints.
func New(configs map[types.ChainID]*types.ChainConfig, chains ChainGetter, router string, logger *logrus.Logger) (*Subgraph, error) {
	clients := make(map[types.ChainID]*client, len(configs))
	for chainID, config := range configs {
		if len(config.Subgraph) == 0 {
			return nil, errors.New(errors.KindConfigurationError, "chain has no subgraph endpoints").
				WithContext("chainId", chainID.String())
		}
		clients[chainID] = newClient(chainID, config.Subgraph, logger)
	}

	return &Subgraph{
		logger:  logger,
		chains:  chains,
		configs: configs,
		clients: clients,
		router:  strings.ToLower(router),
	}, nil
}

func (s *Subgraph) client(chainID types.ChainID) (*client, error) {
	c, ok := s.clients[chainID]
	if !ok {
		return nil, errors.New(errors.KindChainNotSupported, "chain has no subgraph client").
			WithContext("chainId", chainID.String())
	}
	return c, nil
}

// GetSyncRecords reports every indexer's lag behind the chain head. An
// endpoint that fails to answer is reported unsynced rather than failing
// the whole call.
//
// Parameters:
// - ctx: the context for managing the requests.
// - chainID: the chain whose indexers to probe.
//
// Returns:
// - []types.SyncRecord: one record per configured endpoint.
// - error: an error if the chain head cannot be read.
func (s *Subgraph) GetSyncRecords(ctx context.Context, chainID types.ChainID) ([]types.SyncRecord, error) {
	c, err := s.client(chainID)
	if err != nil {
		return nil, err
	}
	config := s.configs[chainID]

	chain, err := s.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	head, err := chain.GetBlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]types.SyncRecord, 0, len(c.endpoints))
	for _, endpoint := range c.endpoints {
		record := types.SyncRecord{URI: endpoint, LatestBlock: head}

		var result struct {
			Meta struct {
				Block struct {
					Number uint64 `json:"number"`
				} `json:"block"`
			} `json:"_meta"`
		}
		if err := c.queryEndpoint(ctx, endpoint, syncMetaQuery, nil, &result); err != nil {
			s.logger.WithFields(logrus.Fields{
				"chainId":  chainID,
				"endpoint": endpoint,
			}).WithError(err).Warn("Indexer sync probe failed")
			records = append(records, record)
			continue
		}

		record.SyncedBlock = result.Meta.Block.Number
		if head > record.SyncedBlock {
			record.Lag = head - record.SyncedBlock
		}
		record.Synced = record.Lag <= config.SubgraphSyncBuffer
		records = append(records, record)
	}

	return records, nil
}

// IsSynced reports whether at least one of the chain's indexers is within
// the sync buffer.
func (s *Subgraph) IsSynced(ctx context.Context, chainID types.ChainID) (bool, []types.SyncRecord, error) {
	records, err := s.GetSyncRecords(ctx, chainID)
	if err != nil {
		return false, nil, err
	}
	for _, record := range records {
		if record.Synced {
			return true, records, nil
		}
	}
	return false, records, nil
}

// GetTransactionForChain fetches one side of a transfer from the chain's
// indexer.
//
// Parameters:
// - ctx: the context for managing the request.
// - transactionID: the transfer id.
// - user: the transfer's user address.
// - chainID: the chain whose record to fetch.
//
// Returns:
// - *types.TransactionRecord: the record, or nil when the indexer has none.
// - error: an error if the query fails on every endpoint.
func (s *Subgraph) GetTransactionForChain(ctx context.Context, transactionID, user string, chainID types.ChainID) (*types.TransactionRecord, error) {
	c, err := s.client(chainID)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s-%s-%s", strings.ToLower(transactionID), strings.ToLower(user), s.router)

	var result struct {
		Transaction *transactionEntity `json:"transaction"`
	}
	if err := c.query(ctx, transactionByIDQuery, map[string]interface{}{"id": id}, &result); err != nil {
		return nil, err
	}
	if result.Transaction == nil {
		return nil, nil
	}
	return result.Transaction.toRecord(chainID)
}

// GetAssetBalance fetches the router's unlocked liquidity for an asset.
// Assets the indexer has never seen report zero.
//
// Parameters:
// - ctx: the context for managing the request.
// - assetID: the asset address.
// - chainID: the chain holding the liquidity.
//
// Returns:
// - *big.Int: the available liquidity in asset units.
// - error: an error if the query fails on every endpoint.
func (s *Subgraph) GetAssetBalance(ctx context.Context, assetID string, chainID types.ChainID) (*big.Int, error) {
	c, err := s.client(chainID)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s-%s", strings.ToLower(assetID), s.router)

	var result struct {
		AssetBalance *struct {
			Amount string `json:"amount"`
		} `json:"assetBalance"`
	}
	if err := c.query(ctx, assetBalanceQuery, map[string]interface{}{"id": id}, &result); err != nil {
		return nil, err
	}
	if result.AssetBalance == nil {
		return new(big.Int), nil
	}

	balance, ok := new(big.Int).SetString(result.AssetBalance.Amount, 10)
	if !ok {
		return nil, errors.Newf(errors.KindRpcError, "indexer returned malformed balance %q", result.AssetBalance.Amount).
			WithContext("chainId", chainID.String()).
			WithContext("assetId", assetID)
	}
	return balance, nil
}

// getRouterTransactions fetches the router's records on one chain in one
// status, both sides, in block order.
func (s *Subgraph) getRouterTransactions(ctx context.Context, chainID types.ChainID, status types.TransactionStatus, sinceTimestamp uint64) ([]*types.TransactionRecord, error) {
	c, err := s.client(chainID)
	if err != nil {
		return nil, err
	}

	var result struct {
		Sending   []transactionEntity `json:"sending"`
		Receiving []transactionEntity `json:"receiving"`
	}
	variables := map[string]interface{}{
		"router":         s.router,
		"chainId":        chainID.String(),
		"status":         string(status),
		"sinceTimestamp": fmt.Sprintf("%d", sinceTimestamp),
	}
	if err := c.query(ctx, routerTransactionsQuery, variables, &result); err != nil {
		return nil, err
	}

	records := make([]*types.TransactionRecord, 0, len(result.Sending)+len(result.Receiving))
	for i := range result.Sending {
		record, err := result.Sending[i].toRecord(chainID)
		if err != nil {
			s.logger.WithField("chainId", chainID).WithError(err).Warn("Skipping malformed indexer record")
			continue
		}
		records = append(records, record)
	}
	for i := range result.Receiving {
		record, err := result.Receiving[i].toRecord(chainID)
		if err != nil {
			s.logger.WithField("chainId", chainID).WithError(err).Warn("Skipping malformed indexer record")
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// ChainIDs returns the chains this subgraph serves.
func (s *Subgraph) ChainIDs() []types.ChainID {
	ids := make([]types.ChainID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}
