package types

import "strings"

// PoolAsset is one chain-local representation of a pooled asset.
//
// Fields:
// - ChainID: the chain the asset lives on.
// - AssetID: the asset contract address, or the zero address for native.
type PoolAsset struct {
	ChainID ChainID `json:"chainId"`
	AssetID string  `json:"assetId"`
}

// SwapPool groups chain-local assets that the router treats as mutually
// fungible. A transfer is swappable only when both its sending and receiving
// assets belong to the same pool.
//
// Fields:
// - Name: the human readable pool name used in config and logs.
// - Assets: the chain-local members of the pool.
type SwapPool struct {
	Name   string      `json:"name"`
	Assets []PoolAsset `json:"assets"`
}

// Includes reports whether the pool contains the given asset on the given
// chain. Asset addresses compare case-insensitively.
func (p *SwapPool) Includes(chainID ChainID, assetID string) bool {
	for _, a := range p.Assets {
		if a.ChainID == chainID && strings.EqualFold(a.AssetID, assetID) {
			return true
		}
	}
	return false
}

// AssetOn returns the pool's asset address on the given chain.
//
// Parameters:
// - chainID: the chain to look up.
//
// Returns:
// - string: the asset address on that chain.
// - bool: false when the pool has no asset on that chain.
func (p *SwapPool) AssetOn(chainID ChainID) (string, bool) {
	for _, a := range p.Assets {
		if a.ChainID == chainID {
			return a.AssetID, true
		}
	}
	return "", false
}

// SyncRecord reports how far a chain's indexer endpoint lags the chain head.
//
// Fields:
// - URI: the indexer endpoint the record describes.
// - Synced: whether the lag is within the configured buffer.
// - LatestBlock: the chain head observed over RPC.
// - SyncedBlock: the newest block the indexer has processed.
// - Lag: LatestBlock minus SyncedBlock, zero when the indexer is ahead.
type SyncRecord struct {
	URI         string
	Synced      bool
	LatestBlock uint64
	SyncedBlock uint64
	Lag         uint64
}
