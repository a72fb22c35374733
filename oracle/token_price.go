package oracle

import (
	"context"
	"math/big"
	"time"

	"github.com/Kuzirashi/nxtp/chains/evm"
	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// TokenPrice returns the 18-decimal price of an asset from the chain's
// on-chain price oracle. The native asset is priced as the zero address.
//
// Parameters:
// - ctx: the context for managing the request.
// - chainID: the chain whose oracle to query.
// - assetID: the asset address, or the zero address for the native asset.
//
// Returns:
// - *big.Int: the 18-decimal token price.
// - error: a ChainNotSupported error when the chain has no configured
//   oracle, or an RPC error if the view call fails.
func (o *Oracle) TokenPrice(ctx context.Context, chainID types.ChainID, assetID string) (*big.Int, error) {
	config, err := o.chainConfig(chainID)
	if err != nil {
		return nil, err
	}
	if config.PriceOracleAddress == "" {
		return nil, errors.New(errors.KindChainNotSupported, "chain has no price oracle configured").
			WithContext("chainId", chainID.String())
	}

	if evm.IsNativeAsset(assetID) {
		assetID = evm.AddressZero
	}

	if price, ok := o.cachedPrice(chainID, assetID); ok {
		return price, nil
	}

	chain, err := o.chains.Get(chainID)
	if err != nil {
		return nil, err
	}

	data, err := o.oracleABI.Pack("getTokenPrice", common.HexToAddress(assetID))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRpcError, "failed to pack getTokenPrice call")
	}

	result, err := chain.ReadTransaction(ctx, config.PriceOracleAddress, data)
	if err != nil {
		return nil, err
	}

	values, err := o.oracleABI.Unpack("getTokenPrice", result)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRpcError, "failed to unpack getTokenPrice result").
			WithContext("chainId", chainID.String()).
			WithContext("assetId", assetID)
	}
	price, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New(errors.KindRpcError, "price oracle returned a non-integer price").
			WithContext("chainId", chainID.String()).
			WithContext("assetId", assetID)
	}

	o.storePrice(chainID, assetID, price)

	o.logger.WithFields(logrus.Fields{
		"chainId": chainID,
		"assetId": assetID,
		"price":   price.String(),
	}).Debug("Fetched token price")

	return price, nil
}

// cachedPrice returns a cached price if caching is enabled and the entry
// is younger than the TTL.
func (o *Oracle) cachedPrice(chainID types.ChainID, assetID string) (*big.Int, bool) {
	if !o.cacheEnabled {
		return nil, false
	}

	o.cacheMutex.RLock()
	entry, ok := o.cache[priceCacheKey{chainID: chainID, assetID: assetID}]
	o.cacheMutex.RUnlock()

	if !ok || time.Since(entry.fetchedAt) > priceCacheTTL {
		return nil, false
	}
	return new(big.Int).Set(entry.price), true
}

func (o *Oracle) storePrice(chainID types.ChainID, assetID string, price *big.Int) {
	if !o.cacheEnabled {
		return
	}

	o.cacheMutex.Lock()
	o.cache[priceCacheKey{chainID: chainID, assetID: assetID}] = cachedPrice{
		price:     new(big.Int).Set(price),
		fetchedAt: time.Now(),
	}
	o.cacheMutex.Unlock()
}
