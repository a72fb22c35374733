package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// AddressZero marks the chain's native asset wherever an asset id is
// expected.
const AddressZero = "0x0000000000000000000000000000000000000000"

// erc20ABI covers the read calls the router makes against token contracts.
const erc20ABI = `[
  {
    "inputs": [{"internalType": "address", "name": "account", "type": "address"}],
    "name": "balanceOf",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "decimals",
    "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

// IsNativeAsset reports whether the asset id denotes the native asset.
func IsNativeAsset(assetID string) bool {
	return assetID == "" || strings.EqualFold(assetID, AddressZero)
}

// GetBalance retrieves the native balance of an address.
//
// Parameters:
// - ctx: the context for managing the request.
// - address: the address to query.
//
// Returns:
// - *big.Int: the balance in wei.
// - error: an error if the query fails on every provider.
func (c *Chain) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := c.withClient(ctx, "getBalance", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return err
		}
		balance = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// GetTokenBalance retrieves the ERC20 balance of an address, or the native
// balance when assetID denotes the native asset.
//
// Parameters:
// - ctx: the context for managing the request.
// - address: the address to query.
// - assetID: the token contract address or the zero address.
//
// Returns:
// - *big.Int: the balance in the asset's smallest unit.
// - error: an error if the query fails on every provider.
func (c *Chain) GetTokenBalance(ctx context.Context, address string, assetID string) (*big.Int, error) {
	if IsNativeAsset(assetID) {
		return c.GetBalance(ctx, address)
	}

	tokenAbi, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse token ABI")
	}

	data, err := tokenAbi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack balanceOf data")
	}

	result, err := c.ReadTransaction(ctx, assetID, data)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, errors.New("empty result from balanceOf call")
	}

	return new(big.Int).SetBytes(result), nil
}

// GetDecimalsForAsset retrieves the decimals of an asset. Results are cached
// per asset since decimals never change.
//
// Parameters:
// - ctx: the context for managing the request.
// - assetID: the asset contract address or the zero address.
//
// Returns:
// - uint8: the asset decimals, 18 for the native asset.
// - error: an error if the query fails on every provider.
func (c *Chain) GetDecimalsForAsset(ctx context.Context, assetID string) (uint8, error) {
	if IsNativeAsset(assetID) {
		return 18, nil
	}

	key := strings.ToLower(assetID)
	c.decimalsMutex.RLock()
	cached, ok := c.decimals[key]
	c.decimalsMutex.RUnlock()
	if ok {
		return cached, nil
	}

	tokenAbi, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse token ABI")
	}

	data, err := tokenAbi.Pack("decimals")
	if err != nil {
		return 0, errors.Wrap(err, "failed to pack decimals data")
	}

	result, err := c.ReadTransaction(ctx, assetID, data)
	if err != nil {
		return 0, err
	}

	values, err := tokenAbi.Unpack("decimals", result)
	if err != nil {
		return 0, errors.Wrap(err, "failed to unpack decimals")
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, errors.New("decimals returned a non-uint8")
	}

	c.decimalsMutex.Lock()
	c.decimals[key] = decimals
	c.decimalsMutex.Unlock()

	return decimals, nil
}
