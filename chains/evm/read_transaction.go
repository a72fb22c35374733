package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ReadTransaction executes a view call against the given contract.
//
// Parameters:
// - ctx: the context for managing the request.
// - to: the contract address to call.
// - data: the ABI-encoded call data.
//
// Returns:
// - []byte: the raw return data.
// - error: an error if the call fails on every provider.
func (c *Chain) ReadTransaction(ctx context.Context, to string, data []byte) ([]byte, error) {
	toAddr := common.HexToAddress(to)
	msg := ethereum.CallMsg{
		To:   &toAddr,
		Data: data,
	}

	var output []byte
	err := c.withClient(ctx, "readTransaction", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.CallContract(ctx, msg, nil)
		if err != nil {
			return err
		}
		output = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

// GetCode retrieves the contract code deployed at an address.
//
// Parameters:
// - ctx: the context for managing the request.
// - address: the address to query.
//
// Returns:
// - []byte: the deployed bytecode, empty for externally owned accounts.
// - error: an error if the query fails on every provider.
func (c *Chain) GetCode(ctx context.Context, address string) ([]byte, error) {
	var code []byte
	err := c.withClient(ctx, "getCode", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.CodeAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return err
		}
		code = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// GetBlockNumber retrieves the latest block number.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - uint64: the latest block number.
// - error: an error if the query fails on every provider.
func (c *Chain) GetBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.withClient(ctx, "getBlockNumber", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		number = result
		return nil
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

// GetBlock retrieves the header of the given block.
//
// Parameters:
// - ctx: the context for managing the request.
// - number: the block number to fetch.
//
// Returns:
// - *ethtypes.Header: the block header.
// - error: an error if the query fails on every provider.
func (c *Chain) GetBlock(ctx context.Context, number uint64) (*ethtypes.Header, error) {
	var header *ethtypes.Header
	err := c.withClient(ctx, "getBlock", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		header = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}
