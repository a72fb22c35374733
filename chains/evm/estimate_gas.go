package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EstimateGas estimates the gas units a call would consume.
//
// Parameters:
// - ctx: the context for managing the request.
// - from: the sender address.
// - to: the recipient address.
// - value: the native amount sent with the call.
// - data: the ABI-encoded call data.
//
// Returns:
// - uint64: the estimated gas amount.
// - error: an error if the estimation fails on every provider.
func (c *Chain) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	toAddr := common.HexToAddress(to)
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(from),
		To:    &toAddr,
		Value: value,
		Data:  data,
	}

	var estimate uint64
	err := c.withClient(ctx, "estimateGas", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.EstimateGas(ctx, msg)
		if err != nil {
			return err
		}
		estimate = result
		return nil
	})
	if err != nil {
		return 0, err
	}
	return estimate, nil
}

// GetGasPrice retrieves the suggested gas price.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - *big.Int: the gas price in wei.
// - error: an error if the query fails on every provider.
func (c *Chain) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.withClient(ctx, "getGasPrice", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		price = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return price, nil
}
