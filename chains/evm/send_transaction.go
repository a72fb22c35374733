package evm

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// SendTransaction broadcasts a signed transaction.
//
// Parameters:
// - ctx: the context for managing the request.
// - tx: the signed transaction to broadcast.
//
// Returns:
// - error: an error if broadcasting fails on every provider.
func (c *Chain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return c.withClient(ctx, "sendTransaction", func(ctx context.Context, client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
}

// GetTransactionReceipt retrieves the receipt for a transaction hash. A
// transaction that is not yet mined yields a nil receipt and no error.
//
// Parameters:
// - ctx: the context for managing the request.
// - hash: the transaction hash.
//
// Returns:
// - *ethtypes.Receipt: the receipt, or nil when not yet mined.
// - error: an error if the query fails on every provider.
func (c *Chain) GetTransactionReceipt(ctx context.Context, hash string) (*ethtypes.Receipt, error) {
	var receipt *ethtypes.Receipt
	err := c.withClient(ctx, "getTransactionReceipt", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.TransactionReceipt(ctx, common.HexToHash(hash))
		if errors.Is(err, ethereum.NotFound) {
			receipt = nil
			return nil
		}
		if err != nil {
			return err
		}
		receipt = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetTransactionCount retrieves the pending nonce for an address.
//
// Parameters:
// - ctx: the context for managing the request.
// - address: the address to query.
//
// Returns:
// - uint64: the pending nonce.
// - error: an error if the query fails on every provider.
func (c *Chain) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	var nonce uint64
	err := c.withClient(ctx, "getTransactionCount", func(ctx context.Context, client *ethclient.Client) error {
		result, err := client.PendingNonceAt(ctx, common.HexToAddress(address))
		if err != nil {
			return err
		}
		nonce = result
		return nil
	})
	if err != nil {
		return 0, err
	}
	return nonce, nil
}
