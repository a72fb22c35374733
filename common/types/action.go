package types

import (
	"fmt"
	"math/big"
)

// ActionKind names a contract write the router performs.
type ActionKind string

const (
	// ActionPrepare locks router liquidity on the receiving chain.
	ActionPrepare ActionKind = "Prepare"

	// ActionFulfill claims locked funds by revealing the user signature.
	ActionFulfill ActionKind = "Fulfill"

	// ActionCancel releases a lock back to its funder.
	ActionCancel ActionKind = "Cancel"

	// ActionRemoveLiquidity withdraws router balance from the manager contract.
	ActionRemoveLiquidity ActionKind = "RemoveLiquidity"

	// ActionAddLiquidityFor deposits router balance into the manager contract.
	ActionAddLiquidityFor ActionKind = "AddLiquidityFor"
)

// Action is one contract write handed to a chain dispatcher. The calldata is
// already ABI-encoded; the dispatcher owns nonce assignment, gas pricing and
// receipt tracking.
//
// Fields:
// - Kind: the operation, used for deduplication and gas defaults.
// - ChainID: the chain the write targets.
// - TransactionID: the transfer the write belongs to, or a generated id for
//   liquidity operations.
// - To: the contract address.
// - Data: the ABI-encoded calldata.
// - Value: the native amount sent with the call, nil for zero.
// - GasLimit: the gas limit, zero to fall back to estimation and defaults.
type Action struct {
	Kind          ActionKind
	ChainID       ChainID
	TransactionID string
	To            string
	Data          []byte
	Value         *big.Int
	GasLimit      uint64
}

// Key identifies an action for deduplication. Two actions with the same key
// are the same work even when their calldata was rebuilt.
func (a *Action) Key() string {
	return fmt.Sprintf("%s:%s:%s", a.ChainID, a.TransactionID, a.Kind)
}

// ActionReceipt reports the mined result of a dispatched action.
//
// Fields:
// - TransactionHash: the hash of the mined transaction.
// - BlockNumber: the block the transaction landed in.
// - GasUsed: the gas consumed.
// - Nonce: the account nonce the transaction spent.
// - Success: whether the transaction succeeded on chain.
type ActionReceipt struct {
	TransactionHash string
	BlockNumber     uint64
	GasUsed         uint64
	Nonce           uint64
	Success         bool
}
