package types

import (
	"context"
	"math/big"
	"strconv"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainID is the EVM chain identifier. Per-chain maps across the router are
// keyed by ChainID so sending and receiving chains cannot be confused with
// stringified ids or array indexes.
type ChainID uint64

// String converts the ChainID to its decimal string representation.
func (c ChainID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// ChainConfig holds the configuration for a single supported chain.
//
// Fields:
// - ChainID: the unique identifier for the chain.
// - Providers: JSON-RPC endpoint URLs, tried in order with fallback.
// - Subgraph: GraphQL indexer endpoint URLs, tried in order with fallback.
// - Confirmations: the number of blocks to wait for transaction finality.
// - MinGas: the minimum native balance (wei) required to participate in auctions.
// - TransactionManagerAddress: the address of the transaction manager contract.
// - PriceOracleAddress: the optional on-chain price oracle address.
// - GasStations: optional HTTP gas price endpoints consulted before the RPC.
// - RouterContractRelayerAsset: the asset relayer fees are denominated in.
// - SubgraphSyncBuffer: the max indexer lag in blocks still considered synced.
// - GasEstimates: optional per-action gas unit overrides.
// - Weight: the chain's weight in the virtual AMM, at least 1.
type ChainConfig struct {
	ChainID                    ChainID
	Providers                  []string
	Subgraph                   []string
	Confirmations              uint64
	MinGas                     *big.Int
	TransactionManagerAddress  string
	PriceOracleAddress         string
	GasStations                []string
	RouterContractRelayerAsset string
	SubgraphSyncBuffer         uint64
	GasEstimates               map[ActionKind]uint64
	Weight                     uint64
}

// ChainReader provides read access to chain state.
type ChainReader interface {
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
	ReadTransaction(ctx context.Context, to string, data []byte) ([]byte, error)

	// GetBalance retrieves the native balance of an address.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - address: the address to query.
	//
	// Returns:
	// - *big.Int: the balance in wei.
	// - error: an error if the query fails on every provider.
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// GetCode retrieves the contract code deployed at an address.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - address: the address to query.
	//
	// Returns:
	// - []byte: the deployed bytecode, empty for externally owned accounts.
	// - error: an error if the query fails on every provider.
	GetCode(ctx context.Context, address string) ([]byte, error)

	// GetBlockNumber retrieves the latest block number.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	//
	// Returns:
	// - uint64: the latest block number.
	// - error: an error if the query fails on every provider.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetBlock retrieves the header of the given block.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - number: the block number to fetch.
	//
	// Returns:
	// - *ethtypes.Header: the block header.
	// - error: an error if the query fails on every provider.
	GetBlock(ctx context.Context, number uint64) (*ethtypes.Header, error)

	// GetDecimalsForAsset retrieves the decimals of an asset. The native
	// asset (the zero address) always reports 18.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - assetID: the asset contract address or the zero address.
	//
	// Returns:
	// - uint8: the asset decimals.
	// - error: an error if the query fails on every provider.
	GetDecimalsForAsset(ctx context.Context, assetID string) (uint8, error)

	// GetGasPrice retrieves the suggested gas price.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	//
	// Returns:
	// - *big.Int: the gas price in wei.
	// - error: an error if the query fails on every provider.
	GetGasPrice(ctx context.Context) (*big.Int, error)
}

// ChainWriter provides transaction submission and tracking.
type ChainWriter interface {
	// SendTransaction broadcasts a signed transaction.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - tx: the signed transaction to broadcast.
	//
	// Returns:
	// - error: an error if broadcasting fails on every provider.
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error

	// GetTransactionReceipt retrieves the receipt for a transaction hash.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - hash: the transaction hash.
	//
	// Returns:
	// - *ethtypes.Receipt: the receipt, or nil when not yet mined.
	// - error: an error if the query fails on every provider.
	GetTransactionReceipt(ctx context.Context, hash string) (*ethtypes.Receipt, error)

	// GetTransactionCount retrieves the pending nonce for an address.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - address: the address to query.
	//
	// Returns:
	// - uint64: the pending nonce.
	// - error: an error if the query fails on every provider.
	GetTransactionCount(ctx context.Context, address string) (uint64, error)

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
	EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
}

// ChainService combines read and write access for a single chain. Every
// method is safe for concurrent use.
type ChainService interface {
	ChainReader
	ChainWriter

	// ChainID returns the chain this service is bound to.
	ChainID() ChainID
}

// Signer signs digests and transactions with the router key. The underlying
// key may live in a remote service, so all signing methods honor the context.
type Signer interface {
	// Address returns the router address derived from the signing key.
	Address() string

	// Sign signs the given digest using the Ethereum signed-message scheme.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - digest: the 32-byte digest to sign.
	//
	// Returns:
	// - []byte: the 65-byte signature with V in {27, 28}.
	// - error: an error if signing fails.
	Sign(ctx context.Context, digest []byte) ([]byte, error)

	// SignTx signs a transaction for the given chain.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - tx: the unsigned transaction.
	// - chainID: the chain the transaction targets.
	//
	// Returns:
	// - *ethtypes.Transaction: the signed transaction.
	// - error: an error if signing fails.
	SignTx(ctx context.Context, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
}
