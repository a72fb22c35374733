package types

import (
	"math/big"
)

// InvariantTransactionData is the portion of a cross-chain transfer that is
// identical on the sending and receiving chains. Its fields feed the
// transaction id, so any mutation would produce a different transfer.
//
// Fields:
// - ReceivingChainTxManagerAddress: the manager contract on the receiving chain.
// - User: the end user the transfer belongs to.
// - Router: the router fronting liquidity for the transfer.
// - Initiator: the address that submitted the sender-side prepare.
// - SendingAssetID: the asset locked on the sending chain.
// - ReceivingAssetID: the asset paid out on the receiving chain.
// - SendingChainFallback: the address refunded on sender-side cancel.
// - ReceivingAddress: the address paid on receiver-side fulfill.
// - CallTo: the optional contract invoked on fulfill.
// - CallDataHash: the hash of the calldata passed to CallTo.
// - TransactionID: the globally unique transfer identifier.
// - SendingChainID: the chain the user locked funds on.
// - ReceivingChainID: the chain the router pays out on.
//
// All address and hash fields hold lowercase 0x-prefixed hex.
type InvariantTransactionData struct {
	ReceivingChainTxManagerAddress string  `json:"receivingChainTxManagerAddress"`
	User                           string  `json:"user"`
	Router                         string  `json:"router"`
	Initiator                      string  `json:"initiator"`
	SendingAssetID                 string  `json:"sendingAssetId"`
	ReceivingAssetID               string  `json:"receivingAssetId"`
	SendingChainFallback           string  `json:"sendingChainFallback"`
	ReceivingAddress               string  `json:"receivingAddress"`
	CallTo                         string  `json:"callTo"`
	CallDataHash                   string  `json:"callDataHash"`
	TransactionID                  string  `json:"transactionId"`
	SendingChainID                 ChainID `json:"sendingChainId"`
	ReceivingChainID               ChainID `json:"receivingChainId"`
}

// VariantTransactionData is the portion of a transfer that differs between
// the two chains and changes as the transfer progresses.
//
// Fields:
// - Amount: the locked amount in the asset's smallest unit.
// - Expiry: the unix timestamp after which the lock can be cancelled.
// - PreparedBlockNumber: the block the prepare landed in, zero once the
//   transfer is fulfilled or cancelled.
type VariantTransactionData struct {
	Amount              *big.Int `json:"amount"`
	Expiry              uint64   `json:"expiry"`
	PreparedBlockNumber uint64   `json:"preparedBlockNumber"`
}

// TransactionRecord is one side of a transfer as reported by a chain's
// indexer.
//
// Fields:
// - Invariant: the chain-independent transfer data.
// - Variant: the chain-dependent transfer data.
// - ChainID: the chain this record was read from.
// - Status: the lifecycle status on that chain.
// - PreparedTimestamp: the unix timestamp of the prepare block.
// - EncryptedCallData: the user-encrypted calldata carried from the sender
//   prepare to the receiver prepare.
// - EncodedBid: the bid the user acted on, present on sender-side records.
// - BidSignature: the router signature over the bid digest, present on
//   sender-side records.
// - CallData: the calldata revealed on fulfill, empty before that.
// - Signature: the fulfill signature revealed by the user, empty before that.
// - RelayerFee: the fee paid to the relayer that submitted the fulfill.
// - CancelledNoFunds: whether a cancel released no funds.
type TransactionRecord struct {
	Invariant         InvariantTransactionData
	Variant           VariantTransactionData
	ChainID           ChainID
	Status            TransactionStatus
	PreparedTimestamp uint64
	EncryptedCallData string
	EncodedBid        string
	BidSignature      string
	CallData          string
	Signature         string
	RelayerFee        *big.Int
	CancelledNoFunds  bool
}

// CrosschainRecord pairs the two sides of one transfer. The receiver side is
// nil until the router's receiver-chain prepare is indexed.
type CrosschainRecord struct {
	Sending   *TransactionRecord
	Receiving *TransactionRecord
}
