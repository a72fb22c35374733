package types

import (
	"math/big"
)

// AuctionPayload is a user's broadcast request for quotes on a cross-chain
// transfer. Every listening router evaluates it and the fastest valid bid
// wins.
//
// Fields:
// - User: the end user requesting the transfer.
// - Initiator: the address that will submit the sender-side prepare.
// - SendingChainID: the chain the user locks funds on.
// - SendingAssetID: the asset locked on the sending chain.
// - Amount: the locked amount in the asset's smallest unit, as a decimal string.
// - ReceivingChainID: the chain the user is paid on.
// - ReceivingAssetID: the asset paid out on the receiving chain.
// - ReceivingAddress: the address paid on fulfill.
// - Expiry: the sender-side lock expiry as a unix timestamp.
// - TransactionID: the transfer identifier chosen by the user.
// - EncryptedCallData: calldata encrypted to the user, relayed on fulfill.
// - CallDataHash: the hash of the plaintext calldata.
// - CallTo: the optional contract invoked on fulfill.
// - DryRun: when true, routers quote without signing the bid.
type AuctionPayload struct {
	User              string  `json:"user"`
	Initiator         string  `json:"initiator"`
	SendingChainID    ChainID `json:"sendingChainId"`
	SendingAssetID    string  `json:"sendingAssetId"`
	Amount            string  `json:"amount"`
	ReceivingChainID  ChainID `json:"receivingChainId"`
	ReceivingAssetID  string  `json:"receivingAssetId"`
	ReceivingAddress  string  `json:"receivingAddress"`
	Expiry            uint64  `json:"expiry"`
	TransactionID     string  `json:"transactionId"`
	EncryptedCallData string  `json:"encryptedCallData"`
	CallDataHash      string  `json:"callDataHash"`
	CallTo            string  `json:"callTo"`
	DryRun            bool    `json:"dryRun"`
}

// Bid is a router's answer to an auction. It carries everything the user
// needs to build the sender-side prepare, plus the quoted receiving amount.
//
// Fields mirror the auction payload; AmountReceived is the quote and
// BidExpiry bounds how long the user may act on it.
type Bid struct {
	User                           string  `json:"user"`
	Router                         string  `json:"router"`
	Initiator                      string  `json:"initiator"`
	SendingChainID                 ChainID `json:"sendingChainId"`
	SendingAssetID                 string  `json:"sendingAssetId"`
	Amount                         string  `json:"amount"`
	ReceivingChainID               ChainID `json:"receivingChainId"`
	ReceivingAssetID               string  `json:"receivingAssetId"`
	AmountReceived                 string  `json:"amountReceived"`
	ReceivingAddress               string  `json:"receivingAddress"`
	TransactionID                  string  `json:"transactionId"`
	Expiry                         uint64  `json:"expiry"`
	CallDataHash                   string  `json:"callDataHash"`
	CallTo                         string  `json:"callTo"`
	EncryptedCallData              string  `json:"encryptedCallData"`
	SendingChainTxManagerAddress   string  `json:"sendingChainTxManagerAddress"`
	ReceivingChainTxManagerAddress string  `json:"receivingChainTxManagerAddress"`
	BidExpiry                      uint64  `json:"bidExpiry"`
}

// AuctionResponse is the reply published for a valid auction.
//
// Fields:
// - Bid: the quoted bid.
// - BidSignature: the router signature over the bid digest, empty on dry runs.
// - GasFeeInReceivingToken: the gas cost already deducted from the quote,
//   denominated in the receiving asset.
type AuctionResponse struct {
	Bid                    Bid    `json:"bid"`
	BidSignature           string `json:"bidSignature,omitempty"`
	GasFeeInReceivingToken string `json:"gasFeeInReceivingToken"`
}

// MetaTxType names the operation a relayed meta-transaction performs.
type MetaTxType string

// MetaTxTypeFulfill asks the router to submit the user's fulfill and deduct
// a relayer fee from the payout.
const MetaTxTypeFulfill MetaTxType = "Fulfill"

// MetaTxFulfillData is the payload of a fulfill meta-transaction.
//
// Fields:
// - RelayerFee: the fee the router keeps for relaying, as a decimal string.
// - Signature: the user's fulfill signature revealing the preimage.
// - CallData: the plaintext calldata matching the invariant hash.
// - TxData: the full transaction data of the receiver side.
type MetaTxFulfillData struct {
	RelayerFee string              `json:"relayerFee"`
	Signature  string              `json:"signature"`
	CallData   string              `json:"callData"`
	TxData     TransactionDataBlob `json:"txData"`
}

// MetaTxPayload is a user's request for the router to submit a transaction
// on their behalf.
//
// Fields:
// - Type: the relayed operation, currently only Fulfill.
// - RelayerFee: the offered fee, as a decimal string.
// - To: the chain the relayed transaction targets.
// - Data: the operation payload.
type MetaTxPayload struct {
	Type       MetaTxType        `json:"type"`
	RelayerFee string            `json:"relayerFee"`
	To         ChainID           `json:"to"`
	Data       MetaTxFulfillData `json:"data"`
}

// MetaTxResponse acknowledges a relayed submission with its transaction hash.
type MetaTxResponse struct {
	TransactionHash string  `json:"transactionHash"`
	ChainID         ChainID `json:"chainId"`
}

// TransactionDataBlob is the flattened invariant plus variant data as it
// crosses the wire and the contract ABI.
type TransactionDataBlob struct {
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
	Amount                         string  `json:"amount"`
	Expiry                         uint64  `json:"expiry"`
	PreparedBlockNumber            uint64  `json:"preparedBlockNumber"`
}

// Split separates the blob into invariant and variant parts. The amount is
// parsed as a base-10 integer; a malformed amount yields a nil big.Int which
// callers reject during validation.
func (b *TransactionDataBlob) Split() (InvariantTransactionData, VariantTransactionData) {
	amount, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok {
		amount = nil
	}
	invariant := InvariantTransactionData{
		ReceivingChainTxManagerAddress: b.ReceivingChainTxManagerAddress,
		User:                           b.User,
		Router:                         b.Router,
		Initiator:                      b.Initiator,
		SendingAssetID:                 b.SendingAssetID,
		ReceivingAssetID:               b.ReceivingAssetID,
		SendingChainFallback:           b.SendingChainFallback,
		ReceivingAddress:               b.ReceivingAddress,
		CallTo:                         b.CallTo,
		CallDataHash:                   b.CallDataHash,
		TransactionID:                  b.TransactionID,
		SendingChainID:                 b.SendingChainID,
		ReceivingChainID:               b.ReceivingChainID,
	}
	variant := VariantTransactionData{
		Amount:              amount,
		Expiry:              b.Expiry,
		PreparedBlockNumber: b.PreparedBlockNumber,
	}
	return invariant, variant
}

// NewTransactionDataBlob flattens a record's invariant and variant data for
// wire and ABI use.
func NewTransactionDataBlob(invariant InvariantTransactionData, variant VariantTransactionData) TransactionDataBlob {
	amount := "0"
	if variant.Amount != nil {
		amount = variant.Amount.String()
	}
	return TransactionDataBlob{
		ReceivingChainTxManagerAddress: invariant.ReceivingChainTxManagerAddress,
		User:                           invariant.User,
		Router:                         invariant.Router,
		Initiator:                      invariant.Initiator,
		SendingAssetID:                 invariant.SendingAssetID,
		ReceivingAssetID:               invariant.ReceivingAssetID,
		SendingChainFallback:           invariant.SendingChainFallback,
		ReceivingAddress:               invariant.ReceivingAddress,
		CallTo:                         invariant.CallTo,
		CallDataHash:                   invariant.CallDataHash,
		TransactionID:                  invariant.TransactionID,
		SendingChainID:                 invariant.SendingChainID,
		ReceivingChainID:               invariant.ReceivingChainID,
		Amount:                         amount,
		Expiry:                         variant.Expiry,
		PreparedBlockNumber:            variant.PreparedBlockNumber,
	}
}
