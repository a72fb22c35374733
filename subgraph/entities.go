package subgraph

import (
	"math/big"
	"strconv"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

// entityRef is a related entity reduced to its id.
type entityRef struct {
	ID string `json:"id"`
}

// transactionEntity is one transaction as the indexer returns it. Numeric
// fields arrive as decimal strings per GraphQL BigInt encoding.
type transactionEntity struct {
	ID                             string    `json:"id"`
	Status                         string    `json:"status"`
	ChainID                        string    `json:"chainId"`
	PreparedTimestamp              string    `json:"preparedTimestamp"`
	User                           entityRef `json:"user"`
	Router                         entityRef `json:"router"`
	Initiator                      string    `json:"initiator"`
	ReceivingChainTxManagerAddress string    `json:"receivingChainTxManagerAddress"`
	SendingAssetID                 string    `json:"sendingAssetId"`
	ReceivingAssetID               string    `json:"receivingAssetId"`
	SendingChainFallback           string    `json:"sendingChainFallback"`
	ReceivingAddress               string    `json:"receivingAddress"`
	CallTo                         string    `json:"callTo"`
	CallDataHash                   string    `json:"callDataHash"`
	TransactionID                  string    `json:"transactionId"`
	SendingChainID                 string    `json:"sendingChainId"`
	ReceivingChainID               string    `json:"receivingChainId"`
	Amount                         string    `json:"amount"`
	Expiry                         string    `json:"expiry"`
	PreparedBlockNumber            string    `json:"preparedBlockNumber"`
	EncryptedCallData              string    `json:"encryptedCallData"`
	EncodedBid                     string    `json:"encodedBid"`
	BidSignature                   string    `json:"bidSignature"`
	RelayerFee                     string    `json:"relayerFee"`
	Signature                      string    `json:"signature"`
	CallData                       string    `json:"callData"`
	CancelledNoFunds               bool      `json:"cancelledNoFunds"`
}

// toRecord converts an indexer entity into a typed record for the chain it
// was read from.
func (e *transactionEntity) toRecord(chainID types.ChainID) (*types.TransactionRecord, error) {
	amount, ok := new(big.Int).SetString(e.Amount, 10)
	if !ok {
		return nil, errors.Newf(errors.KindParamsInvalid, "transaction %s has malformed amount %q", e.TransactionID, e.Amount)
	}

	sendingChainID, err := strconv.ParseUint(e.SendingChainID, 10, 64)
	if err != nil {
		return nil, errors.Newf(errors.KindParamsInvalid, "transaction %s has malformed sendingChainId %q", e.TransactionID, e.SendingChainID)
	}
	receivingChainID, err := strconv.ParseUint(e.ReceivingChainID, 10, 64)
	if err != nil {
		return nil, errors.Newf(errors.KindParamsInvalid, "transaction %s has malformed receivingChainId %q", e.TransactionID, e.ReceivingChainID)
	}

	expiry := parseUintOrZero(e.Expiry)
	preparedBlock := parseUintOrZero(e.PreparedBlockNumber)
	preparedTimestamp := parseUintOrZero(e.PreparedTimestamp)

	var relayerFee *big.Int
	if e.RelayerFee != "" {
		relayerFee, _ = new(big.Int).SetString(e.RelayerFee, 10)
	}

	return &types.TransactionRecord{
		Invariant: types.InvariantTransactionData{
			ReceivingChainTxManagerAddress: e.ReceivingChainTxManagerAddress,
			User:                           e.User.ID,
			Router:                         e.Router.ID,
			Initiator:                      e.Initiator,
			SendingAssetID:                 e.SendingAssetID,
			ReceivingAssetID:               e.ReceivingAssetID,
			SendingChainFallback:           e.SendingChainFallback,
			ReceivingAddress:               e.ReceivingAddress,
			CallTo:                         e.CallTo,
			CallDataHash:                   e.CallDataHash,
			TransactionID:                  e.TransactionID,
			SendingChainID:                 types.ChainID(sendingChainID),
			ReceivingChainID:               types.ChainID(receivingChainID),
		},
		Variant: types.VariantTransactionData{
			Amount:              amount,
			Expiry:              expiry,
			PreparedBlockNumber: preparedBlock,
		},
		ChainID:           chainID,
		Status:            types.TransactionStatus(e.Status),
		PreparedTimestamp: preparedTimestamp,
		EncryptedCallData: e.EncryptedCallData,
		EncodedBid:        e.EncodedBid,
		BidSignature:      e.BidSignature,
		CallData:          e.CallData,
		Signature:         e.Signature,
		RelayerFee:        relayerFee,
		CancelledNoFunds:  e.CancelledNoFunds,
	}, nil
}

func parseUintOrZero(raw string) uint64 {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}
