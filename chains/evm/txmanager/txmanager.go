// Package txmanager encodes calls to the on-chain transaction manager, the
// HTLC contract holding both user locks and router liquidity. It owns the
// translation between the router's string-based records and the contract's
// ABI tuples.
package txmanager

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/Kuzirashi/nxtp/common/types"
)

// InvariantData mirrors the contract's InvariantTransactionData tuple. Field
// order and names must match the ABI components.
type InvariantData struct {
	ReceivingChainTxManagerAddress common.Address
	User                           common.Address
	Router                         common.Address
	Initiator                      common.Address
	SendingAssetId                 common.Address
	ReceivingAssetId               common.Address
	SendingChainFallback           common.Address
	ReceivingAddress               common.Address
	CallTo                         common.Address
	SendingChainId                 *big.Int
	ReceivingChainId               *big.Int
	CallDataHash                   [32]byte
	TransactionId                  [32]byte
}

// TransactionData mirrors the contract's TransactionData tuple.
type TransactionData struct {
	ReceivingChainTxManagerAddress common.Address
	User                           common.Address
	Router                         common.Address
	Initiator                      common.Address
	SendingAssetId                 common.Address
	ReceivingAssetId               common.Address
	SendingChainFallback           common.Address
	ReceivingAddress               common.Address
	CallTo                         common.Address
	CallDataHash                   [32]byte
	TransactionId                  [32]byte
	SendingChainId                 *big.Int
	ReceivingChainId               *big.Int
	Amount                         *big.Int
	Expiry                         *big.Int
	PreparedBlockNumber            *big.Int
}

type prepareArgs struct {
	InvariantData     InvariantData
	Amount            *big.Int
	Expiry            *big.Int
	EncryptedCallData []byte
	EncodedBid        []byte
	BidSignature      []byte
	EncodedMeta       []byte
}

type fulfillArgs struct {
	TxData      TransactionData
	RelayerFee  *big.Int
	Signature   []byte
	CallData    []byte
	EncodedMeta []byte
}

type cancelArgs struct {
	TxData      TransactionData
	Signature   []byte
	EncodedMeta []byte
}

// PrepareParams carries everything needed to encode a receiver-side prepare.
type PrepareParams struct {
	Invariant         types.InvariantTransactionData
	Amount            *big.Int
	Expiry            uint64
	EncryptedCallData string
	EncodedBid        string
	BidSignature      string
}

// FulfillParams carries everything needed to encode a fulfill.
type FulfillParams struct {
	Record     *types.TransactionRecord
	RelayerFee *big.Int
	Signature  string
	CallData   string
}

// Codec packs and unpacks transaction manager calldata.
type Codec struct {
	abi abi.ABI
}

// NewCodec parses the manager ABI once for reuse across encodings.
//
// Returns:
// - *Codec: the ready codec.
// - error: an error if the embedded ABI fails to parse.
func NewCodec() (*Codec, error) {
	parsed, err := abi.JSON(strings.NewReader(TransactionManagerABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse transaction manager ABI")
	}
	return &Codec{abi: parsed}, nil
}

// EncodePrepare packs a prepare call.
//
// Parameters:
// - params: the invariant data, receiving amount and expiry, and bid blobs.
//
// Returns:
// - []byte: the calldata.
// - error: an error if any field fails hex conversion or packing.
func (c *Codec) EncodePrepare(params PrepareParams) ([]byte, error) {
	invariant, err := toInvariantData(params.Invariant)
	if err != nil {
		return nil, err
	}

	encrypted, err := hexBytes(params.EncryptedCallData)
	if err != nil {
		return nil, errors.Wrap(err, "invalid encryptedCallData")
	}
	encodedBid, err := hexBytes(params.EncodedBid)
	if err != nil {
		return nil, errors.Wrap(err, "invalid encodedBid")
	}
	bidSig, err := hexBytes(params.BidSignature)
	if err != nil {
		return nil, errors.Wrap(err, "invalid bidSignature")
	}

	data, err := c.abi.Pack("prepare", prepareArgs{
		InvariantData:     invariant,
		Amount:            params.Amount,
		Expiry:            new(big.Int).SetUint64(params.Expiry),
		EncryptedCallData: encrypted,
		EncodedBid:        encodedBid,
		BidSignature:      bidSig,
		EncodedMeta:       []byte{},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack prepare")
	}
	return data, nil
}

// EncodeFulfill packs a fulfill call.
//
// Parameters:
// - params: the record being fulfilled plus the user's signature, plaintext
//   calldata and the relayer fee.
//
// Returns:
// - []byte: the calldata.
// - error: an error if any field fails hex conversion or packing.
func (c *Codec) EncodeFulfill(params FulfillParams) ([]byte, error) {
	txData, err := toTransactionData(params.Record)
	if err != nil {
		return nil, err
	}

	signature, err := hexBytes(params.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "invalid fulfill signature")
	}
	callData, err := hexBytes(params.CallData)
	if err != nil {
		return nil, errors.Wrap(err, "invalid callData")
	}

	relayerFee := params.RelayerFee
	if relayerFee == nil {
		relayerFee = big.NewInt(0)
	}

	data, err := c.abi.Pack("fulfill", fulfillArgs{
		TxData:      txData,
		RelayerFee:  relayerFee,
		Signature:   signature,
		CallData:    callData,
		EncodedMeta: []byte{},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack fulfill")
	}
	return data, nil
}

// EncodeCancel packs a cancel call. The signature is only required when
// cancelling before expiry, which the router never does; an empty string
// packs as empty bytes.
//
// Parameters:
// - record: the record being cancelled.
// - signature: the user's cancel signature, usually empty.
//
// Returns:
// - []byte: the calldata.
// - error: an error if any field fails hex conversion or packing.
func (c *Codec) EncodeCancel(record *types.TransactionRecord, signature string) ([]byte, error) {
	txData, err := toTransactionData(record)
	if err != nil {
		return nil, err
	}

	sig, err := hexBytes(signature)
	if err != nil {
		return nil, errors.Wrap(err, "invalid cancel signature")
	}

	data, err := c.abi.Pack("cancel", cancelArgs{
		TxData:      txData,
		Signature:   sig,
		EncodedMeta: []byte{},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack cancel")
	}
	return data, nil
}

// EncodeRemoveLiquidity packs a removeLiquidity call.
func (c *Codec) EncodeRemoveLiquidity(amount *big.Int, assetID string, recipient string) ([]byte, error) {
	asset, err := hexAddress(assetID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid assetId")
	}
	to, err := hexAddress(recipient)
	if err != nil {
		return nil, errors.Wrap(err, "invalid recipient")
	}

	data, err := c.abi.Pack("removeLiquidity", amount, asset, to)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack removeLiquidity")
	}
	return data, nil
}

// EncodeAddLiquidityFor packs an addLiquidityFor call. For native deposits
// the dispatcher must also set the transaction value to the amount.
func (c *Codec) EncodeAddLiquidityFor(amount *big.Int, assetID string, router string) ([]byte, error) {
	asset, err := hexAddress(assetID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid assetId")
	}
	routerAddr, err := hexAddress(router)
	if err != nil {
		return nil, errors.Wrap(err, "invalid router")
	}

	data, err := c.abi.Pack("addLiquidityFor", amount, asset, routerAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack addLiquidityFor")
	}
	return data, nil
}

// EncodeRouterBalances packs the routerBalances view call.
func (c *Codec) EncodeRouterBalances(router string, assetID string) ([]byte, error) {
	routerAddr, err := hexAddress(router)
	if err != nil {
		return nil, errors.Wrap(err, "invalid router")
	}
	asset, err := hexAddress(assetID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid assetId")
	}

	data, err := c.abi.Pack("routerBalances", routerAddr, asset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack routerBalances")
	}
	return data, nil
}

// DecodeRouterBalances unpacks the routerBalances return value.
func (c *Codec) DecodeRouterBalances(output []byte) (*big.Int, error) {
	values, err := c.abi.Unpack("routerBalances", output)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack routerBalances")
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("routerBalances returned a non-integer")
	}
	return balance, nil
}

func toInvariantData(inv types.InvariantTransactionData) (InvariantData, error) {
	var out InvariantData

	fields := []struct {
		name string
		src  string
		dst  *common.Address
	}{
		{"receivingChainTxManagerAddress", inv.ReceivingChainTxManagerAddress, &out.ReceivingChainTxManagerAddress},
		{"user", inv.User, &out.User},
		{"router", inv.Router, &out.Router},
		{"initiator", inv.Initiator, &out.Initiator},
		{"sendingAssetId", inv.SendingAssetID, &out.SendingAssetId},
		{"receivingAssetId", inv.ReceivingAssetID, &out.ReceivingAssetId},
		{"sendingChainFallback", inv.SendingChainFallback, &out.SendingChainFallback},
		{"receivingAddress", inv.ReceivingAddress, &out.ReceivingAddress},
		{"callTo", inv.CallTo, &out.CallTo},
	}
	for _, f := range fields {
		addr, err := hexAddress(f.src)
		if err != nil {
			return out, errors.Wrapf(err, "invalid %s", f.name)
		}
		*f.dst = addr
	}

	callDataHash, err := hexBytes32(inv.CallDataHash)
	if err != nil {
		return out, errors.Wrap(err, "invalid callDataHash")
	}
	transactionID, err := hexBytes32(inv.TransactionID)
	if err != nil {
		return out, errors.Wrap(err, "invalid transactionId")
	}

	out.SendingChainId = new(big.Int).SetUint64(uint64(inv.SendingChainID))
	out.ReceivingChainId = new(big.Int).SetUint64(uint64(inv.ReceivingChainID))
	out.CallDataHash = callDataHash
	out.TransactionId = transactionID
	return out, nil
}

func toTransactionData(record *types.TransactionRecord) (TransactionData, error) {
	invariant, err := toInvariantData(record.Invariant)
	if err != nil {
		return TransactionData{}, err
	}
	if record.Variant.Amount == nil {
		return TransactionData{}, errors.New("record has no amount")
	}

	return TransactionData{
		ReceivingChainTxManagerAddress: invariant.ReceivingChainTxManagerAddress,
		User:                           invariant.User,
		Router:                         invariant.Router,
		Initiator:                      invariant.Initiator,
		SendingAssetId:                 invariant.SendingAssetId,
		ReceivingAssetId:               invariant.ReceivingAssetId,
		SendingChainFallback:           invariant.SendingChainFallback,
		ReceivingAddress:               invariant.ReceivingAddress,
		CallTo:                         invariant.CallTo,
		CallDataHash:                   invariant.CallDataHash,
		TransactionId:                  invariant.TransactionId,
		SendingChainId:                 invariant.SendingChainId,
		ReceivingChainId:               invariant.ReceivingChainId,
		Amount:                         record.Variant.Amount,
		Expiry:                         new(big.Int).SetUint64(record.Variant.Expiry),
		PreparedBlockNumber:            new(big.Int).SetUint64(record.Variant.PreparedBlockNumber),
	}, nil
}

func hexAddress(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.Errorf("%q is not an address", raw)
	}
	return common.HexToAddress(raw), nil
}

func hexBytes(raw string) ([]byte, error) {
	if raw == "" || raw == "0x" {
		return []byte{}, nil
	}
	out, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "%q is not hex", raw)
	}
	return out, nil
}

func hexBytes32(raw string) ([32]byte, error) {
	var out [32]byte
	b, err := hexBytes(raw)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, errors.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
