package auction

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Kuzirashi/nxtp/chains/evm/signer"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

// BidDigest computes the digest a router signs to commit to a bid. The
// digest covers the fields a user needs a router to stand behind: the
// transaction id, the quoted amount, the receiving chain and asset, the bid
// expiry and the router address, tightly packed in that order and hashed
// with keccak256.
//
// Parameters:
// - bid: the bid to digest.
//
// Returns:
// - []byte: the 32-byte digest.
// - error: a ParamsInvalid error when a covered field is malformed.
func BidDigest(bid *types.Bid) ([]byte, error) {
	transactionID, err := hexutil.Decode(bid.TransactionID)
	if err != nil || len(transactionID) != 32 {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "transaction id %q is not 32 bytes of hex", bid.TransactionID)
	}

	amount, ok := new(big.Int).SetString(bid.AmountReceived, 10)
	if !ok || amount.Sign() < 0 {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "amount received %q is not a non-negative integer", bid.AmountReceived)
	}

	if !common.IsHexAddress(bid.ReceivingAssetID) {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "receiving asset %q is not an address", bid.ReceivingAssetID)
	}
	if !common.IsHexAddress(bid.Router) {
		return nil, rerrors.Newf(rerrors.KindParamsInvalid, "router %q is not an address", bid.Router)
	}

	packed := make([]byte, 0, 32+32+32+20+32+20)
	packed = append(packed, transactionID...)
	packed = append(packed, common.LeftPadBytes(amount.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(new(big.Int).SetUint64(uint64(bid.ReceivingChainID)).Bytes(), 32)...)
	packed = append(packed, common.HexToAddress(bid.ReceivingAssetID).Bytes()...)
	packed = append(packed, common.LeftPadBytes(new(big.Int).SetUint64(bid.BidExpiry).Bytes(), 32)...)
	packed = append(packed, common.HexToAddress(bid.Router).Bytes()...)

	return crypto.Keccak256(packed), nil
}

// SignBid signs the bid digest with the router key.
//
// Parameters:
// - ctx: the context for managing the request.
// - s: the router signer.
// - bid: the bid to sign.
//
// Returns:
// - string: the 65-byte signature as 0x-prefixed hex.
// - error: an error when the digest or the signature cannot be produced.
func SignBid(ctx context.Context, s types.Signer, bid *types.Bid) (string, error) {
	digest, err := BidDigest(bid)
	if err != nil {
		return "", err
	}

	signature, err := s.Sign(ctx, digest)
	if err != nil {
		return "", rerrors.Wrap(err, rerrors.KindRpcError, "signing bid digest")
	}

	return hexutil.Encode(signature), nil
}

// VerifyBidSignature checks that a bid signature recovers to the bid's
// router address.
//
// Parameters:
// - bid: the bid the signature covers.
// - signature: the 65-byte signature as 0x-prefixed hex.
//
// Returns:
// - error: a ParamsInvalid error when the signature does not match.
func VerifyBidSignature(bid *types.Bid, signature string) error {
	digest, err := BidDigest(bid)
	if err != nil {
		return err
	}

	raw, err := hexutil.Decode(signature)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindParamsInvalid, "decoding bid signature")
	}

	recovered, err := signer.RecoverSigned(digest, raw)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindParamsInvalid, "recovering bid signer")
	}
	if recovered != strings.ToLower(bid.Router) {
		return rerrors.Newf(rerrors.KindParamsInvalid, "bid signed by %s, not by router %s", recovered, bid.Router).
			WithContext("recovered", recovered).
			WithContext("router", strings.ToLower(bid.Router))
	}
	return nil
}

// EncodeBid serializes a bid for embedding in receiver-side prepare calldata.
// The encoding is the bid's JSON form as 0x-prefixed hex, so contracts and
// off-chain tooling can carry it opaquely.
func EncodeBid(bid *types.Bid) (string, error) {
	raw, err := json.Marshal(bid)
	if err != nil {
		return "", rerrors.Wrap(err, rerrors.KindParamsInvalid, "encoding bid")
	}
	return hexutil.Encode(raw), nil
}

// DecodeBid reverses EncodeBid.
func DecodeBid(encoded string) (*types.Bid, error) {
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, rerrors.Wrap(err, rerrors.KindParamsInvalid, "decoding bid hex")
	}
	var bid types.Bid
	if err := json.Unmarshal(raw, &bid); err != nil {
		return nil, rerrors.Wrap(err, rerrors.KindParamsInvalid, "decoding bid json")
	}
	return &bid, nil
}
