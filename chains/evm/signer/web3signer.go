package signer

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Web3Signer delegates signing to a web3signer-compatible JSON-RPC service.
// The key never enters the router process.
type Web3Signer struct {
	client  *rpc.Client
	address string
}

// NewWeb3Signer dials the signing service and resolves the account it holds.
// A dial or account failure here means the router cannot operate.
//
// Parameters:
// - ctx: the context for managing the dial.
// - url: the signing service endpoint.
//
// Returns:
// - *Web3Signer: a signer bound to the service's first account.
// - error: an error if the service is unreachable or exposes no accounts.
func NewWeb3Signer(ctx context.Context, url string) (*Web3Signer, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial web3signer")
	}

	var accounts []string
	if err := client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to list web3signer accounts")
	}
	if len(accounts) == 0 {
		client.Close()
		return nil, errors.New("web3signer exposes no accounts")
	}

	return &Web3Signer{
		client:  client,
		address: strings.ToLower(accounts[0]),
	}, nil
}

// Address returns the remote account as lowercase hex.
func (s *Web3Signer) Address() string {
	return s.address
}

// Sign asks the service to sign the digest with the Ethereum signed-message
// scheme. The service applies the message prefix itself.
//
// Parameters:
// - ctx: the context for managing the request.
// - digest: the bytes to be signed.
//
// Returns:
// - []byte: the 65-byte signature with V in {27, 28}.
// - error: an error if the remote call fails.
func (s *Web3Signer) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	var signature hexutil.Bytes
	if err := s.client.CallContext(ctx, &signature, "eth_sign", s.address, hexutil.Encode(digest)); err != nil {
		return nil, errors.Wrap(err, "web3signer eth_sign failed")
	}
	return signature, nil
}

// SignTx asks the service to sign a transaction and decodes the returned raw
// payload.
//
// Parameters:
// - ctx: the context for managing the request.
// - tx: the transaction to be signed.
// - chainID: the chain the transaction targets.
//
// Returns:
// - *ethtypes.Transaction: the signed transaction.
// - error: an error if the remote call or decoding fails.
func (s *Web3Signer) SignTx(ctx context.Context, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	call := map[string]interface{}{
		"from":     s.address,
		"nonce":    hexutil.Uint64(tx.Nonce()),
		"gasPrice": (*hexutil.Big)(tx.GasPrice()),
		"gas":      hexutil.Uint64(tx.Gas()),
		"value":    (*hexutil.Big)(tx.Value()),
		"data":     hexutil.Encode(tx.Data()),
		"chainId":  (*hexutil.Big)(chainID),
	}
	if to := tx.To(); to != nil {
		call["to"] = strings.ToLower(to.Hex())
	}

	var raw hexutil.Bytes
	if err := s.client.CallContext(ctx, &raw, "eth_signTransaction", call); err != nil {
		return nil, errors.Wrap(err, "web3signer eth_signTransaction failed")
	}

	signed := new(ethtypes.Transaction)
	if err := rlp.DecodeBytes(raw, signed); err != nil {
		return nil, errors.Wrap(err, "failed to decode signed transaction")
	}
	return signed, nil
}

// Close releases the underlying RPC connection.
func (s *Web3Signer) Close() {
	s.client.Close()
}
