// Package signer provides the router's signing backends. A local signer
// derives its key from a BIP39 mnemonic; a remote signer delegates to a
// web3signer-compatible service. Both satisfy types.Signer.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// LocalSigner signs with an in-process ECDSA key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	address    common.Address
}

// NewLocalSigner creates a signer around an existing private key.
//
// Parameters:
// - privateKey: the private key to be used for signing.
//
// Returns:
// - *LocalSigner: a new signer instance.
// - error: an error if the private key is not valid.
func NewLocalSigner(privateKey *ecdsa.PrivateKey) (*LocalSigner, error) {
	pubKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("cannot assign public key to ECDSA")
	}

	return &LocalSigner{
		privateKey: privateKey,
		publicKey:  pubKeyECDSA,
		address:    crypto.PubkeyToAddress(*pubKeyECDSA),
	}, nil
}

// NewSignerFromMnemonic derives the router key from a BIP39 mnemonic at the
// standard Ethereum path m/44'/60'/0'/0/0.
//
// Parameters:
// - mnemonic: the BIP39 seed phrase.
//
// Returns:
// - *LocalSigner: a new signer instance.
// - error: an error if the mnemonic is invalid or derivation fails.
func NewSignerFromMnemonic(mnemonic string) (*LocalSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("mnemonic failed BIP39 validation")
	}

	seed := bip39.NewSeed(mnemonic, "")
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive master key")
	}

	// m/44'/60'/0'/0/0
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild,
		0,
		0,
	}
	for _, segment := range path {
		key, err = key.NewChildKey(segment)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key %d", segment)
		}
	}

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, errors.Wrap(err, "derived key is not a valid secp256k1 key")
	}

	return NewLocalSigner(privateKey)
}

// Address returns the signer's address as lowercase hex, the form used in
// payloads and comparisons across the router.
func (s *LocalSigner) Address() string {
	return strings.ToLower(s.address.Hex())
}

// Sign signs the given digest using the Ethereum signed-message scheme.
//
// Parameters:
// - ctx: the context for managing the request.
// - digest: the bytes to be signed.
//
// Returns:
// - []byte: the 65-byte signature.
// - error: an error if the signing process fails.
func (s *LocalSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	msg := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(digest), digest)))
	signature, err := crypto.Sign(msg, s.privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}
	signature[64] += 27 // Transform V from 0/1 to 27/28 according to the yellow paper

	return signature, nil
}

// SignTx signs the given transaction with the specified chain ID.
//
// Parameters:
// - ctx: the context for managing the request.
// - tx: the transaction to be signed.
// - chainID: the chain ID for the transaction.
//
// Returns:
// - *ethtypes.Transaction: the signed transaction.
// - error: an error if the signing process fails.
func (s *LocalSigner) SignTx(_ context.Context, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(s.privateKey, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create keyed transactor")
	}

	signedTx, err := auth.Signer(s.address, tx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	return signedTx, nil
}

// RecoverSigned recovers the signer address of an Ethereum signed message.
//
// Parameters:
// - digest: the bytes that were signed.
// - signature: the 65-byte signature with V in {27, 28}.
//
// Returns:
// - string: the recovered address as lowercase hex.
// - error: an error if the signature is malformed.
func RecoverSigned(digest []byte, signature []byte) (string, error) {
	if len(signature) != crypto.SignatureLength {
		return "", errors.Errorf("signature has %d bytes, want %d", len(signature), crypto.SignatureLength)
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	msg := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(digest), digest)))
	pubKey, err := crypto.SigToPub(msg, sig)
	if err != nil {
		return "", errors.Wrap(err, "failed to recover public key")
	}

	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}
