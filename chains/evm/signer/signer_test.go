package signer

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLegacyTx(t *testing.T, nonce uint64, to string, value *big.Int, gas uint64, gasPrice *big.Int, data []byte) *ethtypes.Transaction {
	t.Helper()

	addr := common.HexToAddress(to)
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &addr,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
}

func ethSender(tx *ethtypes.Transaction, chainID *big.Int) (string, error) {
	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return "", err
	}
	return strings.ToLower(sender.Hex()), nil
}

// The standard test mnemonic used by local EVM stacks.
const testMnemonic = "candy maple cake sugar pudding cream honey rich smooth crumble sweet treat"

func TestNewSignerFromMnemonic(t *testing.T) {
	s, err := NewSignerFromMnemonic(testMnemonic)
	require.NoError(t, err)

	// First account of the well-known mnemonic at m/44'/60'/0'/0/0.
	assert.Equal(t, "0x627306090abab3a6e1400e9345bc60c78a8bef57", s.Address())
}

func TestNewSignerFromMnemonicRejectsGarbage(t *testing.T) {
	_, err := NewSignerFromMnemonic("definitely not a bip39 phrase")
	require.Error(t, err)
}

func TestSignRecoverRoundTrip(t *testing.T) {
	s, err := NewSignerFromMnemonic(testMnemonic)
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte("router bid payload"))
	signature, err := s.Sign(context.Background(), digest)
	require.NoError(t, err)
	require.Len(t, signature, 65)
	assert.Contains(t, []byte{27, 28}, signature[64])

	recovered, err := RecoverSigned(digest, signature)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)
}

func TestRecoverSignedRejectsShortSignature(t *testing.T) {
	_, err := RecoverSigned([]byte("digest"), []byte{0x01, 0x02})
	require.Error(t, err)
}

func TestRecoverSignedWrongKeyMismatch(t *testing.T) {
	s, err := NewSignerFromMnemonic(testMnemonic)
	require.NoError(t, err)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := NewLocalSigner(otherKey)
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte("payload"))
	signature, err := other.Sign(context.Background(), digest)
	require.NoError(t, err)

	recovered, err := RecoverSigned(digest, signature)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), recovered)
}

func TestSignTxProducesSenderSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewLocalSigner(key)
	require.NoError(t, err)

	chainID := big.NewInt(1337)
	to := crypto.PubkeyToAddress(key.PublicKey)
	tx := newLegacyTx(t, 7, to.Hex(), big.NewInt(1), 21000, big.NewInt(1_000_000_000), nil)

	signed, err := s.SignTx(context.Background(), tx, chainID)
	require.NoError(t, err)

	sender, err := ethSender(signed, chainID)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
	assert.Equal(t, uint64(7), signed.Nonce())
}
