package txmanager

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kuzirashi/nxtp/common/types"
)

func testInvariant() types.InvariantTransactionData {
	return types.InvariantTransactionData{
		ReceivingChainTxManagerAddress: "0x8cdaf0cd259887258bc13a92c0a6da92698644c0",
		User:                           "0xf17f52151ebef6c7334fad080c5704d77216b732",
		Router:                         "0x627306090abab3a6e1400e9345bc60c78a8bef57",
		Initiator:                      "0xf17f52151ebef6c7334fad080c5704d77216b732",
		SendingAssetID:                 "0x0000000000000000000000000000000000000000",
		ReceivingAssetID:               "0x0000000000000000000000000000000000000000",
		SendingChainFallback:           "0xf17f52151ebef6c7334fad080c5704d77216b732",
		ReceivingAddress:               "0xf17f52151ebef6c7334fad080c5704d77216b732",
		CallTo:                         "0x0000000000000000000000000000000000000000",
		CallDataHash:                   "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		TransactionID:                  "0x0100000000000000000000000000000000000000000000000000000000000001",
		SendingChainID:                 1337,
		ReceivingChainID:               1338,
	}
}

func testRecord() *types.TransactionRecord {
	return &types.TransactionRecord{
		Invariant: testInvariant(),
		Variant: types.VariantTransactionData{
			Amount:              big.NewInt(999_000),
			Expiry:              1_700_000_000,
			PreparedBlockNumber: 42,
		},
		ChainID: 1338,
		Status:  types.StatusPrepared,
	}
}

func TestEncodePrepareSelectorAndRoundTrip(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	data, err := codec.EncodePrepare(PrepareParams{
		Invariant:         testInvariant(),
		Amount:            big.NewInt(999_000),
		Expiry:            1_700_000_000,
		EncryptedCallData: "0x",
		EncodedBid:        "0xdead",
		BidSignature:      "0xbeef",
	})
	require.NoError(t, err)
	require.Greater(t, len(data), 4)

	method, err := codec.abi.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "prepare", method.Name)

	values, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, values, 1)
}

func TestEncodeFulfillCarriesRelayerFee(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	data, err := codec.EncodeFulfill(FulfillParams{
		Record:     testRecord(),
		RelayerFee: big.NewInt(1234),
		Signature:  "0x" + hex.EncodeToString(make([]byte, 65)),
		CallData:   "0x",
	})
	require.NoError(t, err)

	method, err := codec.abi.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "fulfill", method.Name)
}

func TestEncodeCancelEmptySignature(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	data, err := codec.EncodeCancel(testRecord(), "")
	require.NoError(t, err)

	method, err := codec.abi.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "cancel", method.Name)
}

func TestEncodeRejectsMalformedFields(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	bad := testInvariant()
	bad.Router = "not-an-address"
	_, err = codec.EncodePrepare(PrepareParams{
		Invariant: bad,
		Amount:    big.NewInt(1),
		Expiry:    1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "router")

	short := testInvariant()
	short.TransactionID = "0x0102"
	_, err = codec.EncodePrepare(PrepareParams{
		Invariant: short,
		Amount:    big.NewInt(1),
		Expiry:    1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transactionId")
}

func TestRouterBalancesRoundTrip(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	data, err := codec.EncodeRouterBalances(
		"0x627306090abab3a6e1400e9345bc60c78a8bef57",
		"0x0000000000000000000000000000000000000000",
	)
	require.NoError(t, err)

	method, err := codec.abi.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "routerBalances", method.Name)

	// Simulate the contract's return payload.
	want := big.NewInt(5_000_000)
	output, err := method.Outputs.Pack(want)
	require.NoError(t, err)

	got, err := codec.DecodeRouterBalances(output)
	require.NoError(t, err)
	assert.Zero(t, want.Cmp(got))
}

func TestLiquidityEncodings(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	remove, err := codec.EncodeRemoveLiquidity(
		big.NewInt(1000),
		"0x0000000000000000000000000000000000000000",
		"0x627306090abab3a6e1400e9345bc60c78a8bef57",
	)
	require.NoError(t, err)

	add, err := codec.EncodeAddLiquidityFor(
		big.NewInt(1000),
		"0x0000000000000000000000000000000000000000",
		"0x627306090abab3a6e1400e9345bc60c78a8bef57",
	)
	require.NoError(t, err)

	removeMethod, err := codec.abi.MethodById(remove[:4])
	require.NoError(t, err)
	assert.Equal(t, "removeLiquidity", removeMethod.Name)

	addMethod, err := codec.abi.MethodById(add[:4])
	require.NoError(t, err)
	assert.Equal(t, "addLiquidityFor", addMethod.Name)

	assert.NotEqual(t, remove[:4], add[:4])
}
