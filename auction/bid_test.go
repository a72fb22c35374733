package auction

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kuzirashi/nxtp/chains/evm/signer"
	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

func sampleBid(router string) types.Bid {
	return types.Bid{
		User:                           "0x1111111111111111111111111111111111111111",
		Router:                         router,
		Initiator:                      "0x1111111111111111111111111111111111111111",
		SendingChainID:                 types.ChainID(1337),
		SendingAssetID:                 "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Amount:                         "1000000",
		ReceivingChainID:               types.ChainID(1338),
		ReceivingAssetID:               "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		AmountReceived:                 "998750",
		ReceivingAddress:               "0x2222222222222222222222222222222222222222",
		TransactionID:                  "0x0101010101010101010101010101010101010101010101010101010101010101",
		Expiry:                         1700003600,
		SendingChainTxManagerAddress:   "0xcccccccccccccccccccccccccccccccccccccccc",
		ReceivingChainTxManagerAddress: "0xdddddddddddddddddddddddddddddddddddddddd",
		BidExpiry:                      1700000300,
	}
}

func TestBidDigestCoversQuoteFields(t *testing.T) {
	bid := sampleBid("0x9999999999999999999999999999999999999999")

	digest, err := BidDigest(&bid)
	require.NoError(t, err)
	require.Len(t, digest, 32)

	again, err := BidDigest(&bid)
	require.NoError(t, err)
	assert.Equal(t, digest, again)

	tampered := bid
	tampered.AmountReceived = "998751"
	other, err := BidDigest(&tampered)
	require.NoError(t, err)
	assert.NotEqual(t, digest, other)

	tampered = bid
	tampered.BidExpiry++
	other, err = BidDigest(&tampered)
	require.NoError(t, err)
	assert.NotEqual(t, digest, other)
}

func TestBidDigestRejectsMalformedFields(t *testing.T) {
	router := "0x9999999999999999999999999999999999999999"

	tests := []struct {
		name   string
		mutate func(*types.Bid)
	}{
		{"short transaction id", func(b *types.Bid) { b.TransactionID = "0x0101" }},
		{"unparsable amount", func(b *types.Bid) { b.AmountReceived = "a lot" }},
		{"negative amount", func(b *types.Bid) { b.AmountReceived = "-5" }},
		{"bad receiving asset", func(b *types.Bid) { b.ReceivingAssetID = "native" }},
		{"bad router", func(b *types.Bid) { b.Router = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bid := sampleBid(router)
			tt.mutate(&bid)

			_, err := BidDigest(&bid)
			require.Error(t, err)
			assert.True(t, rerrors.IsKind(err, rerrors.KindParamsInvalid))
		})
	}
}

func TestSignBidRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	routerSigner, err := signer.NewLocalSigner(key)
	require.NoError(t, err)

	bid := sampleBid(routerSigner.Address())

	signature, err := SignBid(context.Background(), routerSigner, &bid)
	require.NoError(t, err)
	require.NotEmpty(t, signature)

	require.NoError(t, VerifyBidSignature(&bid, signature))

	tampered := bid
	tampered.AmountReceived = "1"
	err = VerifyBidSignature(&tampered, signature)
	require.Error(t, err)
	assert.True(t, rerrors.IsKind(err, rerrors.KindParamsInvalid))
}

func TestVerifyBidSignatureRejectsForeignRouter(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	routerSigner, err := signer.NewLocalSigner(key)
	require.NoError(t, err)

	bid := sampleBid(routerSigner.Address())
	signature, err := SignBid(context.Background(), routerSigner, &bid)
	require.NoError(t, err)

	// Re-point the bid at another router. The digest changes, so the
	// signature no longer recovers to the claimed address.
	bid.Router = "0x9999999999999999999999999999999999999999"
	err = VerifyBidSignature(&bid, signature)
	require.Error(t, err)
	assert.True(t, rerrors.IsKind(err, rerrors.KindParamsInvalid))
}

func TestEncodeBidRoundTrip(t *testing.T) {
	bid := sampleBid("0x9999999999999999999999999999999999999999")

	encoded, err := EncodeBid(&bid)
	require.NoError(t, err)
	assert.True(t, len(encoded) > 2 && encoded[:2] == "0x")

	decoded, err := DecodeBid(encoded)
	require.NoError(t, err)
	assert.Equal(t, bid, *decoded)

	_, err = DecodeBid("not hex")
	require.Error(t, err)
	assert.True(t, rerrors.IsKind(err, rerrors.KindParamsInvalid))
}
