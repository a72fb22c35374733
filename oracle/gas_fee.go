package oracle

import (
	"context"
	"math/big"

	"github.com/Kuzirashi/nxtp/chains/evm"
	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// GasFee returns the cost of executing the given action, denominated in
// the given asset and scaled to its decimals. Chains without a configured
// price oracle quote a zero fee.
//
// The fee is gasPrice * gasEstimate converted from the native asset into
// the token via the oracle's 18-decimal prices, floor division throughout.
//
// Parameters:
// - ctx: the context for managing the request.
// - chainID: the chain the action executes on.
// - assetID: the asset the fee is denominated in.
// - decimals: the asset's decimal count.
// - kind: the action whose gas units to charge.
//
// Returns:
// - *big.Int: the fee in asset units, zero when the chain has no oracle.
// - error: an error if a price or gas price fetch fails.
func (o *Oracle) GasFee(ctx context.Context, chainID types.ChainID, assetID string, decimals uint8, kind types.ActionKind) (*big.Int, error) {
	config, err := o.chainConfig(chainID)
	if err != nil {
		return nil, err
	}
	if config.PriceOracleAddress == "" {
		return big.NewInt(0), nil
	}

	gasPrice, err := o.GasPrice(ctx, chainID)
	if err != nil {
		return nil, err
	}

	ethPrice, err := o.TokenPrice(ctx, chainID, evm.AddressZero)
	if err != nil {
		return nil, err
	}

	tokenPrice := ethPrice
	if !evm.IsNativeAsset(assetID) {
		tokenPrice, err = o.TokenPrice(ctx, chainID, assetID)
		if err != nil {
			return nil, err
		}
	}
	if tokenPrice.Sign() == 0 {
		return nil, errors.New(errors.KindRpcError, "price oracle returned a zero token price").
			WithContext("chainId", chainID.String()).
			WithContext("assetId", assetID)
	}

	gasPriceU, overflow := uint256.FromBig(gasPrice)
	if overflow {
		return nil, errors.New(errors.KindRpcError, "gas price does not fit in 256 bits")
	}
	ethPriceU, _ := uint256.FromBig(ethPrice)
	tokenPriceU, _ := uint256.FromBig(tokenPrice)

	// Native cost in wei, then into token units at 18 decimals.
	fee := new(uint256.Int).Mul(gasPriceU, uint256.NewInt(o.GasEstimate(chainID, kind)))
	fee.Mul(fee, ethPriceU)
	fee.Div(fee, tokenPriceU)

	return scaleFromWad(fee, decimals), nil
}

// GasFeeInReceivingToken returns the total gas cost the router bears for
// one transfer, denominated in the receiving asset: the sender-side
// fulfill plus the receiver-side prepare. The two sides are fetched
// concurrently.
//
// Parameters:
// - ctx: the context for managing the request.
// - sendingChainID: the sender-side chain.
// - sendingAssetID: the sender-side asset.
// - receivingChainID: the receiver-side chain.
// - receivingAssetID: the receiver-side asset.
// - outputDecimals: the receiving asset's decimal count.
//
// Returns:
// - *big.Int: the summed fee in receiving-asset units.
// - error: the first fee computation error.
func (o *Oracle) GasFeeInReceivingToken(
	ctx context.Context,
	sendingChainID types.ChainID,
	sendingAssetID string,
	receivingChainID types.ChainID,
	receivingAssetID string,
	outputDecimals uint8,
) (*big.Int, error) {
	var senderFee, receiverFee *big.Int

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		fee, err := o.GasFee(groupCtx, sendingChainID, sendingAssetID, outputDecimals, types.ActionFulfill)
		if err != nil {
			return err
		}
		senderFee = fee
		return nil
	})
	group.Go(func() error {
		fee, err := o.GasFee(groupCtx, receivingChainID, receivingAssetID, outputDecimals, types.ActionPrepare)
		if err != nil {
			return err
		}
		receiverFee = fee
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return new(big.Int).Add(senderFee, receiverFee), nil
}

// RelayerFee returns the fee owed to a meta-tx relayer for executing the
// given action, denominated in the chain's configured relayer asset
// (the native asset when none is configured).
//
// Parameters:
// - ctx: the context for managing the request.
// - chainID: the chain the relayed action executes on.
// - kind: the relayed action kind.
//
// Returns:
// - *big.Int: the fee in relayer-asset units.
// - error: an error if the decimals lookup or fee computation fails.
func (o *Oracle) RelayerFee(ctx context.Context, chainID types.ChainID, kind types.ActionKind) (*big.Int, error) {
	config, err := o.chainConfig(chainID)
	if err != nil {
		return nil, err
	}

	asset := config.RouterContractRelayerAsset
	if asset == "" {
		asset = evm.AddressZero
	}

	decimals := uint8(18)
	if !evm.IsNativeAsset(asset) {
		chain, err := o.chains.Get(chainID)
		if err != nil {
			return nil, err
		}
		decimals, err = chain.GetDecimalsForAsset(ctx, asset)
		if err != nil {
			return nil, err
		}
	}

	return o.GasFee(ctx, chainID, asset, decimals, kind)
}

// scaleFromWad converts an 18-decimal amount to the target decimal count,
// flooring when scaling down.
func scaleFromWad(amount *uint256.Int, decimals uint8) *big.Int {
	scaled := new(uint256.Int).Set(amount)
	switch {
	case decimals < 18:
		scaled.Div(scaled, pow10(18-decimals))
	case decimals > 18:
		scaled.Mul(scaled, pow10(decimals-18))
	}
	return scaled.ToBig()
}

func pow10(n uint8) *uint256.Int {
	result := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		result.Mul(result, ten)
	}
	return result
}
