package oracle

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// gasStationBumpPercent pads gas station quotes so transactions priced
// from them do not sit at the inclusion threshold.
const gasStationBumpPercent = 110

// GasPrice returns the current gas price in wei for the given chain.
// Configured gas stations are consulted in order and the first successful
// quote wins, bumped by 10%. When no station answers, the chain's RPC
// suggested price is used.
//
// Parameters:
// - ctx: the context for managing the request.
// - chainID: the chain to price gas for.
//
// Returns:
// - *big.Int: the gas price in wei.
// - error: an RPC error when neither the stations nor the RPC respond.
func (o *Oracle) GasPrice(ctx context.Context, chainID types.ChainID) (*big.Int, error) {
	config, err := o.chainConfig(chainID)
	if err != nil {
		return nil, err
	}

	for _, station := range config.GasStations {
		price, err := o.gasStationPrice(ctx, station)
		if err != nil {
			o.logger.WithFields(logrus.Fields{
				"chainId": chainID,
				"station": station,
			}).WithError(err).Warn("Gas station request failed, trying next source")
			continue
		}

		bumped := new(big.Int).Mul(price, big.NewInt(gasStationBumpPercent))
		bumped.Div(bumped, big.NewInt(100))
		return bumped, nil
	}

	chain, err := o.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return chain.GetGasPrice(ctx)
}

// gasStationPrice fetches a {"fast": <gwei>} quote from one station URL.
// The fast field may be a JSON number or a numeric string, possibly
// fractional gwei.
func (o *Oracle) gasStationPrice(ctx context.Context, url string) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRpcError, "failed to build gas station request")
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRpcError, "gas station request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.KindRpcError, "gas station returned status %d", resp.StatusCode)
	}

	var payload struct {
		Fast json.RawMessage `json:"fast"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, errors.KindRpcError, "failed to decode gas station response")
	}
	if len(payload.Fast) == 0 {
		return nil, errors.New(errors.KindRpcError, "gas station response has no fast price")
	}

	raw := strings.Trim(string(payload.Fast), `"`)
	gwei, err := decimal.NewFromString(raw)
	if err != nil || gwei.Sign() <= 0 {
		return nil, errors.Newf(errors.KindRpcError, "gas station fast price %q is not a positive number", raw)
	}

	// gwei to wei, flooring fractional quotes.
	return gwei.Mul(decimal.New(1, 9)).BigInt(), nil
}
