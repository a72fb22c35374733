// Package oracle quotes token prices and gas costs for auction fee math
// and the meta-tx relayer path. Prices come from per-chain on-chain
// oracle contracts, gas prices from configured gas stations with an RPC
// fallback.
package oracle

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sirupsen/logrus"
	"math/big"
)

const (
	// priceOracleABI covers the single view call the router needs from the
	// on-chain price oracle. Prices are quoted with 18 decimals.
	priceOracleABI = `[{"inputs":[{"internalType":"address","name":"_tokenAddress","type":"address"}],"name":"getTokenPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	// priceCacheTTL bounds how stale a cached price may be when
	// priceCacheMode is enabled.
	priceCacheTTL = time.Minute

	// gasStationTimeout bounds each gas station HTTP request.
	gasStationTimeout = 10 * time.Second
)

// defaultGasEstimates holds the gas units charged per action when the
// chain configuration does not override them.
var defaultGasEstimates = map[types.ActionKind]uint64{
	types.ActionPrepare:         190000,
	types.ActionFulfill:         200000,
	types.ActionCancel:          204271,
	types.ActionRemoveLiquidity: 45000,
	types.ActionAddLiquidityFor: 120000,
}

// ChainGetter resolves a chain service by chain ID.
type ChainGetter interface {
	Get(chainID types.ChainID) (types.ChainService, error)
}

// Oracle computes token prices and gas fees for the configured chains.
//
// Fields:
// - logger: the logger instance for logging oracle events.
// - chains: resolver for per-chain RPC services.
// - configs: per-chain configuration (oracle address, gas stations, estimates).
// - httpClient: client used for gas station requests.
// - oracleABI: parsed price oracle ABI, shared by all chains.
// - cacheEnabled: whether token prices are cached with a TTL.
// - cacheMutex: mutex for thread-safe access to the price cache.
// - cache: cached token prices keyed by chain and asset.
type Oracle struct {
	logger     *logrus.Logger
	chains     ChainGetter
	configs    map[types.ChainID]*types.ChainConfig
	httpClient *http.Client
	oracleABI  abi.ABI

	cacheEnabled bool
	cacheMutex   sync.RWMutex
	cache        map[priceCacheKey]cachedPrice
}

type priceCacheKey struct {
	chainID types.ChainID
	assetID string
}

type cachedPrice struct {
	price     *big.Int
	fetchedAt time.Time
}

// NewOracle creates a new Oracle instance.
//
// Parameters:
// - chains: resolver for per-chain RPC services.
// - configs: per-chain configuration keyed by chain ID.
// - cacheEnabled: enables the 1-minute token price cache.
// - logger: the logger instance for logging oracle events.
//
// Returns:
// - *Oracle: a new Oracle instance.
// - error: an error if the price oracle ABI fails to parse.
func NewOracle(chains ChainGetter, configs map[types.ChainID]*types.ChainConfig, cacheEnabled bool, logger *logrus.Logger) (*Oracle, error) {
	parsed, err := abi.JSON(strings.NewReader(priceOracleABI))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfigurationError, "failed to parse price oracle ABI")
	}

	return &Oracle{
		logger:       logger,
		chains:       chains,
		configs:      configs,
		httpClient:   &http.Client{Timeout: gasStationTimeout},
		oracleABI:    parsed,
		cacheEnabled: cacheEnabled,
		cache:        make(map[priceCacheKey]cachedPrice),
	}, nil
}

// GasEstimate returns the gas units charged for the given action on the
// given chain, preferring a configured override over the default table.
//
// Parameters:
// - chainID: the chain the action executes on.
// - kind: the action kind.
//
// Returns:
// - uint64: the gas units for the action.
func (o *Oracle) GasEstimate(chainID types.ChainID, kind types.ActionKind) uint64 {
	if config, ok := o.configs[chainID]; ok {
		if units, ok := config.GasEstimates[kind]; ok {
			return units
		}
	}
	return defaultGasEstimates[kind]
}

func (o *Oracle) chainConfig(chainID types.ChainID) (*types.ChainConfig, error) {
	config, ok := o.configs[chainID]
	if !ok {
		return nil, errors.New(errors.KindChainNotSupported, "chain not configured").
			WithContext("chainId", chainID.String())
	}
	return config, nil
}
