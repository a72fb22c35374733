// Package config loads and validates the router configuration. The primary
// source is a JSON document supplied either inline through the NXTP_CONFIG
// environment variable or as a file; individual secrets can be overridden
// through dedicated environment variables.
package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
)

const (
	// EnvConfig holds the full JSON configuration inline.
	EnvConfig = "NXTP_CONFIG"

	// EnvConfigFile points at a JSON configuration file.
	EnvConfigFile = "NXTP_CONFIG_FILE"

	defaultConfigFile = "config.json"
)

// Default tuning values applied when the configuration omits them.
const (
	DefaultRequestLimitMs     = 5000
	DefaultMaxPriceImpact     = "0.1"
	DefaultAmplification      = 85
	DefaultSubgraphSyncBuffer = 50
	DefaultConfirmations      = 1
	DefaultAdminHost          = "0.0.0.0"
	DefaultAdminPort          = 8080
	DefaultPollIntervalSec    = 10
	DefaultExpirySweepSec     = 60
	DefaultGracePeriodSec     = 30
	DefaultChainWeight        = 1

	// DefaultMinGas is 0.1 native units in wei.
	DefaultMinGas = "100000000000000000"
)

// ChainEntry is the raw per-chain block as it appears in the JSON document.
// Numeric amounts arrive as decimal strings so they survive JSON number
// precision.
type ChainEntry struct {
	Providers                  []string          `mapstructure:"providers" json:"providers"`
	Subgraph                   []string          `mapstructure:"subgraph" json:"subgraph"`
	Confirmations              uint64            `mapstructure:"confirmations" json:"confirmations"`
	MinGas                     string            `mapstructure:"minGas" json:"minGas"`
	TransactionManagerAddress  string            `mapstructure:"transactionManagerAddress" json:"transactionManagerAddress"`
	PriceOracleAddress         string            `mapstructure:"priceOracleAddress" json:"priceOracleAddress"`
	GasStations                []string          `mapstructure:"gasStations" json:"gasStations"`
	RouterContractRelayerAsset string            `mapstructure:"routerContractRelayerAsset" json:"routerContractRelayerAsset"`
	SubgraphSyncBuffer         uint64            `mapstructure:"subgraphSyncBuffer" json:"subgraphSyncBuffer"`
	GasEstimates               map[string]uint64 `mapstructure:"gasEstimates" json:"gasEstimates"`
	Weight                     uint64            `mapstructure:"weight" json:"weight"`
}

// Config is the full router configuration after defaulting and validation.
//
// Exactly one of Mnemonic and Web3SignerURL is set; the other is empty.
type Config struct {
	Mnemonic      string `mapstructure:"mnemonic"`
	Web3SignerURL string `mapstructure:"web3SignerUrl"`
	AuthURL       string `mapstructure:"authUrl"`
	NatsURL       string `mapstructure:"natsUrl"`
	LogLevel      string `mapstructure:"logLevel"`
	AdminToken    string `mapstructure:"adminToken"`
	AdminHost     string `mapstructure:"host"`
	AdminPort     int    `mapstructure:"port"`
	DatabaseURL   string `mapstructure:"databaseUrl"`

	ChainConfig map[string]ChainEntry `mapstructure:"chainConfig"`
	SwapPools   []types.SwapPool      `mapstructure:"swapPools"`

	RequestLimitMs uint64 `mapstructure:"requestLimit"`
	MaxPriceImpact string `mapstructure:"maxPriceImpact"`
	Amplification  uint64 `mapstructure:"amplification"`
	AllowedVAMM    bool   `mapstructure:"allowedVAMM"`

	DiagnosticMode bool `mapstructure:"diagnosticMode"`
	CleanUpMode    bool `mapstructure:"cleanUpMode"`
	PriceCacheMode bool `mapstructure:"priceCacheMode"`

	PollIntervalSec uint64 `mapstructure:"pollInterval"`
	ExpirySweepSec  uint64 `mapstructure:"expiryCheckInterval"`
	GracePeriodSec  uint64 `mapstructure:"gracePeriod"`

	chains map[types.ChainID]*types.ChainConfig
}

// Load reads, defaults and validates the configuration.
//
// Returns:
// - *Config: the validated configuration.
// - error: a ConfigurationError describing the first problem found.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	if inline := os.Getenv(EnvConfig); inline != "" {
		if err := v.ReadConfig(strings.NewReader(inline)); err != nil {
			return nil, rerrors.Wrap(err, rerrors.KindConfigurationError, "parsing inline configuration")
		}
	} else {
		path := os.Getenv(EnvConfigFile)
		if path == "" {
			path = defaultConfigFile
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, rerrors.Wrap(err, rerrors.KindConfigurationError, "reading configuration file").
				WithContext("path", path)
		}
	}

	bindEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, rerrors.Wrap(err, rerrors.KindConfigurationError, "decoding configuration")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.buildChains(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnvOverrides lets secrets and endpoints come from the environment so
// the JSON document can stay free of credentials.
func bindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("mnemonic", "NXTP_MNEMONIC")
	_ = v.BindEnv("web3SignerUrl", "NXTP_WEB3_SIGNER_URL")
	_ = v.BindEnv("natsUrl", "NXTP_NATS_URL")
	_ = v.BindEnv("authUrl", "NXTP_AUTH_URL")
	_ = v.BindEnv("logLevel", "NXTP_LOG_LEVEL")
	_ = v.BindEnv("adminToken", "NXTP_ADMIN_TOKEN")
	_ = v.BindEnv("databaseUrl", "NXTP_DATABASE_URL")
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AdminHost == "" {
		c.AdminHost = DefaultAdminHost
	}
	if c.AdminPort == 0 {
		c.AdminPort = DefaultAdminPort
	}
	if c.RequestLimitMs == 0 {
		c.RequestLimitMs = DefaultRequestLimitMs
	}
	if c.MaxPriceImpact == "" {
		c.MaxPriceImpact = DefaultMaxPriceImpact
	}
	if c.Amplification == 0 {
		c.Amplification = DefaultAmplification
	}
	if c.PollIntervalSec == 0 {
		c.PollIntervalSec = DefaultPollIntervalSec
	}
	if c.ExpirySweepSec == 0 {
		c.ExpirySweepSec = DefaultExpirySweepSec
	}
	if c.GracePeriodSec == 0 {
		c.GracePeriodSec = DefaultGracePeriodSec
	}
}

func (c *Config) validate() error {
	if c.Mnemonic == "" && c.Web3SignerURL == "" {
		return rerrors.New(rerrors.KindConfigurationError, "one of mnemonic or web3SignerUrl is required")
	}
	if c.Mnemonic != "" && c.Web3SignerURL != "" {
		return rerrors.New(rerrors.KindConfigurationError, "mnemonic and web3SignerUrl are mutually exclusive")
	}
	if c.NatsURL == "" {
		return rerrors.New(rerrors.KindConfigurationError, "natsUrl is required")
	}
	if len(c.ChainConfig) == 0 {
		return rerrors.New(rerrors.KindConfigurationError, "chainConfig must list at least one chain")
	}
	if len(c.SwapPools) == 0 {
		return rerrors.New(rerrors.KindConfigurationError, "swapPools must list at least one pool")
	}

	if _, err := ParsePriceImpact(c.MaxPriceImpact); err != nil {
		return err
	}

	for _, pool := range c.SwapPools {
		if pool.Name == "" {
			return rerrors.New(rerrors.KindConfigurationError, "swap pool missing name")
		}
		if len(pool.Assets) < 2 {
			return rerrors.Newf(rerrors.KindConfigurationError, "swap pool %q needs at least two assets", pool.Name)
		}
		for _, asset := range pool.Assets {
			if _, ok := c.ChainConfig[asset.ChainID.String()]; !ok {
				return rerrors.Newf(rerrors.KindConfigurationError,
					"swap pool %q references unconfigured chain %s", pool.Name, asset.ChainID)
			}
			if !common.IsHexAddress(asset.AssetID) {
				return rerrors.Newf(rerrors.KindConfigurationError,
					"swap pool %q has invalid asset address %q", pool.Name, asset.AssetID)
			}
		}
	}
	return nil
}

// buildChains converts the raw string-keyed chain entries into typed
// ChainConfig values keyed by ChainID.
func (c *Config) buildChains() error {
	c.chains = make(map[types.ChainID]*types.ChainConfig, len(c.ChainConfig))
	for key, entry := range c.ChainConfig {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return rerrors.Newf(rerrors.KindConfigurationError, "chainConfig key %q is not a chain id", key)
		}
		chainID := types.ChainID(id)

		if len(entry.Providers) == 0 {
			return rerrors.Newf(rerrors.KindConfigurationError, "chain %s has no providers", chainID)
		}
		if len(entry.Subgraph) == 0 {
			return rerrors.Newf(rerrors.KindConfigurationError, "chain %s has no subgraph endpoints", chainID)
		}
		if !common.IsHexAddress(entry.TransactionManagerAddress) {
			return rerrors.Newf(rerrors.KindConfigurationError,
				"chain %s has invalid transactionManagerAddress %q", chainID, entry.TransactionManagerAddress)
		}
		if entry.PriceOracleAddress != "" && !common.IsHexAddress(entry.PriceOracleAddress) {
			return rerrors.Newf(rerrors.KindConfigurationError,
				"chain %s has invalid priceOracleAddress %q", chainID, entry.PriceOracleAddress)
		}

		minGas := entry.MinGas
		if minGas == "" {
			minGas = DefaultMinGas
		}
		minGasWei, ok := new(big.Int).SetString(minGas, 10)
		if !ok || minGasWei.Sign() < 0 {
			return rerrors.Newf(rerrors.KindConfigurationError, "chain %s has invalid minGas %q", chainID, entry.MinGas)
		}

		confirmations := entry.Confirmations
		if confirmations == 0 {
			confirmations = DefaultConfirmations
		}
		syncBuffer := entry.SubgraphSyncBuffer
		if syncBuffer == 0 {
			syncBuffer = DefaultSubgraphSyncBuffer
		}
		weight := entry.Weight
		if weight == 0 {
			weight = DefaultChainWeight
		}

		gasEstimates, err := parseGasEstimates(chainID, entry.GasEstimates)
		if err != nil {
			return err
		}

		c.chains[chainID] = &types.ChainConfig{
			ChainID:                    chainID,
			Providers:                  entry.Providers,
			Subgraph:                   entry.Subgraph,
			Confirmations:              confirmations,
			MinGas:                     minGasWei,
			TransactionManagerAddress:  strings.ToLower(entry.TransactionManagerAddress),
			PriceOracleAddress:         strings.ToLower(entry.PriceOracleAddress),
			GasStations:                entry.GasStations,
			RouterContractRelayerAsset: strings.ToLower(entry.RouterContractRelayerAsset),
			SubgraphSyncBuffer:         syncBuffer,
			GasEstimates:               gasEstimates,
			Weight:                     weight,
		}
	}
	return nil
}

func parseGasEstimates(chainID types.ChainID, raw map[string]uint64) (map[types.ActionKind]uint64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	known := map[string]types.ActionKind{
		"prepare":         types.ActionPrepare,
		"fulfill":         types.ActionFulfill,
		"cancel":          types.ActionCancel,
		"removeLiquidity": types.ActionRemoveLiquidity,
		"addLiquidityFor": types.ActionAddLiquidityFor,
	}
	out := make(map[types.ActionKind]uint64, len(raw))
	for name, units := range raw {
		kind, ok := known[name]
		if !ok {
			return nil, rerrors.Newf(rerrors.KindConfigurationError,
				"chain %s has unknown gasEstimates key %q", chainID, name)
		}
		if units == 0 {
			return nil, rerrors.Newf(rerrors.KindConfigurationError,
				"chain %s has zero gasEstimates value for %q", chainID, name)
		}
		out[kind] = units
	}
	return out, nil
}

// ParsePriceImpact parses a max price impact fraction such as "0.1" and
// checks it lies in (0, 1).
//
// Parameters:
// - raw: the configured fraction as a decimal string.
//
// Returns:
// - decimal.Decimal: the parsed fraction.
// - error: a ConfigurationError when the value is malformed or out of range.
func ParsePriceImpact(raw string) (decimal.Decimal, error) {
	impact, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, rerrors.Newf(rerrors.KindConfigurationError, "maxPriceImpact %q is not a decimal", raw)
	}
	if impact.LessThanOrEqual(decimal.Zero) || impact.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, rerrors.Newf(rerrors.KindConfigurationError, "maxPriceImpact %q must be between 0 and 1 exclusive", raw)
	}
	return impact, nil
}

// Chains returns the typed per-chain configuration keyed by ChainID.
func (c *Config) Chains() map[types.ChainID]*types.ChainConfig {
	return c.chains
}

// Chain returns the configuration for one chain.
//
// Parameters:
// - chainID: the chain to look up.
//
// Returns:
// - *types.ChainConfig: the chain configuration.
// - error: a ChainNotSupported error when the chain is not configured.
func (c *Config) Chain(chainID types.ChainID) (*types.ChainConfig, error) {
	chain, ok := c.chains[chainID]
	if !ok {
		return nil, rerrors.Newf(rerrors.KindChainNotSupported, "chain %s is not configured", chainID).
			WithContext("chainId", chainID.String())
	}
	return chain, nil
}

// Redacted returns a copy safe for logging, with secrets masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Mnemonic != "" {
		out.Mnemonic = "****"
	}
	if out.AdminToken != "" {
		out.AdminToken = "****"
	}
	if out.DatabaseURL != "" {
		out.DatabaseURL = "****"
	}
	out.chains = nil
	return out
}
