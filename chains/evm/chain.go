// Package evm implements the per-chain RPC capability over an ordered list
// of JSON-RPC providers. Calls try providers in order and fall back on
// failure; a background monitor re-dials providers that stop answering.
package evm

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	rerrors "github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/Kuzirashi/nxtp/connectionmonitor"
)

// rpcTimeout bounds every provider call.
const rpcTimeout = 30 * time.Second

// provider wraps one RPC endpoint together with its health state.
type provider struct {
	url string

	clientMutex sync.RWMutex      // Mutex for client.
	client      *ethclient.Client // Ethereum client.

	healthMutex sync.RWMutex // Mutex for health state.
	healthy     bool
}

func (p *provider) getClient() *ethclient.Client {
	p.clientMutex.RLock()
	defer p.clientMutex.RUnlock()
	return p.client
}

func (p *provider) setClient(client *ethclient.Client) {
	p.clientMutex.Lock()
	if p.client != nil {
		p.client.Close()
	}
	p.client = client
	p.clientMutex.Unlock()
}

func (p *provider) isHealthy() bool {
	p.healthMutex.RLock()
	defer p.healthMutex.RUnlock()
	return p.healthy
}

func (p *provider) setHealthy(healthy bool) {
	p.healthMutex.Lock()
	p.healthy = healthy
	p.healthMutex.Unlock()
}

// Chain is the EVM implementation of types.ChainService.
type Chain struct {
	config    *types.ChainConfig
	logger    *logrus.Logger
	providers []*provider

	decimalsMutex sync.RWMutex     // Mutex for the decimals cache.
	decimals      map[string]uint8 // Asset decimals, keyed by lowercase address.

	monitorsMutex sync.Mutex // Mutex for monitors.
	monitors      []*connectionmonitor.Monitor
}

// NewChain dials every configured provider for the chain and starts a
// connection monitor per provider.
//
// Parameters:
// - ctx: the context for managing initialization.
// - config: the chain configuration.
// - logger: the logger for logging events.
//
// Returns:
// - *Chain: a new chain service.
// - error: an error if no provider can be dialed.
func NewChain(ctx context.Context, config *types.ChainConfig, logger *logrus.Logger) (*Chain, error) {
	if len(config.Providers) == 0 {
		return nil, rerrors.Newf(rerrors.KindConfigurationError, "chain %s has no providers", config.ChainID)
	}

	chain := &Chain{
		config:   config,
		logger:   logger,
		decimals: make(map[string]uint8),
	}

	dialed := 0
	for _, url := range config.Providers {
		p := &provider{url: url}

		client, err := ethclient.Dial(url)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"chainId":  config.ChainID,
				"provider": url,
			}).WithError(err).Warn("Failed to dial provider")
		} else {
			p.setClient(client)
			p.setHealthy(true)
			dialed++
		}

		chain.providers = append(chain.providers, p)
	}
	if dialed == 0 {
		return nil, errors.Errorf("failed to dial any provider for chain %s", config.ChainID)
	}

	if err := chain.initMonitors(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to init connection monitors")
	}

	return chain, nil
}

// ChainID returns the chain this service is bound to.
func (c *Chain) ChainID() types.ChainID {
	return c.config.ChainID
}

// Healthy reports whether at least one provider currently answers.
func (c *Chain) Healthy() bool {
	for _, p := range c.providers {
		if p.isHealthy() && p.getClient() != nil {
			return true
		}
	}
	return false
}

// Close stops the monitors and releases every provider connection.
func (c *Chain) Close() {
	c.monitorsMutex.Lock()
	for _, m := range c.monitors {
		m.Stop()
	}
	c.monitors = nil
	c.monitorsMutex.Unlock()

	for _, p := range c.providers {
		p.clientMutex.Lock()
		if p.client != nil {
			p.client.Close()
			p.client = nil
		}
		p.clientMutex.Unlock()
	}
}

// withClient runs fn against providers in order, healthy ones first, until
// one succeeds. Each attempt shares one deadline for the whole operation.
//
// Parameters:
// - ctx: the context for managing the request.
// - op: the operation name used in logs and error context.
// - fn: the call to run against a connected client.
//
// Returns:
// - error: an RpcError wrapping the last failure when every provider fails.
func (c *Chain) withClient(ctx context.Context, op string, fn func(ctx context.Context, client *ethclient.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	ordered := make([]*provider, 0, len(c.providers))
	var degraded []*provider
	for _, p := range c.providers {
		if p.getClient() == nil {
			continue
		}
		if p.isHealthy() {
			ordered = append(ordered, p)
		} else {
			degraded = append(degraded, p)
		}
	}
	ordered = append(ordered, degraded...)

	var lastErr error
	for _, p := range ordered {
		if err := fn(ctx, p.getClient()); err != nil {
			if ctx.Err() != nil {
				lastErr = err
				break
			}
			p.setHealthy(false)
			c.logger.WithFields(logrus.Fields{
				"chainId":  c.config.ChainID,
				"provider": p.url,
				"method":   op,
			}).WithError(err).Warn("Provider call failed, falling back")
			lastErr = err
			continue
		}
		p.setHealthy(true)
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("no connected providers")
	}
	return rerrors.Wrap(lastErr, rerrors.KindRpcError, op).
		WithContext("chainId", c.config.ChainID.String())
}
