// Package chains maintains the set of chain services the router operates on.
// Each configured chain gets one service instance, constructed once at startup
// and shared by every subsystem that needs chain access.
package chains

import (
	"context"
	"sync"

	"github.com/Kuzirashi/nxtp/chains/evm"
	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/Kuzirashi/nxtp/common/types"
	"github.com/sirupsen/logrus"
)

// Registry provides thread-safe access to chain services keyed by chain ID.
type Registry struct {
	logger      *logrus.Logger
	chains      map[types.ChainID]types.ChainService
	chainsMutex sync.RWMutex
}

// NewRegistry creates a chain service for every configured chain.
// Chains whose providers are all unreachable fail the whole registry:
// a router that cannot reach one of its configured chains must not
// start bidding on transfers that route through it.
//
// Parameters:
// - ctx: the context for managing provider dials.
// - configs: the chain configurations keyed by chain ID.
// - logger: the logger instance for logging registry events.
//
// Returns:
// - *Registry: a new Registry instance with all chains connected.
// - error: an error if any chain service fails to initialize.
func NewRegistry(ctx context.Context, configs map[types.ChainID]*types.ChainConfig, logger *logrus.Logger) (*Registry, error) {
	registry := &Registry{
		logger: logger,
		chains: make(map[types.ChainID]types.ChainService, len(configs)),
	}

	for chainID, config := range configs {
		chain, err := evm.NewChain(ctx, config, logger)
		if err != nil {
			registry.Close()
			return nil, errors.Wrap(err, errors.KindConfigurationError, "failed to initialize chain service").
				WithContext("chainId", chainID.String())
		}

		registry.chainsMutex.Lock()
		registry.chains[chainID] = chain
		registry.chainsMutex.Unlock()

		logger.WithFields(logrus.Fields{
			"chainId":   chainID,
			"providers": len(config.Providers),
		}).Info("Chain service initialized")
	}

	return registry, nil
}

// Get returns the chain service for the given chain ID.
//
// Parameters:
// - chainID: the chain ID to look up.
//
// Returns:
// - types.ChainService: the chain service instance.
// - error: a ProviderNotConfigured error if the chain has no service.
func (r *Registry) Get(chainID types.ChainID) (types.ChainService, error) {
	r.chainsMutex.RLock()
	chain, ok := r.chains[chainID]
	r.chainsMutex.RUnlock()

	if !ok {
		return nil, errors.New(errors.KindProviderNotConfigured, "no provider configured for chain").
			WithContext("chainId", chainID.String())
	}
	return chain, nil
}

// ChainIDs returns the IDs of all registered chains in no particular order.
func (r *Registry) ChainIDs() []types.ChainID {
	r.chainsMutex.RLock()
	defer r.chainsMutex.RUnlock()

	ids := make([]types.ChainID, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}

// Healthy reports whether the chain has at least one live provider.
// Unknown chains are never healthy.
func (r *Registry) Healthy(chainID types.ChainID) bool {
	r.chainsMutex.RLock()
	chain, ok := r.chains[chainID]
	r.chainsMutex.RUnlock()

	if !ok {
		return false
	}

	if probe, ok := chain.(interface{ Healthy() bool }); ok {
		return probe.Healthy()
	}
	return true
}

// Close shuts down every chain service and clears the registry.
func (r *Registry) Close() {
	r.chainsMutex.Lock()
	defer r.chainsMutex.Unlock()

	for chainID, chain := range r.chains {
		if closer, ok := chain.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(r.chains, chainID)
	}
}
