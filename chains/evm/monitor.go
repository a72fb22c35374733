package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/Kuzirashi/nxtp/connectionmonitor"
)

// providerConnection adapts one provider to the connection monitor. Health
// flips feed the fallback ordering in withClient and the Healthy report the
// auction evaluator consults.
type providerConnection struct {
	provider *provider
}

// initMonitors starts one connection monitor per configured provider.
//
// Parameters:
// - ctx: the context for managing the monitors' lifetime.
//
// Returns:
// - error: an error if any monitor fails to start.
func (c *Chain) initMonitors(ctx context.Context) error {
	c.monitorsMutex.Lock()
	defer c.monitorsMutex.Unlock()

	for _, p := range c.providers {
		monitor := connectionmonitor.New(
			&providerConnection{provider: p},
			p.url,
			c.logger,
		)
		if err := monitor.Start(ctx); err != nil {
			return err
		}
		c.monitors = append(c.monitors, monitor)
	}
	return nil
}

// Ping checks the provider by retrieving the current block number and
// records the outcome in the provider's health state.
//
// Parameters:
// - ctx: the context for managing the connection check.
//
// Returns:
// - error: an error if the provider has no client or the check fails.
func (pc *providerConnection) Ping(ctx context.Context) error {
	client := pc.provider.getClient()
	if client == nil {
		return errors.New("client not initialized")
	}

	if _, err := client.BlockNumber(ctx); err != nil {
		pc.provider.setHealthy(false)
		return err
	}

	pc.provider.setHealthy(true)
	return nil
}

// Redial re-dials the provider endpoint and marks it healthy on success.
//
// Parameters:
// - ctx: the context for managing the reconnection.
//
// Returns:
// - error: an error if dialing fails.
func (pc *providerConnection) Redial(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, pc.provider.url)
	if err != nil {
		return err
	}

	pc.provider.setClient(client)
	pc.provider.setHealthy(true)
	return nil
}
