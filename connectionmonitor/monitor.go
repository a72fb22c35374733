// Package connectionmonitor keeps RPC provider connections alive. Each
// monitor owns one endpoint: it pings on an interval and, once a ping fails,
// re-dials under exponential backoff until the endpoint answers again, so a
// degraded provider can rejoin the fallback rotation.
package connectionmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// pingInterval is how often a healthy endpoint is probed.
	pingInterval = 30 * time.Second

	// redialInitialWait and redialMaxWait bound the backoff between redial
	// attempts against an unhealthy endpoint.
	redialInitialWait = 2 * time.Second
	redialMaxWait     = 2 * time.Minute
)

// Endpoint is one monitored RPC connection.
type Endpoint interface {
	// Ping checks that the connection still answers.
	Ping(ctx context.Context) error

	// Redial tears the connection down and dials the endpoint again.
	Redial(ctx context.Context) error
}

// Monitor pings one endpoint and re-dials it after failures.
//
// Fields:
// - logger: the logger instance for monitoring events.
// - endpoint: the connection under watch.
// - label: the endpoint name used in logs.
type Monitor struct {
	logger   *logrus.Logger
	endpoint Endpoint
	label    string

	interval   time.Duration
	redialWait time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor for one endpoint.
//
// Parameters:
// - endpoint: the connection to monitor.
// - label: the endpoint name used in logs.
// - logger: the logger instance for monitoring events.
//
// Returns:
// - *Monitor: the monitor, not yet started.
func New(endpoint Endpoint, label string, logger *logrus.Logger) *Monitor {
	return &Monitor{
		logger:     logger,
		endpoint:   endpoint,
		label:      label,
		interval:   pingInterval,
		redialWait: redialInitialWait,
	}
}

// Start launches the ping loop.
//
// Parameters:
// - ctx: the context bounding the loop's lifetime.
//
// Returns:
// - error: an error when the monitor is already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return errors.Errorf("connection monitor is already running for %s", m.label)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(runCtx)
	return nil
}

// Stop ends the ping loop and waits for it to exit. Safe to call on a
// monitor that never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.WithField("endpoint", m.label).Debug("Connection monitoring stopped")
			return

		case <-ticker.C:
			err := m.endpoint.Ping(ctx)
			if err == nil {
				continue
			}
			m.logger.WithFields(logrus.Fields{
				"endpoint": m.label,
				"error":    err,
			}).Warn("Endpoint stopped answering, redialing")

			m.redial(ctx)
		}
	}
}

// redial retries the dial under exponential backoff until the endpoint
// answers or the monitor stops. The regular ping cadence resumes afterwards
// and confirms the connection stays up.
func (m *Monitor) redial(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.redialWait
	policy.MaxInterval = redialMaxWait
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := m.endpoint.Redial(ctx); err != nil {
			m.logger.WithFields(logrus.Fields{
				"endpoint": m.label,
				"attempt":  attempt,
				"error":    err,
			}).Error("Redial failed")
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"endpoint": m.label,
		"attempt":  attempt,
	}).Info("Endpoint reconnected")
}
