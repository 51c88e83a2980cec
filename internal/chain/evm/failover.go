package evm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

const (
	unhealthyCooldown  = 5 * time.Minute
	healthCheckTimeout = 5 * time.Second
)

type endpoint struct {
	url           string
	client        *ethclient.Client
	unhealthy     bool
	lastErrorTime time.Time
	mu            sync.Mutex
}

// endpointPool rotates over RPC endpoints, dialing lazily and parking
// failed endpoints for a cooldown before reconnecting.
type endpointPool struct {
	endpoints []*endpoint
	current   int
	mu        sync.Mutex
}

func newEndpointPool(urls []string) *endpointPool {
	p := &endpointPool{endpoints: make([]*endpoint, 0, len(urls))}
	for _, url := range urls {
		p.endpoints = append(p.endpoints, &endpoint{url: url})
	}
	return p
}

// client returns a connected client, trying endpoints round-robin from
// the last known-good one. All endpoints down is a transient condition:
// cooldowns expire and later calls retry.
func (p *endpointPool) client(ctx context.Context) (*ethclient.Client, string, error) {
	p.mu.Lock()
	start := p.current
	n := len(p.endpoints)
	p.mu.Unlock()

	var lastErr error
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		ep := p.endpoints[idx]

		client, err := ep.connect(ctx)
		if err != nil {
			if err != errCoolingDown {
				lastErr = err
			}
			continue
		}

		p.mu.Lock()
		p.current = idx
		p.mu.Unlock()
		return client, ep.url, nil
	}

	// lastErr is nil when every endpoint was parked in cooldown.
	if lastErr == nil {
		lastErr = errCoolingDown
	}
	return nil, "", errdefs.Wrap(errdefs.KindTransient, lastErr, "no healthy RPC endpoints available")
}

var errCoolingDown = errdefs.New(errdefs.KindTransient, "endpoint cooling down")

func (ep *endpoint) connect(ctx context.Context) (*ethclient.Client, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.unhealthy && time.Since(ep.lastErrorTime) < unhealthyCooldown {
		return nil, errCoolingDown
	}
	if ep.client != nil && !ep.unhealthy {
		return ep.client, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, ep.url)
	if err == nil {
		// Verify the endpoint actually answers before handing it out.
		if _, chainErr := client.ChainID(dialCtx); chainErr != nil {
			client.Close()
			err = chainErr
		}
	}
	if err != nil {
		ep.unhealthy = true
		ep.lastErrorTime = time.Now()
		slog.Warn("RPC endpoint unavailable", "url", ep.url, "error", err)
		return nil, errdefs.Wrap(errdefs.KindTransient, err, "dial %s", ep.url)
	}

	if ep.client != nil {
		ep.client.Close()
	}
	ep.client = client
	ep.unhealthy = false
	slog.Info("Connected to RPC endpoint", "url", ep.url)
	return client, nil
}

// markUnhealthy parks an endpoint after a failed call so the next fetch
// rotates away from it.
func (p *endpointPool) markUnhealthy(url string, err error) {
	for _, ep := range p.endpoints {
		if ep.url != url {
			continue
		}
		ep.mu.Lock()
		ep.unhealthy = true
		ep.lastErrorTime = time.Now()
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
		ep.mu.Unlock()

		slog.Warn("Marked RPC endpoint as unhealthy",
			"url", url, "error", err, "retry_after", unhealthyCooldown)
		return
	}
}

// close releases every dialed connection.
func (p *endpointPool) close() {
	for _, ep := range p.endpoints {
		ep.mu.Lock()
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
		ep.mu.Unlock()
	}
}

// Close releases the adapter's RPC connections.
func (a *Adapter) Close() {
	if a.pool != nil {
		a.pool.close()
	}
}
