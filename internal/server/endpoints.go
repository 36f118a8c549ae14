// Package server holds the coordinator's background tasks: the endpoint
// observer, the invite sweeper and the self-reconciler.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/innernet-go/meshnet/internal/wireguard"
)

// EndpointObserver polls the tunnel driver for the transport address it
// has most recently observed each peer communicating from, and serves
// that map to the API layer's endpoint-injection step (§4.8). Grounded
// on original_source/server/src/endpoints.rs (RWMutex-guarded map,
// poll-loop-with-cooperative-shutdown shape), rendered with
// context.Context cancellation instead of a stop channel.
type EndpointObserver struct {
	mgr      *wireguard.Manager
	interval time.Duration

	mu        sync.RWMutex
	endpoints map[string]string // public key -> observed transport address
}

func NewEndpointObserver(mgr *wireguard.Manager, interval time.Duration) *EndpointObserver {
	return &EndpointObserver{
		mgr:       mgr,
		interval:  interval,
		endpoints: make(map[string]string),
	}
}

// Run polls until ctx is cancelled. Call it in its own goroutine.
func (o *EndpointObserver) Run(ctx context.Context) {
	o.poll()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll()
		}
	}
}

func (o *EndpointObserver) poll() {
	dev, err := o.mgr.Get()
	if err != nil {
		slog.Warn("endpoint observer: get device failed", "error", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range dev.Peers {
		if p.Endpoint != "" {
			o.endpoints[p.PublicKey] = p.Endpoint
		}
	}
}

// Get returns the most recently observed endpoint for publicKey, if any.
func (o *EndpointObserver) Get(publicKey string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	addr, ok := o.endpoints[publicKey]
	return addr, ok
}

// Snapshot returns a copy of the full observed-endpoint map, for the API
// layer's endpoint-injection pass over a whole peer list.
func (o *EndpointObserver) Snapshot() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]string, len(o.endpoints))
	for k, v := range o.endpoints {
		out[k] = v
	}
	return out
}
