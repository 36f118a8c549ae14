package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

var reconcileIterations = metrics.NewCounter("meshnet_reconcile_iterations_total")

// Reconciler fetches authoritative state from the coordinator and brings
// the local WireGuard interface, hosts file, and pinned cache in line
// with it. Grounded on the teacher's internal/reconciler.Reconciler
// (immediate-run-then-ticker loop, force-reconcile channel) generalized
// from its three-system (caddy/wireguard/firewall) drift correction down
// to this system's single WireGuard interface, and on
// original_source/client/src/main.rs::fetch for the diff itself.
type Reconciler struct {
	api         *APIClient
	mgr         *wireguard.Manager
	cache       *Cache
	hosts       *HostsFile
	hostsPath   string
	selfPubKey  string
	listenPort  int
	interval    time.Duration

	mu        sync.Mutex
	lastPeers []meshnet.Peer
	forceCh   chan struct{}
	logger    *slog.Logger
}

// NewReconciler builds a Reconciler. hostsPath may be empty, in which
// case the hosts file is never touched. listenPort is paired with this
// host's local addresses when reporting NAT traversal candidates.
func NewReconciler(api *APIClient, mgr *wireguard.Manager, cache *Cache, hosts *HostsFile, hostsPath, selfPubKey string, listenPort int, interval time.Duration) *Reconciler {
	return &Reconciler{
		api:        api,
		mgr:        mgr,
		cache:      cache,
		hosts:      hosts,
		hostsPath:  hostsPath,
		selfPubKey: selfPubKey,
		listenPort: listenPort,
		interval:   interval,
		forceCh:    make(chan struct{}, 1),
		logger:     slog.Default(),
	}
}

// Run performs an immediate fetch cycle, then continues on a timer until
// ctx is canceled. A send on ForceReconcile triggers an out-of-band cycle
// and resets the ticker. A pinning violation is fatal (§7): the loop logs
// it and stops rather than retrying.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("running initial reconciliation")
	if !r.runCycle(ctx) {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciliation loop stopped")
			return
		case <-ticker.C:
			if !r.runCycle(ctx) {
				return
			}
		case <-r.forceCh:
			r.logger.Info("forced reconciliation triggered")
			if !r.runCycle(ctx) {
				return
			}
			ticker.Reset(r.interval)
		}
	}
}

// runCycle runs one fetch cycle, logging any error. It returns false only
// when the loop driving it must stop for a pinning violation; any other
// error is logged and the loop keeps going.
func (r *Reconciler) runCycle(ctx context.Context) bool {
	reconcileIterations.Inc()
	err := r.FetchCycle(ctx)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrPinningViolation) {
		r.logger.Error("pinning violation detected, aborting reconciliation", "error", err)
		return false
	}
	r.logger.Error("reconciliation failed", "error", err)
	return true
}

// FetchCycle runs one full member fetch cycle: reconcile the tunnel
// against authoritative state, report this peer's local candidate
// addresses, then drive NAT traversal against whatever peers didn't
// handshake immediately. Grounded on
// original_source/client-core/src/interface.rs::fetch, which chains the
// same reconcile → report-candidates → NatTraverse sequence; the strict
// fetch → diff → apply → report candidates → traverse ordering this
// preserves is §5's ordering guarantee for a single client's fetch cycle.
func (r *Reconciler) FetchCycle(ctx context.Context) error {
	if err := r.ReconcileOnce(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	peers := r.lastPeers
	r.mu.Unlock()

	candidates, err := LocalCandidates(r.listenPort)
	if err != nil {
		r.logger.Warn("failed to enumerate local candidate addresses", "error", err)
	} else if err := r.api.ReportCandidates(ctx, candidates); err != nil {
		r.logger.Warn("failed to report candidates", "error", err)
	}

	declared := make([]meshnet.Peer, 0, len(peers))
	for _, p := range peers {
		if p.IsDisabled || p.PublicKey == r.selfPubKey {
			continue
		}
		declared = append(declared, p)
	}

	traverse := NewNatTraverse(r.mgr, declared, allowedIPsIndex(declared))
	for !traverse.IsFinished() {
		if err := traverse.Step(ctx); err != nil {
			return fmt.Errorf("nat traversal step: %w", err)
		}
	}
	return nil
}

// ForceReconcile requests an out-of-band reconciliation, coalescing with
// any already-pending request.
func (r *Reconciler) ForceReconcile() {
	select {
	case r.forceCh <- struct{}{}:
	default:
	}
}

// ReconcileOnce fetches state, diffs it against the live interface, and
// applies whatever changed.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.api.State(ctx)
	if err != nil {
		return fmt.Errorf("fetch state: %w", err)
	}
	r.lastPeers = state.Peers

	if err := r.cache.AddPeers(state.Peers); err != nil {
		return fmt.Errorf("pin peers: %w", err)
	}
	r.cache.SetCIDRs(state.CIDRs)

	allowedIPsFor := allowedIPsIndex(state.Peers)

	device, err := r.mgr.Get()
	if err != nil {
		return fmt.Errorf("get live device: %w", err)
	}
	live := make(map[string]wireguard.LivePeerInfo, len(device.Peers))
	for _, p := range device.Peers {
		live[p.PublicKey] = p
	}

	var diffs []meshnet.PeerDiff
	var added, modified, removed int

	for _, p := range state.Peers {
		if p.IsDisabled || p.PublicKey == r.selfPubKey {
			continue
		}
		existing, onDevice := live[p.PublicKey]
		if !onDevice {
			diffs = append(diffs, meshnet.PeerDiff{
				PublicKey:     p.PublicKey,
				Endpoint:      endpointString(p.Endpoint),
				KeepaliveSecs: p.PersistentKeepaliveSecs,
			})
			added++
			continue
		}
		resolved := ""
		if p.Endpoint != nil {
			if s, err := p.Endpoint.Resolve(ctx); err == nil {
				resolved = s
			}
		}
		if diff := p.Diff(meshnet.LivePeer{PublicKey: existing.PublicKey, Endpoint: existing.Endpoint, KeepaliveSecs: existing.PersistentKeepaliveSecs}, resolved); diff != nil {
			diffs = append(diffs, *diff)
			modified++
		}
	}

	declaredKeys := make(map[string]bool, len(state.Peers))
	for _, p := range state.Peers {
		declaredKeys[p.PublicKey] = true
	}
	for pubkey := range live {
		if !declaredKeys[pubkey] && pubkey != r.selfPubKey {
			diffs = append(diffs, meshnet.PeerDiff{PublicKey: pubkey, Remove: true})
			removed++
		}
	}

	if len(diffs) > 0 {
		if err := r.mgr.ApplyDiffs(diffs, allowedIPsFor, func(string) string { return "" }); err != nil {
			return fmt.Errorf("apply peer diffs: %w", err)
		}
		r.logger.Info("reconciled peers", "added", added, "modified", modified, "removed", removed)

		if r.hostsPath != "" && r.hosts != nil {
			if err := r.hosts.Write(r.hostsPath, state.Peers, r.mgr.Iface()); err != nil {
				r.logger.Error("failed to update hosts file", "error", err)
			}
		}
	} else {
		r.logger.Debug("peers already up to date")
	}

	if err := r.cache.Write(); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// allowedIPsIndex builds a lookup from public key to the peer's single
// host route — every peer is reachable only at its own assigned address.
func allowedIPsIndex(peers []meshnet.Peer) func(string) []net.IPNet {
	byKey := make(map[string]net.IPNet, len(peers))
	for _, p := range peers {
		if p.IP == nil {
			continue
		}
		bits := 32
		ip := p.IP.To4()
		if ip == nil {
			ip = p.IP.To16()
			bits = 128
		}
		byKey[p.PublicKey] = net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
	}
	return func(publicKey string) []net.IPNet {
		if n, ok := byKey[publicKey]; ok {
			return []net.IPNet{n}
		}
		return nil
	}
}

func endpointString(e *meshnet.Endpoint) string {
	if e == nil {
		return ""
	}
	return e.String()
}
