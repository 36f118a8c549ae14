package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/store"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

// SelfReconciler keeps the coordinator's own WireGuard interface in line
// with the full peer table. Unlike the member-side reconciler
// (internal/client.Reconciler), it installs every redeemed, non-disabled
// peer rather than a visibility-filtered subset: the
// coordinator must remain reachable by any peer regardless of what that
// peer is authorized to see. Grounded on
// original_source/server/src/main.rs::serve, which lists every peer from
// the database and applies the full set to the interface at startup.
type SelfReconciler struct {
	peers      *store.PeerStore
	mgr        *wireguard.Manager
	selfPubKey string
	interval   time.Duration
}

func NewSelfReconciler(peers *store.PeerStore, mgr *wireguard.Manager, selfPubKey string, interval time.Duration) *SelfReconciler {
	return &SelfReconciler{peers: peers, mgr: mgr, selfPubKey: selfPubKey, interval: interval}
}

// Run performs an immediate reconciliation, then continues on a timer
// until ctx is cancelled. Call it in its own goroutine.
func (r *SelfReconciler) Run(ctx context.Context) {
	if err := r.ReconcileOnce(ctx); err != nil {
		slog.Error("self reconciler: initial reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				slog.Error("self reconciler: reconciliation failed", "error", err)
			}
		}
	}
}

// ReconcileOnce lists the full peer table and diffs it against the live
// device, adding newly created peers, updating changed endpoints, and
// removing disabled or deleted ones.
func (r *SelfReconciler) ReconcileOnce(ctx context.Context) error {
	all, err := r.peers.List()
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}

	device, err := r.mgr.Get()
	if err != nil {
		return fmt.Errorf("get live device: %w", err)
	}
	live := make(map[string]wireguard.LivePeerInfo, len(device.Peers))
	for _, p := range device.Peers {
		live[p.PublicKey] = p
	}

	allowedIPsFor := selfAllowedIPsIndex(all)

	var diffs []meshnet.PeerDiff
	declared := make(map[string]bool, len(all))
	for _, p := range all {
		if p.PublicKey == r.selfPubKey || !p.IsRedeemed {
			continue
		}
		if p.IsDisabled {
			continue
		}
		declared[p.PublicKey] = true

		resolved := ""
		if p.Endpoint != nil {
			if s, err := p.Endpoint.Resolve(ctx); err == nil {
				resolved = s
			}
		}

		existing, onDevice := live[p.PublicKey]
		if !onDevice {
			diffs = append(diffs, meshnet.PeerDiff{
				PublicKey:     p.PublicKey,
				Endpoint:      resolved,
				KeepaliveSecs: p.PersistentKeepaliveSecs,
			})
			continue
		}
		if diff := p.Diff(meshnet.LivePeer{PublicKey: existing.PublicKey, Endpoint: existing.Endpoint}, resolved); diff != nil {
			diffs = append(diffs, *diff)
		}
	}

	for pubkey := range live {
		if pubkey != r.selfPubKey && !declared[pubkey] {
			diffs = append(diffs, meshnet.PeerDiff{PublicKey: pubkey, Remove: true})
		}
	}

	if len(diffs) == 0 {
		return nil
	}
	if err := r.mgr.ApplyDiffs(diffs, allowedIPsFor, func(string) string { return "" }); err != nil {
		return fmt.Errorf("apply peer diffs: %w", err)
	}
	slog.Info("self reconciler: applied peer diffs", "count", len(diffs))
	return nil
}

func selfAllowedIPsIndex(peers []meshnet.Peer) func(string) []net.IPNet {
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
