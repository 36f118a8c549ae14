package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

// maxLocalCandidates caps how many local addresses are reported, matching
// original_source/shared/src/lib.rs::get_local_addrs's own cap.
const maxLocalCandidates = 10

// LocalCandidates enumerates this host's usable local unicast addresses,
// pairing each with listenPort to produce "host:port" strings suitable for
// ReportCandidates. Loopback, unspecified, link-local, multicast, and
// IPv6 unique-local (fc00::/7) addresses are excluded. Grounded on
// original_source/shared/src/lib.rs::get_local_addrs.
func LocalCandidates(listenPort int) ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("enumerate local addresses: %w", err)
	}

	var candidates []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || !isUsableCandidateAddr(ipNet.IP) {
			continue
		}
		candidates = append(candidates, net.JoinHostPort(ipNet.IP.String(), strconv.Itoa(listenPort)))
		if len(candidates) == maxLocalCandidates {
			break
		}
	}
	return candidates, nil
}

func isUsableCandidateAddr(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return false
	}
	if ip.To4() != nil {
		return true
	}
	v6 := ip.To16()
	return v6 != nil && v6[0]&0xfe != 0xfc
}

const (
	natStepWindow         = 5 * time.Second
	natPollInterval       = 100 * time.Millisecond
	recentHandshakeWindow = 2 * time.Minute
)

// NatTraverse incrementally tries each remaining peer's declared endpoint,
// then its reported candidates one at a time, giving WireGuard a window
// to complete a handshake before moving to the next address. Grounded on
// original_source/client/src/nat.rs::NatTraverse.
type NatTraverse struct {
	mgr           *wireguard.Manager
	allowedIPsFor func(publicKey string) []net.IPNet
	remaining     []meshnet.Peer
}

// NewNatTraverse seeds the traverser with every peer that has a declared
// endpoint or reported candidates to try.
func NewNatTraverse(mgr *wireguard.Manager, peers []meshnet.Peer, allowedIPsFor func(publicKey string) []net.IPNet) *NatTraverse {
	remaining := make([]meshnet.Peer, 0, len(peers))
	for _, p := range peers {
		if p.Endpoint != nil || len(p.Candidates) > 0 {
			remaining = append(remaining, p)
		}
	}
	return &NatTraverse{mgr: mgr, allowedIPsFor: allowedIPsFor, remaining: remaining}
}

// IsFinished reports whether every peer either connected or ran out of
// addresses to try.
func (n *NatTraverse) IsFinished() bool { return len(n.remaining) == 0 }

// Remaining reports how many peers are still being traversed.
func (n *NatTraverse) Remaining() int { return len(n.remaining) }

func (n *NatTraverse) refreshRemaining() error {
	dev, err := n.mgr.Get()
	if err != nil {
		return err
	}
	live := make(map[string]wireguard.LivePeerInfo, len(dev.Peers))
	for _, p := range dev.Peers {
		live[p.PublicKey] = p
	}

	kept := n.remaining[:0]
	for _, p := range n.remaining {
		if p.Endpoint == nil && len(p.Candidates) == 0 {
			continue
		}
		info, onDevice := live[p.PublicKey]
		if !onDevice {
			continue
		}
		if !info.LastHandshake.IsZero() && time.Since(info.LastHandshake) < recentHandshakeWindow {
			continue
		}
		kept = append(kept, p)
	}
	n.remaining = kept
	return nil
}

// Step tries one endpoint per remaining peer — the declared endpoint
// first, then candidates from the end of the reported list backwards — then
// polls for up to five seconds for a handshake to land before returning.
func (n *NatTraverse) Step(ctx context.Context) error {
	if err := n.refreshRemaining(); err != nil {
		return err
	}

	var diffs []meshnet.PeerDiff
	for i := range n.remaining {
		p := &n.remaining[i]

		var ep *meshnet.Endpoint
		if p.Endpoint != nil {
			ep = p.Endpoint
			p.Endpoint = nil
		} else if len(p.Candidates) > 0 {
			last := len(p.Candidates) - 1
			popped := p.Candidates[last]
			ep = &popped
			p.Candidates = p.Candidates[:last]
		}
		if ep == nil {
			continue
		}

		resolved, err := ep.Resolve(ctx)
		if err != nil {
			continue
		}
		diffs = append(diffs, meshnet.PeerDiff{PublicKey: p.PublicKey, Endpoint: resolved})
	}

	if len(diffs) > 0 {
		if err := n.mgr.ApplyDiffs(diffs, n.allowedIPsFor, func(string) string { return "" }); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(natStepWindow)
	for time.Now().Before(deadline) {
		if err := n.refreshRemaining(); err != nil {
			return err
		}
		if n.IsFinished() {
			break
		}
		time.Sleep(natPollInterval)
	}
	return nil
}
