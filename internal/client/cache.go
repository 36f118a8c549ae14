package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

// ErrPinningViolation marks a peer arriving with a known IP but a changed
// public key — a fatal security event per the pinning invariant, not an
// ordinary reconcile failure. Callers driving a reconcile loop must stop
// on this error rather than log and continue.
var ErrPinningViolation = errors.New("pinning violation")

// cacheContents is the on-disk shape of the pinned cache file.
type cacheContents struct {
	Version int            `json:"version"`
	Peers   []meshnet.Peer `json:"peers"`
	CIDRs   []meshnet.CIDR `json:"cidrs"`
}

// Cache is the client's local, pinned record of the peers and CIDRs last
// fetched from the coordinator. Grounded on
// original_source/client/src/data_store.rs::DataStore, kept as a plain
// JSON file rather than a database since it holds one interface's worth of
// state and the teacher's own config layer already favors flat files for
// per-interface state.
type Cache struct {
	path     string
	contents cacheContents
}

// OpenCache reads path if it exists, or starts from an empty cache.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{path: path, contents: cacheContents{Version: 1}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.contents); err != nil {
		return nil, fmt.Errorf("parse cache %s: %w", path, err)
	}
	return c, nil
}

// Peers returns the cached peer set.
func (c *Cache) Peers() []meshnet.Peer { return c.contents.Peers }

// CIDRs returns the cached CIDR set.
func (c *Cache) CIDRs() []meshnet.CIDR { return c.contents.CIDRs }

// SetCIDRs replaces the cached CIDR set outright — CIDRs carry no pinning
// invariant, unlike peers.
func (c *Cache) SetCIDRs(cidrs []meshnet.CIDR) { c.contents.CIDRs = cidrs }

// AddPeers merges newPeers into the cache, pinning each by (IP, PublicKey):
// an existing cached peer may be updated in place as long as its IP and
// public key both stay the same. A peer arriving with the same IP as a
// cached peer but a different public key is rejected outright — the
// coordinator is not trusted to reassign an IP to a different identity
// once the client has observed it.
func (c *Cache) AddPeers(newPeers []meshnet.Peer) error {
	for _, np := range newPeers {
		found := false
		for i, existing := range c.contents.Peers {
			if !existing.IP.Equal(np.IP) {
				continue
			}
			if existing.PublicKey != np.PublicKey {
				return fmt.Errorf("%w: peer at %s changed public key from %q to %q",
					ErrPinningViolation, np.IP, existing.PublicKey, np.PublicKey)
			}
			c.contents.Peers[i] = np
			found = true
			break
		}
		if !found {
			c.contents.Peers = append(c.contents.Peers, np)
		}
	}
	return nil
}

// Write persists the cache atomically (temp file in the same directory,
// then rename) with mode 0600.
func (c *Cache) Write() error {
	data, err := json.MarshalIndent(c.contents, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename cache into place: %w", err)
	}
	return nil
}
