package client

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

func basePeer() meshnet.Peer {
	return meshnet.Peer{
		ID:         1,
		Name:       "laptop",
		IP:         net.ParseIP("10.0.0.1"),
		CIDRID:     1,
		PublicKey:  "abc",
		IsRedeemed: true,
	}
}

func TestCacheSanity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	store, err := OpenCache(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.AddPeers([]meshnet.Peer{basePeer()}); err != nil {
		t.Fatalf("add peers: %v", err)
	}
	store.SetCIDRs([]meshnet.CIDR{{ID: 1, Name: "cidr", Network: net.IPNet{IP: net.ParseIP("10.0.0.0").To4(), Mask: net.CIDRMask(24, 32)}}})
	if err := store.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	reopened, err := OpenCache(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(reopened.Peers()) != 1 || reopened.Peers()[0].Name != "laptop" {
		t.Fatalf("expected one peer named laptop, got %+v", reopened.Peers())
	}
	if len(reopened.CIDRs()) != 1 {
		t.Fatalf("expected one cidr, got %+v", reopened.CIDRs())
	}
}

func TestCachePinningRejectsKeyChange(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenCache(filepath.Join(dir, "cache.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.AddPeers([]meshnet.Peer{basePeer()}); err != nil {
		t.Fatalf("add peers: %v", err)
	}

	modified := basePeer()
	modified.PublicKey = "different-key"
	if err := store.AddPeers([]meshnet.Peer{modified}); err == nil {
		t.Fatalf("expected pinning violation, got nil")
	}
}

func TestCachePersistsUnmodifiedPeer(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenCache(filepath.Join(dir, "cache.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.AddPeers([]meshnet.Peer{basePeer()}); err != nil {
		t.Fatalf("add peers: %v", err)
	}
	if err := store.AddPeers(nil); err != nil {
		t.Fatalf("add empty: %v", err)
	}
	if len(store.Peers()) != 1 {
		t.Fatalf("expected peer to survive an empty merge, got %+v", store.Peers())
	}
}

func TestCacheWriteModeIsPrivate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	store, err := OpenCache(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}
}
