package store

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustNet(t *testing.T, s string) net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("parse cidr %q: %v", s, err)
	}
	return *n
}

func TestCIDRStoreCreateTree(t *testing.T) {
	db := openTestDB(t)
	s := NewCIDRStore(db)

	root, err := s.Create("meshnet", mustNet(t, "10.80.0.0/15"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}

	admin, err := s.Create("admin", mustNet(t, "10.80.1.0/24"), &root.ID)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	if _, err := s.Create("developer", mustNet(t, "10.80.1.0/25"), &root.ID); err == nil {
		t.Fatal("expected overlap rejection")
	}

	if _, err := s.Create("misplaced", mustNet(t, "10.81.0.0/24"), &admin.ID); err == nil {
		t.Fatal("expected out-of-parent-range rejection")
	}

	children, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 cidrs, got %d", len(children))
	}
}

func TestCIDRStoreCreateUnderParentWithPeersRejected(t *testing.T) {
	db := openTestDB(t)
	cidrs := NewCIDRStore(db)
	peers := NewPeerStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/15"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if _, err := peers.CreatePeer(meshnet.Peer{Name: "server", IP: net.ParseIP("10.80.0.1"), PublicKey: "pk1"}, root); err != nil {
		t.Fatalf("create peer: %v", err)
	}

	if _, err := cidrs.Create("admin", mustNet(t, "10.80.1.0/24"), &root.ID); err == nil {
		t.Fatal("expected rejection of sub-cidr under a parent with peers")
	}
}

func TestCIDRStoreDeleteGuards(t *testing.T) {
	db := openTestDB(t)
	cidrs := NewCIDRStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/15"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	admin, err := cidrs.Create("admin", mustNet(t, "10.80.1.0/24"), &root.ID)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	if err := cidrs.Delete(root.ID); err == nil {
		t.Fatal("expected rejection of deleting a cidr with children")
	}
	if err := cidrs.Delete(admin.ID); err != nil {
		t.Fatalf("delete leaf cidr: %v", err)
	}
	if err := cidrs.Delete(root.ID); err != nil {
		t.Fatalf("delete now-leaf root: %v", err)
	}
}

func TestCIDRStoreDisableCascade(t *testing.T) {
	db := openTestDB(t)
	cidrs := NewCIDRStore(db)
	peers := NewPeerStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/15"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	p, err := peers.CreatePeer(meshnet.Peer{Name: "laptop", IP: net.ParseIP("10.80.0.5"), PublicKey: "pk1"}, root)
	if err != nil {
		t.Fatalf("create peer: %v", err)
	}

	if err := cidrs.SetDisabled(root.ID, true); err == nil {
		t.Fatal("expected rejection of disabling cidr with an enabled peer")
	}

	if err := peers.Disable(p.ID); err != nil {
		t.Fatalf("disable peer: %v", err)
	}
	if err := cidrs.SetDisabled(root.ID, true); err != nil {
		t.Fatalf("disable cidr after disabling its peer: %v", err)
	}

	got, err := cidrs.Get(root.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Disabled {
		t.Fatal("expected cidr to be disabled")
	}
}
