package store

import (
	"net"
	"testing"
	"time"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

func TestPeerStoreCreateValidatesPlacement(t *testing.T) {
	db := openTestDB(t)
	cidrs := NewCIDRStore(db)
	peers := NewPeerStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/24"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}

	if _, err := peers.CreatePeer(meshnet.Peer{Name: "Bad_Name", IP: net.ParseIP("10.80.0.5"), PublicKey: "pk1"}, root); err == nil {
		t.Fatal("expected rejection of invalid peer name")
	}
	if _, err := peers.CreatePeer(meshnet.Peer{Name: "outside", IP: net.ParseIP("10.80.1.5"), PublicKey: "pk2"}, root); err == nil {
		t.Fatal("expected rejection of peer ip outside cidr")
	}
	if _, err := peers.CreatePeer(meshnet.Peer{Name: "broadcast", IP: net.ParseIP("10.80.0.255"), PublicKey: "pk3"}, root); err == nil {
		t.Fatal("expected rejection of broadcast address")
	}

	p, err := peers.CreatePeer(meshnet.Peer{Name: "laptop", IP: net.ParseIP("10.80.0.5"), PublicKey: "pk4"}, root)
	if err != nil {
		t.Fatalf("create valid peer: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected assigned id")
	}
}

func TestPeerStoreRedeemOneShot(t *testing.T) {
	db := openTestDB(t)
	cidrs := NewCIDRStore(db)
	peers := NewPeerStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/24"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	invite := time.Now().Add(time.Hour)
	p, err := peers.CreatePeer(meshnet.Peer{
		Name: "laptop", IP: net.ParseIP("10.80.0.5"), PublicKey: "placeholder",
		InviteExpires: &invite,
	}, root)
	if err != nil {
		t.Fatalf("create invite peer: %v", err)
	}

	if err := peers.Redeem(p.ID, "realkey"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if err := peers.Redeem(p.ID, "otherkey"); err == nil {
		t.Fatal("expected second redemption to fail")
	}

	got, err := peers.Get(p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsRedeemed || got.PublicKey != "realkey" {
		t.Fatalf("unexpected peer after redeem: %+v", got)
	}
}

func TestPeerStoreRedeemExpiredInvite(t *testing.T) {
	db := openTestDB(t)
	cidrs := NewCIDRStore(db)
	peers := NewPeerStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/24"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	expired := time.Now().Add(-time.Hour)
	p, err := peers.CreatePeer(meshnet.Peer{
		Name: "laptop", IP: net.ParseIP("10.80.0.5"), PublicKey: "placeholder",
		InviteExpires: &expired,
	}, root)
	if err != nil {
		t.Fatalf("create invite peer: %v", err)
	}

	if err := peers.Redeem(p.ID, "realkey"); err == nil {
		t.Fatal("expected redemption of expired invite to fail")
	}
}

func TestPeerStoreDeleteExpiredInvites(t *testing.T) {
	db := openTestDB(t)
	cidrs := NewCIDRStore(db)
	peers := NewPeerStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/24"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	expired := time.Now().Add(-time.Hour)
	if _, err := peers.CreatePeer(meshnet.Peer{
		Name: "stale", IP: net.ParseIP("10.80.0.5"), PublicKey: "placeholder1",
		InviteExpires: &expired,
	}, root); err != nil {
		t.Fatalf("create stale invite: %v", err)
	}
	if _, err := peers.CreatePeer(meshnet.Peer{Name: "active", IP: net.ParseIP("10.80.0.6"), PublicKey: "pk2"}, root); err != nil {
		t.Fatalf("create active peer: %v", err)
	}

	n, err := peers.DeleteExpiredInvites()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept invite, got %d", n)
	}

	remaining, err := peers.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Name != "active" {
		t.Fatalf("unexpected remaining peers: %+v", remaining)
	}
}

func TestPeerStoreVisibility(t *testing.T) {
	db := openTestDB(t)
	cidrs := NewCIDRStore(db)
	peers := NewPeerStore(db)
	assocs := NewAssociationStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/15"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	infra, err := cidrs.Create("infra", mustNet(t, "10.80.0.0/24"), &root.ID)
	if err != nil {
		t.Fatalf("create infra: %v", err)
	}
	admin, err := cidrs.Create("admin", mustNet(t, "10.80.1.0/24"), &root.ID)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	developer, err := cidrs.Create("developer", mustNet(t, "10.80.64.0/24"), &root.ID)
	if err != nil {
		t.Fatalf("create developer: %v", err)
	}

	server, err := peers.CreatePeer(meshnet.Peer{Name: "server", IP: net.ParseIP("10.80.0.1"), PublicKey: "server-pk", IsRedeemed: true}, infra)
	if err != nil {
		t.Fatalf("create server peer: %v", err)
	}
	adminPeer, err := peers.CreatePeer(meshnet.Peer{Name: "admin-laptop", IP: net.ParseIP("10.80.1.5"), PublicKey: "admin-pk", IsRedeemed: true}, admin)
	if err != nil {
		t.Fatalf("create admin peer: %v", err)
	}
	devPeer, err := peers.CreatePeer(meshnet.Peer{Name: "dev-laptop", IP: net.ParseIP("10.80.64.5"), PublicKey: "dev-pk", IsRedeemed: true}, developer)
	if err != nil {
		t.Fatalf("create dev peer: %v", err)
	}

	visibleFromDev, err := peers.VisiblePeers(developer.ID, infra.ID)
	if err != nil {
		t.Fatalf("visibility from developer: %v", err)
	}
	names := map[string]bool{}
	for _, p := range visibleFromDev {
		names[p.Name] = true
	}
	if !names["server"] || !names["dev-laptop"] || names["admin-laptop"] {
		t.Fatalf("unexpected visibility set before association: %+v", names)
	}

	if _, err := assocs.Create(admin.ID, developer.ID); err != nil {
		t.Fatalf("create association: %v", err)
	}

	visibleFromDev, err = peers.VisiblePeers(developer.ID, infra.ID)
	if err != nil {
		t.Fatalf("visibility from developer after association: %v", err)
	}
	names = map[string]bool{}
	for _, p := range visibleFromDev {
		names[p.Name] = true
	}
	if !names["admin-laptop"] {
		t.Fatalf("expected admin-laptop visible after association: %+v", names)
	}

	_ = server
	_ = adminPeer
	_ = devPeer
}
