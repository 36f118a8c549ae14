package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/store"
)

func TestInviteSweeperSweepsExpired(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cidrs := store.NewCIDRStore(db)
	peers := store.NewPeerStore(db)

	root, err := cidrs.Create("meshnet", mustNet(t, "10.80.0.0/24"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	expired := time.Now().Add(-time.Hour)
	if _, err := peers.CreatePeer(meshnet.Peer{
		Name: "stale", IP: net.ParseIP("10.80.0.5"), PublicKey: "placeholder",
		InviteExpires: &expired,
	}, root); err != nil {
		t.Fatalf("create stale invite: %v", err)
	}

	sweeper := NewInviteSweeper(peers, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sweeper.Run(ctx)

	remaining, err := peers.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected expired invite swept, got %d peers remaining", len(remaining))
	}
}

func mustNet(t *testing.T, s string) net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("parse cidr %q: %v", s, err)
	}
	return *n
}
