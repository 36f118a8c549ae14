package server

import (
	"context"
	"testing"
	"time"

	"github.com/innernet-go/meshnet/internal/wireguard"
)

func TestEndpointObserverPoll(t *testing.T) {
	fake := wireguard.NewFakeDriver("wg0")
	fake.Peers["pk1"] = wireguard.LivePeerInfo{PublicKey: "pk1", Endpoint: "198.51.100.1:51820"}
	mgr := wireguard.NewManager("wg0", fake)

	obs := NewEndpointObserver(mgr, time.Hour)
	obs.poll()

	addr, ok := obs.Get("pk1")
	if !ok || addr != "198.51.100.1:51820" {
		t.Fatalf("expected observed endpoint, got %q ok=%v", addr, ok)
	}

	if _, ok := obs.Get("unknown"); ok {
		t.Fatal("expected no endpoint for unknown peer")
	}
}

func TestEndpointObserverRunStopsOnCancel(t *testing.T) {
	fake := wireguard.NewFakeDriver("wg0")
	mgr := wireguard.NewManager("wg0", fake)
	obs := NewEndpointObserver(mgr, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		obs.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer did not stop after context cancellation")
	}
}

func TestEndpointObserverSnapshotIsACopy(t *testing.T) {
	fake := wireguard.NewFakeDriver("wg0")
	fake.Peers["pk1"] = wireguard.LivePeerInfo{PublicKey: "pk1", Endpoint: "198.51.100.1:51820"}
	mgr := wireguard.NewManager("wg0", fake)

	obs := NewEndpointObserver(mgr, time.Hour)
	obs.poll()

	snap := obs.Snapshot()
	snap["pk1"] = "tampered"

	addr, _ := obs.Get("pk1")
	if addr != "198.51.100.1:51820" {
		t.Fatalf("snapshot mutation leaked into observer state: %q", addr)
	}
}
