package api

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/server"
	"github.com/innernet-go/meshnet/internal/store"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

const testServerKey = "server-pubkey-AAAA"

func mustNet(t *testing.T, s string) net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("parse cidr %q: %v", s, err)
	}
	return *n
}

// newTestServer wires up a full in-memory stack and seeds a root/infra CIDR
// pair with the coordinator's own peer row living in infra, at 10.0.0.1 —
// the source address doRequest sets on every request, so it doubles as our
// admin caller.
func newTestServer(t *testing.T) (*Server, *store.CIDRStore, *store.PeerStore, *store.AssociationStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cidrs := store.NewCIDRStore(db)
	peers := store.NewPeerStore(db)
	assocs := store.NewAssociationStore(db)

	root, err := cidrs.Create("root", mustNet(t, "10.0.0.0/8"), nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	infra, err := cidrs.Create("infra", mustNet(t, "10.0.0.0/24"), &root.ID)
	if err != nil {
		t.Fatalf("create infra: %v", err)
	}

	_, err = peers.CreatePeer(meshnet.Peer{
		Name:       "coordinator",
		IP:         net.ParseIP("10.0.0.1"),
		PublicKey:  testServerKey,
		IsAdmin:    true,
		IsRedeemed: true,
	}, infra)
	if err != nil {
		t.Fatalf("create coordinator peer: %v", err)
	}

	driver := wireguard.NewFakeDriver("wg0")
	mgr := wireguard.NewManager("wg0", driver)
	observer := server.NewEndpointObserver(mgr, time.Hour)

	s, err := NewServer(db, cidrs, peers, assocs, mgr, observer, testServerKey)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, cidrs, peers, assocs
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set(networkPubkeyHeader, testServerKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterRejectsMissingNetworkKey(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRouterAdminCreatesCIDRAndPeer(t *testing.T) {
	s, cidrs, peers, _ := newTestServer(t)
	h := s.Handler()

	root, err := cidrs.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	rec := doRequest(t, h, http.MethodPost, "/v1/admin/cidrs", createCIDRRequest{
		Name:    "engineering",
		Network: "10.1.0.0/24",
		Parent:  &root.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating cidr, got %d: %s", rec.Code, rec.Body.String())
	}
	var createdCIDR meshnet.CIDR
	if err := json.Unmarshal(rec.Body.Bytes(), &createdCIDR); err != nil {
		t.Fatalf("decode cidr: %v", err)
	}

	rec = doRequest(t, h, http.MethodPost, "/v1/admin/peers", createPeerRequest{
		Name:   "alice",
		CIDRID: createdCIDR.ID,
		IP:     "10.1.0.2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating peer, got %d: %s", rec.Code, rec.Body.String())
	}
	var createdPeer meshnet.Peer
	if err := json.Unmarshal(rec.Body.Bytes(), &createdPeer); err != nil {
		t.Fatalf("decode peer: %v", err)
	}
	if createdPeer.Name != "alice" {
		t.Fatalf("expected alice, got %q", createdPeer.Name)
	}

	got, err := peers.Get(createdPeer.ID)
	if err != nil {
		t.Fatalf("get peer: %v", err)
	}
	if got.IsRedeemed {
		t.Fatalf("freshly invited peer should not be redeemed")
	}
}

func TestRouterStateServesRedeemedCaller(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodGet, "/v1/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp stateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode state: %v", err)
	}
}

func TestRouterNonAdminRejectedFromAdminRoutes(t *testing.T) {
	s, cidrs, peers, _ := newTestServer(t)
	h := s.Handler()

	root, err := cidrs.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	other, err := cidrs.Create("other", mustNet(t, "10.2.0.0/24"), &root.ID)
	if err != nil {
		t.Fatalf("create cidr: %v", err)
	}
	_, err = peers.CreatePeer(meshnet.Peer{
		Name:       "bob",
		IP:         net.ParseIP("10.2.0.2"),
		PublicKey:  "bob-key",
		IsRedeemed: true,
	}, other)
	if err != nil {
		t.Fatalf("create peer: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/peers", nil)
	req.RemoteAddr = "10.2.0.2:5555"
	req.Header.Set(networkPubkeyHeader, testServerKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
