// Package api is the coordinator's HTTP surface: redemption, state,
// candidate reporting, endpoint override, and admin CRUD over peers,
// CIDRs, and associations.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/server"
	"github.com/innernet-go/meshnet/internal/store"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	db        *store.DB
	cidrs     *store.CIDRStore
	peers     *store.PeerStore
	assocs    *store.AssociationStore
	wg        *wireguard.Manager
	observer  *server.EndpointObserver
	serverKey string // base64 public key this coordinator presents in X-Network-Pubkey

	infraCIDRID int64 // CIDR holding the coordinator's own peer row

	mux *http.ServeMux
}

// NewServer creates a new API server with all routes mounted. It resolves
// the infra CIDR id by looking up the coordinator's own peer row by public
// key, rather than assuming a fixed id (the coordinator is seeded into the
// database like any other peer).
func NewServer(
	db *store.DB,
	cidrs *store.CIDRStore,
	peers *store.PeerStore,
	assocs *store.AssociationStore,
	wg *wireguard.Manager,
	observer *server.EndpointObserver,
	serverPublicKey string,
) (*Server, error) {
	selfPeer, err := peers.GetByPublicKey(serverPublicKey)
	if err != nil {
		return nil, meshnet.Internal("resolve coordinator's own peer row", err)
	}

	s := &Server{
		db:          db,
		cidrs:       cidrs,
		peers:       peers,
		assocs:      assocs,
		wg:          wg,
		observer:    observer,
		serverKey:   serverPublicKey,
		infraCIDRID: selfPeer.CIDRID,
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/redeem", s.handleRedeem)
	s.mux.HandleFunc("GET /v1/state", s.handleState)
	s.mux.HandleFunc("POST /v1/candidates", s.handleReportCandidates)
	s.mux.HandleFunc("POST /v1/endpoint", s.handleOverrideEndpoint)

	s.mux.HandleFunc("POST /v1/admin/peers", s.handleCreatePeer)
	s.mux.HandleFunc("GET /v1/admin/peers", s.handleListPeers)
	s.mux.HandleFunc("PATCH /v1/admin/peers/{id}", s.handleUpdatePeer)
	s.mux.HandleFunc("POST /v1/admin/peers/{id}/disable", s.handleDisablePeer)
	s.mux.HandleFunc("POST /v1/admin/peers/{id}/enable", s.handleEnablePeer)

	s.mux.HandleFunc("POST /v1/admin/cidrs", s.handleCreateCIDR)
	s.mux.HandleFunc("GET /v1/admin/cidrs", s.handleListCIDRs)
	s.mux.HandleFunc("PATCH /v1/admin/cidrs/{id}", s.handleRenameCIDR)
	s.mux.HandleFunc("POST /v1/admin/cidrs/{id}/disable", s.handleDisableCIDR)
	s.mux.HandleFunc("POST /v1/admin/cidrs/{id}/enable", s.handleEnableCIDR)
	s.mux.HandleFunc("DELETE /v1/admin/cidrs/{id}", s.handleDeleteCIDR)

	s.mux.HandleFunc("POST /v1/admin/associations", s.handleCreateAssociation)
	s.mux.HandleFunc("GET /v1/admin/associations", s.handleListAssociations)
	s.mux.HandleFunc("DELETE /v1/admin/associations/{id}", s.handleDeleteAssociation)

	s.mux.Handle("GET /metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	}))
}

// Handler returns the mux wrapped with the full middleware chain:
// logging, then the network-key check, then rate limiting, then audit
// logging of mutations.
func (s *Server) Handler() http.Handler {
	rl := newRateLimiter(100, time.Minute)

	var h http.Handler = s.mux
	h = auditMiddleware(s.db, s.peers)(h)
	h = rl.middleware(h)
	h = networkKeyMiddleware(s.serverKey)(h)
	h = loggingMiddleware(h)
	return h
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a meshnet domain error onto its HTTP status and
// writes it as a JSON error body.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, meshnet.StatusCode(err), err.Error())
}
