package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

// redeemRequest is posted by a client that holds an invitation and wants to
// install its own generated public key, replacing the invite's placeholder.
type redeemRequest struct {
	PublicKey string `json:"public_key"`
}

// handleRedeem implements one-shot invitation redemption. The caller must
// resolve to an enabled, not-yet-redeemed peer — it has no other
// credential yet, since it has no public key installed until this call
// succeeds. An enabled caller that has already redeemed gets Gone.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !caller.IsDisabled && caller.IsRedeemed {
		writeDomainError(w, meshnet.Gone("peer has already redeemed its invitation"))
		return
	}
	if !isRedeemable(caller) {
		writeError(w, http.StatusUnauthorized, "peer is not eligible for redemption")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "public_key is required")
		return
	}

	if err := s.peers.Redeem(caller.ID, req.PublicKey); err != nil {
		writeDomainError(w, err)
		return
	}

	redeemed, err := s.peers.Get(caller.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemed)
}

// stateResponse is the full view a redeemed peer needs to reconcile its
// local tunnel: every peer it is authorized to see, with candidate
// endpoints injected from what the coordinator has observed live, plus the
// full CIDR set, which the client keeps in its cache.
type stateResponse struct {
	Peers []meshnet.Peer `json:"peers"`
	CIDRs []meshnet.CIDR `json:"cidrs"`
}

// handleState returns the caller's visibility-filtered peer list and the
// full CIDR tree. Requires a redeemed, enabled peer.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !isUserCapable(caller) {
		writeError(w, http.StatusUnauthorized, "peer is not enabled")
		return
	}

	peers, err := s.peers.VisiblePeers(caller.CIDRID, s.infraCIDRID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	injectEndpoints(s.observer.Snapshot(), peers)
	metrics.GetOrCreateGauge(fmt.Sprintf(
		`meshnet_state_visible_peers{caller=%q}`, caller.Name,
	), nil).Set(float64(len(peers)))

	cidrs, err := s.cidrs.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stateResponse{Peers: peers, CIDRs: cidrs})
}

// candidatesRequest is posted by a client reporting its own candidate
// endpoints — its local addresses paired with its listen port — for other
// peers to try during NAT traversal.
type candidatesRequest struct {
	Candidates []string `json:"candidates"`
}

// handleReportCandidates replaces the calling peer's stored candidate
// endpoint list with the one it reports for itself.
func (s *Server) handleReportCandidates(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !isUserCapable(caller) {
		writeError(w, http.StatusUnauthorized, "peer is not enabled")
		return
	}

	var req candidatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	candidates := make([]meshnet.Endpoint, 0, len(req.Candidates))
	for _, raw := range req.Candidates {
		ep, err := meshnet.ParseEndpoint(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid candidate endpoint: "+raw)
			return
		}
		candidates = append(candidates, ep)
	}

	if err := s.peers.SetCandidates(caller.ID, candidates); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// endpointRequest is posted by a client declaring (or clearing) its own
// public endpoint.
type endpointRequest struct {
	Endpoint *string `json:"endpoint"`
}

// handleOverrideEndpoint lets a redeemed peer set or clear its own declared
// endpoint, independent of admin CRUD.
func (s *Server) handleOverrideEndpoint(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !isUserCapable(caller) {
		writeError(w, http.StatusUnauthorized, "peer is not enabled")
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var ep *meshnet.Endpoint
	if req.Endpoint != nil && *req.Endpoint != "" {
		parsed, err := meshnet.ParseEndpoint(*req.Endpoint)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid endpoint")
			return
		}
		ep = &parsed
	}

	if err := s.peers.SetEndpoint(caller.ID, ep); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
