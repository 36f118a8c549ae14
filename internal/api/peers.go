package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/innernet-go/meshnet/internal/meshnet"
	"github.com/innernet-go/meshnet/internal/wireguard"
)

// createPeerRequest describes a new invitation: the admin picks the name,
// CIDR, and optional invite lifetime. The peer is created with a placeholder
// public key (random unless placeholder_public_key is given), which
// redemption replaces with the client's own key.
type createPeerRequest struct {
	Name             string  `json:"name"`
	CIDRID           int64   `json:"cidr_id"`
	IP               string  `json:"ip"`
	IsAdmin          bool    `json:"is_admin"`
	InviteExpiresSec *int64  `json:"invite_expires_in_seconds"`
	PlaceholderKey   *string `json:"placeholder_public_key"`
}

func (s *Server) handleCreatePeer(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil || !isAdminCapable(caller) {
		writeError(w, http.StatusUnauthorized, "admin privileges required")
		return
	}

	var req createPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ip := net.ParseIP(req.IP)
	if ip == nil {
		writeError(w, http.StatusBadRequest, "invalid ip")
		return
	}
	cidr, err := s.cidrs.Get(req.CIDRID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	placeholder := wireguard.GenerateRandomID("pending-")
	if req.PlaceholderKey != nil && *req.PlaceholderKey != "" {
		placeholder = *req.PlaceholderKey
	}

	var inviteExpires *time.Time
	if req.InviteExpiresSec != nil {
		t := time.Now().Add(time.Duration(*req.InviteExpiresSec) * time.Second)
		inviteExpires = &t
	}

	created, err := s.peers.CreatePeer(meshnet.Peer{
		Name:          req.Name,
		IP:            ip,
		PublicKey:     placeholder,
		IsAdmin:       req.IsAdmin,
		InviteExpires: inviteExpires,
	}, cidr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil || !isAdminCapable(caller) {
		writeError(w, http.StatusUnauthorized, "admin privileges required")
		return
	}
	peers, err := s.peers.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	injectEndpoints(s.observer.Snapshot(), peers)
	writeJSON(w, http.StatusOK, peers)
}

type updatePeerRequest struct {
	Name       string  `json:"name"`
	Endpoint   *string `json:"endpoint"`
	IsAdmin    bool    `json:"is_admin"`
	IsDisabled bool    `json:"is_disabled"`
}

func (s *Server) handleUpdatePeer(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil || !isAdminCapable(caller) {
		writeError(w, http.StatusUnauthorized, "admin privileges required")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req updatePeerRequest
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

	if err := s.peers.UpdatePeer(id, req.Name, ep, req.IsAdmin, req.IsDisabled); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisablePeer(w http.ResponseWriter, r *http.Request) {
	s.togglePeer(w, r, s.peers.Disable)
}

func (s *Server) handleEnablePeer(w http.ResponseWriter, r *http.Request) {
	s.togglePeer(w, r, s.peers.Enable)
}

func (s *Server) togglePeer(w http.ResponseWriter, r *http.Request, op func(int64) error) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil || !isAdminCapable(caller) {
		writeError(w, http.StatusUnauthorized, "admin privileges required")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := op(id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
