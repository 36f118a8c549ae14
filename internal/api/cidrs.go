package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
)

type createCIDRRequest struct {
	Name    string `json:"name"`
	Network string `json:"network"` // CIDR notation, e.g. "10.42.1.0/24"
	Parent  *int64 `json:"parent_id"`
}

func (s *Server) handleCreateCIDR(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil || !isAdminCapable(caller) {
		writeError(w, http.StatusUnauthorized, "admin privileges required")
		return
	}

	var req createCIDRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	_, network, err := net.ParseCIDR(req.Network)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid network")
		return
	}

	created, err := s.cidrs.Create(req.Name, *network, req.Parent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListCIDRs(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil || !isAdminCapable(caller) {
		writeError(w, http.StatusUnauthorized, "admin privileges required")
		return
	}
	cidrs, err := s.cidrs.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cidrs)
}

type renameCIDRRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameCIDR(w http.ResponseWriter, r *http.Request) {
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
	var req renameCIDRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.cidrs.Rename(id, req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisableCIDR(w http.ResponseWriter, r *http.Request) {
	s.toggleCIDR(w, r, true)
}

func (s *Server) handleEnableCIDR(w http.ResponseWriter, r *http.Request) {
	s.toggleCIDR(w, r, false)
}

func (s *Server) toggleCIDR(w http.ResponseWriter, r *http.Request, disabled bool) {
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
	if err := s.cidrs.SetDisabled(id, disabled); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCIDR(w http.ResponseWriter, r *http.Request) {
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
	if err := s.cidrs.Delete(id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
