package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type createAssociationRequest struct {
	CIDRID1 int64 `json:"cidr_id_1"`
	CIDRID2 int64 `json:"cidr_id_2"`
}

func (s *Server) handleCreateAssociation(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil || !isAdminCapable(caller) {
		writeError(w, http.StatusUnauthorized, "admin privileges required")
		return
	}

	var req createAssociationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.assocs.Create(req.CIDRID1, req.CIDRID2)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListAssociations(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(s.peers, r)
	if err != nil || !isAdminCapable(caller) {
		writeError(w, http.StatusUnauthorized, "admin privileges required")
		return
	}
	assocs, err := s.assocs.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assocs)
}

func (s *Server) handleDeleteAssociation(w http.ResponseWriter, r *http.Request) {
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
	if err := s.assocs.Delete(id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
