package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"hydrapay.dev/hpd/internal/types"
)

// HandleHeadCreate creates a new head.
// POST /api/head
func (s *Service) HandleHeadCreate(w http.ResponseWriter, r *http.Request) {
	var req types.HeadCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.ErrInvalidPayload())
		return
	}

	rec, err := s.heads.CreateHead(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

// HandleHeadInit sends the Init command to a participant's node.
// POST /api/head/init
func (s *Service) HandleHeadInit(w http.ResponseWriter, r *http.Request) {
	var req types.HeadInit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.ErrInvalidPayload())
		return
	}

	if err := s.heads.InitHead(req); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHeadCommit sends the Commit command carrying the participant's
// spendable funds.
// POST /api/head/commit
func (s *Service) HandleHeadCommit(w http.ResponseWriter, r *http.Request) {
	var req types.HeadCommit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.ErrInvalidPayload())
		return
	}

	if err := s.heads.CommitToHead(req); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHeadStatus reports a head's status and whether its network runs.
// GET /api/head/{name}
func (s *Service) HandleHeadStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	status, err := s.heads.GetHeadStatus(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// HandleNetworkStop terminates a head's node processes and monitor.
// DELETE /api/head/{name}/network
func (s *Service) HandleNetworkStop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := s.heads.StopNetwork(name); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTxBuild builds a funding or fuel transaction for an address.
// POST /api/tx
func (s *Service) HandleTxBuild(w http.ResponseWriter, r *http.Request) {
	var req types.TxBuild
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.ErrInvalidPayload())
		return
	}
	if req.Address == "" || req.Amount == 0 {
		s.writeError(w, types.ErrInvalidPayload())
		return
	}
	if req.TxType == "" {
		req.TxType = types.TxFunds
	}

	transaction, err := s.builder.BuildAddTx(req.TxType, req.Address, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transaction)
}

// HandleJournal returns recent control-plane events, newest first.
// GET /api/journal
func (s *Service) HandleJournal(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.journal.Recent(100))
}

// HandleHealth reports liveness and version.
// GET /api/health
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": types.Version,
	})
}
