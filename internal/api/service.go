// Package api exposes the lifecycle operations over HTTP. The surface is
// deliberately thin: decode, validate, delegate to the orchestrator, and
// translate HydraPayError tags to status codes.
package api

import (
	"encoding/json"
	"net/http"

	"hydrapay.dev/hpd/internal/journal"
	"hydrapay.dev/hpd/internal/types"
)

// Heads is the lifecycle orchestrator surface the handlers delegate to.
type Heads interface {
	CreateHead(req types.HeadCreate) (*types.HeadRecord, error)
	InitHead(req types.HeadInit) error
	CommitToHead(req types.HeadCommit) error
	GetHeadStatus(name string) (*types.HeadStatus, error)
	StopNetwork(name string) error
}

// TxBuilder builds funding and fuel transactions.
type TxBuilder interface {
	BuildAddTx(txType types.TxType, fromAddress string, amount uint64) (*types.Transaction, error)
}

// Service handles API requests
type Service struct {
	heads   Heads
	builder TxBuilder
	journal *journal.Journal
}

// NewService creates a new API service
func NewService(heads Heads, builder TxBuilder, jrn *journal.Journal) *Service {
	return &Service{
		heads:   heads,
		builder: builder,
		journal: jrn,
	}
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a tagged HydraPayError response. Untagged internal
// errors are reported as HeadCreationFailed rather than leaked verbatim.
func (s *Service) writeError(w http.ResponseWriter, err error) {
	hpErr, ok := types.AsHydraPayError(err)
	if !ok {
		hpErr = types.ErrHeadCreationFailed()
	}
	s.writeJSON(w, statusFor(hpErr.Tag), hpErr)
}

// statusFor maps an error tag to an HTTP status code.
func statusFor(tag types.ErrorTag) int {
	switch tag {
	case types.TagInvalidPayload, types.TagNotEnoughParticipants, types.TagInsufficientFunds:
		return http.StatusBadRequest
	case types.TagHeadExists, types.TagNetworkIsntRunning:
		return http.StatusConflict
	case types.TagHeadDoesntExist:
		return http.StatusNotFound
	case types.TagNotAParticipant:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}
