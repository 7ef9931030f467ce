package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter registers the lifecycle routes on a mux router.
func NewRouter(svc *Service) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/head", svc.HandleHeadCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/head/init", svc.HandleHeadInit).Methods(http.MethodPost)
	r.HandleFunc("/api/head/commit", svc.HandleHeadCommit).Methods(http.MethodPost)
	r.HandleFunc("/api/head/{name}", svc.HandleHeadStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/head/{name}/network", svc.HandleNetworkStop).Methods(http.MethodDelete)
	r.HandleFunc("/api/tx", svc.HandleTxBuild).Methods(http.MethodPost)
	r.HandleFunc("/api/journal", svc.HandleJournal).Methods(http.MethodGet)
	r.HandleFunc("/api/health", svc.HandleHealth).Methods(http.MethodGet)

	return r
}

// Server wraps the HTTP server for the lifecycle API.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a server listening on the given port.
func NewServer(svc *Service, port int) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      NewRouter(svc),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Start begins serving in the background and returns a channel that
// receives the terminal serve error.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	return errs
}

// Close immediately closes the server.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
