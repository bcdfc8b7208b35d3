package api

import (
	"fmt"
	"log"
	"net/http"

	"gridkit/pkg/catalog"
)

// APIServer represents the REST API server
type APIServer struct {
	repo   *catalog.Repository
	port   int
	server *http.Server
}

// NewAPIServer creates a new API server instance
func NewAPIServer(repo *catalog.Repository, port int) *APIServer {
	return &APIServer{
		repo: repo,
		port: port,
	}
}

// Start starts the REST API server
func (s *APIServer) Start() error {
	handler := NewAPIHandler(s.repo)

	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/api/v1/sample", handler.SampleHandler)
	mux.HandleFunc("/api/v1/info", handler.InfoHandler)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	log.Printf("Starting REST API server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Stop stops the REST API server
func (s *APIServer) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
