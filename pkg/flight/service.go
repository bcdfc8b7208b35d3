package flight

import (
	"fmt"
	"log"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"

	"gridkit/pkg/catalog"
)

func NewFlightServer(repo *catalog.Repository) flight.Server {
	server := flight.NewServerWithMiddleware(nil)
	gridServer := NewGridFlightServer(repo)
	server.RegisterFlightService(gridServer)
	return server
}

func StartFlightServer(repo *catalog.Repository, port int) error {
	addr := fmt.Sprintf(":%d", port)
	server := NewFlightServer(repo)
	log.Printf("Starting grid Flight server on %s...\n", addr)
	if err := server.Init(addr); err != nil {
		return err
	}
	return server.Serve()
}

// StartFlightServerWithGRPC allows passing custom gRPC options
func StartFlightServerWithGRPC(repo *catalog.Repository, port int, opts ...grpc.ServerOption) error {
	addr := fmt.Sprintf(":%d", port)
	server := flight.NewServerWithMiddleware(nil, opts...)
	gridServer := NewGridFlightServer(repo)
	server.RegisterFlightService(gridServer)

	log.Printf("Starting grid Flight server on %s...\n", addr)
	if err := server.Init(addr); err != nil {
		return err
	}
	return server.Serve()
}
