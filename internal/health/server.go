// Package health exposes the process's liveness over gRPC, using the
// standard health-checking protocol rather than a bespoke endpoint.
// It carries no SIP logic of its own; it only reports whether the
// call table still has room, so an external load balancer can stop
// routing new INVITEs at a B2BUA that is already at spec.md §5's
// N=32 capacity ceiling.
package health

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/tinysip/b2bua/internal/calltable"
)

// ServiceName is the health service entry this process reports under.
const ServiceName = "tinysip.b2bua"

// Server wraps the gRPC server and the health registry it drives.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	table      *calltable.Table
}

// New builds a Server that will report table's occupancy.
func New(table *calltable.Table) *Server {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{grpcServer: gs, health: hs, table: table}
}

// Serve binds port and blocks, serving gRPC health/reflection
// requests until the listener errors (normally because Stop was
// called).
func (s *Server) Serve(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("health: listen :%d: %w", port, err)
	}
	slog.Info("[HEALTH] serving", "port", port)
	return s.grpcServer.Serve(lis)
}

// Stop marks the service NOT_SERVING, then gracefully shuts down the
// gRPC server.
func (s *Server) Stop() {
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.grpcServer.GracefulStop()
}

// RefreshStatus recomputes the reported health from the call table's
// current occupancy, marking the service NOT_SERVING once the table
// is at spec.md §5's capacity ceiling. The reported status changes
// only when this method is called; nothing in the package calls it on
// its own.
func (s *Server) RefreshStatus() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.table.Size() >= calltable.Capacity {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}
