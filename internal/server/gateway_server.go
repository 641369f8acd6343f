package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/auth"
	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name of the gateway.
const ServiceName = "tone.gateway.v1.Gateway"

// GatewayServer exposes a gateway.Service over gRPC.
type GatewayServer struct {
	svc    gateway.Service
	logger *zap.Logger
}

// NewGatewayServer creates a new GatewayServer.
func NewGatewayServer(svc gateway.Service, logger *zap.Logger) *GatewayServer {
	return &GatewayServer{svc: svc, logger: logger}
}

// gatewayHandler is the HandlerType of the service descriptor.
type gatewayHandler interface {
	getAllPendingData(ctx context.Context, req *gateway.GetAllPendingDataRequest) (*gateway.GetAllPendingDataResponse, error)
	getStorageMetadata(ctx context.Context, req *gateway.GetStorageMetadataRequest) (*gateway.GetStorageMetadataResponse, error)
	clearAllPendingData(ctx context.Context, req *gateway.ClearAllPendingDataRequest) (*gateway.ClearAllPendingDataResponse, error)
	acknowledge(ctx context.Context, req *gateway.AcknowledgeRequest) (*gateway.AcknowledgeResponse, error)
}

func (s *GatewayServer) getAllPendingData(ctx context.Context, req *gateway.GetAllPendingDataRequest) (*gateway.GetAllPendingDataResponse, error) {
	resp, err := s.svc.GetAllPendingData(ctx, req)
	if err != nil {
		return nil, s.toStatus("GetAllPendingData", err)
	}
	return resp, nil
}

func (s *GatewayServer) getStorageMetadata(ctx context.Context, req *gateway.GetStorageMetadataRequest) (*gateway.GetStorageMetadataResponse, error) {
	resp, err := s.svc.GetStorageMetadata(ctx, req)
	if err != nil {
		return nil, s.toStatus("GetStorageMetadata", err)
	}
	return resp, nil
}

func (s *GatewayServer) clearAllPendingData(ctx context.Context, req *gateway.ClearAllPendingDataRequest) (*gateway.ClearAllPendingDataResponse, error) {
	resp, err := s.svc.ClearAllPendingData(ctx, req)
	if err != nil {
		return nil, s.toStatus("ClearAllPendingData", err)
	}
	return resp, nil
}

func (s *GatewayServer) acknowledge(ctx context.Context, req *gateway.AcknowledgeRequest) (*gateway.AcknowledgeResponse, error) {
	resp, err := s.svc.Acknowledge(ctx, req)
	if err != nil {
		return nil, s.toStatus("Acknowledge", err)
	}
	return resp, nil
}

// toStatus maps gateway errors onto gRPC codes.
func (s *GatewayServer) toStatus(method string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, store.ErrStoreUnavailable):
		code = codes.Unavailable
	case errors.Is(err, store.ErrSerialization):
		code = codes.DataLoss
	case errors.Is(err, storage.ErrUnknownCategory), errors.Is(err, store.ErrInvalidKey):
		code = codes.InvalidArgument
	}
	s.logger.Warn("gateway call failed",
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Error(err),
	)
	return status.Error(code, err.Error())
}

func unaryHandler[Req any, Resp any](call func(gatewayHandler, context.Context, *Req) (*Resp, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
		}
		h := srv.(gatewayHandler)
		if interceptor == nil {
			return call(h, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(h, ctx, req.(*Req))
		})
	}
}

// serviceDesc is written by hand because the messages are JSON-coded Go
// structs rather than generated protobuf types.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*gatewayHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAllPendingData", Handler: unaryHandler(gatewayHandler.getAllPendingData, "GetAllPendingData")},
		{MethodName: "GetStorageMetadata", Handler: unaryHandler(gatewayHandler.getStorageMetadata, "GetStorageMetadata")},
		{MethodName: "ClearAllPendingData", Handler: unaryHandler(gatewayHandler.clearAllPendingData, "ClearAllPendingData")},
		{MethodName: "Acknowledge", Handler: unaryHandler(gatewayHandler.acknowledge, "Acknowledge")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tone/gateway/v1/gateway",
}

// Register adds the gateway service to s.
func Register(s grpc.ServiceRegistrar, srv *GatewayServer) {
	s.RegisterService(&serviceDesc, srv)
}

// AuthInterceptor rejects gateway calls without a valid x-internal-key.
// Health checks are always allowed.
func AuthInterceptor(a auth.Authenticator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		if _, err := a.Authenticate(ctx); err != nil {
			logger.Warn("grpc auth failed", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
		}
		return handler(ctx, req)
	}
}

// Options configures NewGRPCServer.
type Options struct {
	Service       gateway.Service
	Authenticator auth.Authenticator // nil allows every caller
	Logger        *zap.Logger
}

// Server bundles the gRPC server with its health service so callers can
// flip serving status on shutdown.
type Server struct {
	GRPC   *grpc.Server
	Health *health.Server
}

// NewGRPCServer builds a gRPC server with the gateway and health services
// registered.
func NewGRPCServer(opts Options) *Server {
	authenticator := opts.Authenticator
	if authenticator == nil {
		authenticator = auth.NewOpenAuthenticator()
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
		grpc.UnaryInterceptor(AuthInterceptor(authenticator, opts.Logger)),
	)
	Register(grpcServer, NewGatewayServer(opts.Service, opts.Logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{GRPC: grpcServer, Health: healthServer}
}

// Shutdown marks the service not serving and drains in-flight calls.
func (s *Server) Shutdown() {
	s.Health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.GRPC.GracefulStop()
}
