package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/api/uploadv1"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/uploads"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// UploadService is the orchestrator as seen by the transport.
type UploadService interface {
	Initiate(ctx context.Context, req uploads.InitiateRequest) (*uploads.InitiateResult, error)
	Complete(ctx context.Context, uploadID string, tokens []string) (*models.ObjectDescriptor, error)
	Abort(ctx context.Context, uploadID string) (bool, error)
	Status(ctx context.Context, uploadID string) (*models.UploadSession, error)
	DownloadURL(ctx context.Context, key string) (string, time.Time, error)
}

var _ UploadService = (*uploads.Service)(nil)

type GRPCServer struct {
	address   string
	uploads   UploadService
	logger    logging.Logger
	jwtSecret []byte
	health    *health.Server
}

// NewGRPCServer builds the transport. An empty secretKey disables access
// token verification.
func NewGRPCServer(a string, l logging.Logger, us UploadService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		uploads:   us,
		jwtSecret: []byte(secretKey),
		health:    health.NewServer(),
	}
}

// newServer creates the gRPC server with the upload and health services
// registered.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))

	uploadv1.RegisterUploadServiceServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(uploadv1.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then drains
// in-flight calls.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
