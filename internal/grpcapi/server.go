package grpcapi

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/example/business-ledger/internal/auth"
)

// AuthorizationKey is the metadata key carrying "Bearer <api key>".
const AuthorizationKey = "authorization"

type Config struct {
	Ledger        Ledger
	Authenticator *auth.Authenticator
	Logger        *slog.Logger
	// TLS nil serves plaintext.
	TLS *tls.Config
}

// New builds a gRPC server with the ledger service, the standard health
// service and the auth and logging interceptors. The returned health server
// is SERVING until the caller changes it.
func New(cfg Config) (*grpc.Server, *health.Server) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(logger),
			AuthInterceptor(cfg.Authenticator),
		),
	}
	if cfg.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(cfg.TLS)))
	}

	srv := grpc.NewServer(opts...)
	Register(srv, NewServer(cfg.Ledger, logger))

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return srv, healthSrv
}

// AuthInterceptor resolves the bearer API key in the authorization metadata
// for ledger methods. Health checks are not authenticated.
func AuthInterceptor(a *auth.Authenticator) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get(AuthorizationKey)
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "invalid_api_key")
		}
		tok, ok := auth.BearerToken(values[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "invalid_api_key")
		}

		p, err := a.Resolve(ctx, tok)
		if errors.Is(err, auth.ErrInvalidAPIKey) {
			return nil, status.Error(codes.Unauthenticated, "invalid_api_key")
		}
		if err != nil {
			return nil, status.Error(codes.Internal, "internal_error")
		}
		return handler(auth.WithPrincipal(ctx, p), req)
	}
}

func LoggingInterceptor(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		l.Log(ctx, level, "grpc_request",
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// WithAPIKey returns a context that sends key on outgoing calls.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, AuthorizationKey, "Bearer "+key)
}
