// Package grpcserver exposes the internal session service over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/service"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server wires the auth service into gRPC handlers.
type Server struct {
	auth service.AuthService
}

// New constructs a gRPC session server.
func New(auth service.AuthService) *Server {
	return &Server{auth: auth}
}

// NewGRPCServer builds a grpc.Server with interceptors, the session service and
// the health service registered.
func NewGRPCServer(log *zap.Logger, srv *Server, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(srv.verifyToken, MethodRenew, MethodWhoAmI),
	))
	s := grpc.NewServer(opts...)
	RegisterSessionServiceServer(s, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

func (s *Server) verifyToken(token string) (uuid.UUID, error) {
	_, id, err := s.auth.Session(token)
	return id, err
}

// Verify validates the token field without touching storage.
func (s *Server) Verify(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	token := in.GetFields()["token"].GetStringValue()
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "empty token")
	}
	claims, id, err := s.auth.Session(token)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"account_id":   id.String(),
		"display_name": claims.Name,
		"expires_at":   claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Renew reissues the bearer session from current account state.
func (s *Server) Renew(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	token, ok := TokenFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	tokens, err := s.auth.Renew(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"token":      tokens.AccessToken,
		"expires_at": tokens.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// WhoAmI returns the bearer's account and linked identities.
func (s *Server) WhoAmI(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	token, ok := TokenFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	acc, ids, err := s.auth.WhoAmI(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, map[string]any{
			"kind":        string(id.Kind),
			"external_id": id.ExternalID,
		})
	}
	return structpb.NewStruct(map[string]any{
		"account_id":   acc.ID.String(),
		"display_name": acc.DisplayName,
		"created_at":   acc.CreatedAt.UTC().Format(time.RFC3339),
		"identities":   list,
	})
}

// toStatus maps service errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidSession):
		return status.Error(codes.Unauthenticated, "invalid session")
	case errors.Is(err, errs.ErrStorageTimeout):
		return status.Error(codes.Unavailable, "storage unavailable")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrMalformedCredential):
		return status.Error(codes.InvalidArgument, "malformed")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	default:
		return status.Errorf(codes.Internal, "internal: %v", err)
	}
}

// WithBearer attaches token to outgoing call metadata.
func WithBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}
