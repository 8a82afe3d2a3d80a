package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/shilei2024/foodai/internal/common"
	pb "github.com/shilei2024/foodai/internal/proto"
)

type ctxKey string

const clientIDKey ctxKey = "clientID"

// accessTokenInterceptor guards Apply; IssueToken and health stay open.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {

	if info.FullMethod == pb.ApplyMethod {

		var accessToken string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			values := md.Get(common.AccessTokenHeaderName)
			if len(values) > 0 {
				accessToken = values[0]
			}
		}
		if len(accessToken) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}

		clientID, err := s.tokens.Authenticate(ctx, accessToken)
		if err != nil {
			s.logger.Warn(ctx, "Rejected access token", "error", err)
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		ctx = context.WithValue(ctx, clientIDKey, clientID)

	}

	return handler(ctx, req)
}

func clientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}
