package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shilei2024/foodai/internal/common"
	pb "github.com/shilei2024/foodai/internal/proto"
)

func (s *GRPCServer) IssueToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {

	req := pb.TokenRequestFromStruct(in)

	resp, err := s.tokens.IssueToken(ctx, req)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			s.logger.Warn(ctx, "Token refused", "client", req.ClientID)
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		s.logger.Error(ctx, "Token issue failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	s.logger.Info(ctx, "Token issued", "client", req.ClientID, "expires_in", resp.ExpiresIn)
	return resp.ToStruct(), nil

}

func (s *GRPCServer) Apply(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {

	m, err := pb.MutationFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if _, err := s.reconciler.Apply(ctx, clientIDFromContext(ctx), m); err != nil {
		return nil, s.toStatus(ctx, m, err)
	}

	return &emptypb.Empty{}, nil

}

// toStatus maps service errors onto codes the client understands:
// InvalidArgument is permanent, everything else is retried.
func (s *GRPCServer) toStatus(ctx context.Context, m pb.Mutation, err error) error {
	switch {
	case errors.Is(err, common.ErrValidation):
		s.logger.Warn(ctx, "Mutation rejected", "item", m.ItemID, "error", err)
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "unauthorized")
	default:
		s.logger.Error(ctx, "Mutation failed", "item", m.ItemID, "error", err)
		return status.Error(codes.Unavailable, "temporarily unavailable")
	}
}
