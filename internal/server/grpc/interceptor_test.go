package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/shilei2024/foodai/internal/common"
	pb "github.com/shilei2024/foodai/internal/proto"
)

func TestInterceptor_OtherMethodsAllowedWithoutToken(t *testing.T) {
	s := newTestServer(&fakeReconciler{})

	info := &grpc.UnaryServerInfo{FullMethod: pb.IssueTokenMethod}
	handlerCalled := false
	h := func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	require.NoError(t, err)
	assert.True(t, handlerCalled)
	assert.Equal(t, "ok", resp)
}

func TestInterceptor_Apply_MissingToken(t *testing.T) {
	s := newTestServer(&fakeReconciler{})

	info := &grpc.UnaryServerInfo{FullMethod: pb.ApplyMethod}
	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "missing token", status.Convert(err).Message())
}

func TestInterceptor_Apply_InvalidToken(t *testing.T) {
	s := newTestServer(&fakeReconciler{})

	md := metadata.New(map[string]string{common.AccessTokenHeaderName: "not-a-valid-jwt"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: pb.ApplyMethod}
	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called for an invalid token")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(ctx, nil, info, h)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "invalid token", status.Convert(err).Message())
}

func TestInterceptor_Apply_ValidTokenSetsClientID(t *testing.T) {
	s := newTestServer(&fakeReconciler{})

	resp, err := s.tokens.IssueToken(context.Background(), pb.TokenRequest{ClientID: "app", ClientSecret: "s3cr3t"})
	require.NoError(t, err)

	md := metadata.New(map[string]string{common.AccessTokenHeaderName: resp.AccessToken})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: pb.ApplyMethod}

	var got string
	h := func(ctx context.Context, req any) (any, error) {
		got = clientIDFromContext(ctx)
		return nil, nil
	}

	_, err = s.accessTokenInterceptor(ctx, nil, info, h)
	require.NoError(t, err)
	assert.Equal(t, "app", got)
}

func TestClientIDFromContext_Empty(t *testing.T) {
	assert.Empty(t, clientIDFromContext(context.Background()))
}
