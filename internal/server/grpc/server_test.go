package grpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/client/reconciler"
	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/logging"
	pb "github.com/shilei2024/foodai/internal/proto"
	"github.com/shilei2024/foodai/internal/server/auth"
	"github.com/shilei2024/foodai/internal/server/services"
)

type appliedCall struct {
	clientID string
	m        pb.Mutation
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls []appliedCall
	err   error
}

func (f *fakeReconciler) Apply(_ context.Context, clientID string, m pb.Mutation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, appliedCall{clientID: clientID, m: m})
	return f.err == nil, f.err
}

func (f *fakeReconciler) applied() []appliedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appliedCall(nil), f.calls...)
}

func newTestServer(rs Reconciler) *GRPCServer {
	issuer := auth.NewIssuer([]byte("secret"), 15*time.Minute, nil)
	return NewGRPCServer("127.0.0.1:0", logging.Discard(), rs, services.NewTokenService("app", "s3cr3t", issuer))
}

func startServer(t *testing.T, s *GRPCServer) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func appleMutation() models.Mutation {
	return models.Mutation{
		ItemID:     "item-1",
		Collection: "food_records",
		Operation:  models.OperationAdd,
		Payload:    map[string]any{"id": "r1", "name": "apple"},
	}
}

func TestEndToEnd_ApplyWithIssuedToken(t *testing.T) {
	rs := &fakeReconciler{}
	conn := startServer(t, newTestServer(rs))
	client := reconciler.NewGRPC(conn, reconciler.GRPCOptions{ClientID: "app", ClientSecret: "s3cr3t"})

	require.NoError(t, client.Apply(testCtx(t), appleMutation()))
	require.NoError(t, client.Apply(testCtx(t), appleMutation()))

	calls := rs.applied()
	require.Len(t, calls, 2)
	assert.Equal(t, "app", calls[0].clientID)
	assert.Equal(t, "item-1", calls[0].m.ItemID)
	assert.Equal(t, "add", calls[0].m.Operation)
	assert.Equal(t, "apple", calls[0].m.Payload["name"])
}

func TestEndToEnd_BadCredentials(t *testing.T) {
	rs := &fakeReconciler{}
	conn := startServer(t, newTestServer(rs))
	client := reconciler.NewGRPC(conn, reconciler.GRPCOptions{ClientID: "app", ClientSecret: "nope"})

	err := client.Apply(testCtx(t), appleMutation())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	assert.Empty(t, rs.applied())
}

func TestEndToEnd_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"validation is permanent", common.NewValidationError("payload.id", "is required"), common.ErrRemoteRejected},
		{"storage is retryable", common.StorageError("upsert", errors.New("db down")), common.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := startServer(t, newTestServer(&fakeReconciler{err: tt.err}))
			client := reconciler.NewGRPC(conn, reconciler.GRPCOptions{ClientID: "app", ClientSecret: "s3cr3t"})

			assert.ErrorIs(t, client.Apply(testCtx(t), appleMutation()), tt.want)
		})
	}
}

func TestEndToEnd_Ping(t *testing.T) {
	conn := startServer(t, newTestServer(&fakeReconciler{}))
	client := reconciler.NewGRPC(conn, reconciler.GRPCOptions{})

	assert.NoError(t, client.Ping(testCtx(t)))
}

func TestApply_WithoutTokenIsUnauthenticated(t *testing.T) {
	rs := &fakeReconciler{}
	conn := startServer(t, newTestServer(rs))

	req, err := pb.Mutation{ItemID: "i", Collection: "c", Operation: "add", Payload: map[string]any{"id": "r"}}.ToStruct()
	require.NoError(t, err)

	_, err = pb.NewReconcilerClient(conn).Apply(testCtx(t), req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Empty(t, rs.applied())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeReconciler{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.Discard(), &fakeReconciler{}, nil)
	assert.Error(t, srv.Run(context.Background()))
}
