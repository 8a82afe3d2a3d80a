package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/client/tokencache"
	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/logging"
	pb "github.com/shilei2024/foodai/internal/proto"
)

type GRPCOptions struct {
	ClientID     string
	ClientSecret string

	// Tokens caches the access token; a private cache is used when nil.
	Tokens *tokencache.Cache

	Clock  clockwork.Clock
	Logger logging.Logger
}

// GRPC applies mutations through the foodai.sync.v1.Reconciler service.
type GRPC struct {
	conn   *grpc.ClientConn
	client pb.ReconcilerClient
	health healthpb.HealthClient
	tokens *tokencache.Cache
	creds  pb.TokenRequest
	clock  clockwork.Clock
	log    logging.Logger
}

// DialGRPC creates a client for the reconciler at addr. The connection is
// established lazily.
func DialGRPC(addr string, opts GRPCOptions) (*GRPC, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	r := NewGRPC(conn, opts)
	r.conn = conn
	return r, nil
}

// NewGRPC wraps an existing connection; the caller keeps ownership of it.
func NewGRPC(cc grpc.ClientConnInterface, opts GRPCOptions) *GRPC {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Tokens == nil {
		opts.Tokens = tokencache.New(tokencache.Options{Clock: opts.Clock, Logger: opts.Logger})
	}
	return &GRPC{
		client: pb.NewReconcilerClient(cc),
		health: healthpb.NewHealthClient(cc),
		tokens: opts.Tokens,
		creds:  pb.TokenRequest{ClientID: opts.ClientID, ClientSecret: opts.ClientSecret},
		clock:  opts.Clock,
		log:    opts.Logger.With("module", "grpc_reconciler"),
	}
}

func (r *GRPC) Apply(ctx context.Context, m models.Mutation) error {
	req, err := pb.Mutation{
		ItemID:     m.ItemID,
		Collection: m.Collection,
		Operation:  string(m.Operation),
		Payload:    m.Payload,
	}.ToStruct()
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrRemoteRejected, err)
	}

	err = r.applyWithToken(ctx, req)
	if status.Code(err) == codes.Unauthenticated {
		// the server may have restarted with a new key; one retry with a
		// freshly issued token
		r.tokens.Invalidate(ctx)
		err = r.applyWithToken(ctx, req)
		if status.Code(err) == codes.Unauthenticated {
			r.tokens.Invalidate(ctx)
		}
	}
	return mapError(err)
}

func (r *GRPC) applyWithToken(ctx context.Context, req *structpb.Struct) error {
	token, err := r.tokens.GetToken(ctx, r.FetchToken)
	if err != nil {
		return err
	}
	_, err = r.client.Apply(withAccessToken(ctx, token), req)
	return err
}

// FetchToken asks the server for a new access token. It is the fetch
// function handed to the token cache.
func (r *GRPC) FetchToken(ctx context.Context) (tokencache.Token, error) {
	resp, err := r.client.IssueToken(ctx, r.creds.ToStruct())
	if err != nil {
		return tokencache.Token{}, mapError(err)
	}

	tr := pb.TokenResponseFromStruct(resp)
	if tr.AccessToken == "" {
		return tokencache.Token{}, fmt.Errorf("empty access token: %w", common.ErrInvalidToken)
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		if ttl, err = tokencache.TTLFromJWT(tr.AccessToken, r.clock.Now()); err != nil {
			return tokencache.Token{}, err
		}
	}
	return tokencache.Token{Value: tr.AccessToken, TTL: ttl}, nil
}

// Ping reports whether the reconciler service is serving.
func (r *GRPC) Ping(ctx context.Context) error {
	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{Service: pb.ServiceName})
	if err != nil {
		return mapError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: service status %s", common.ErrNetwork, resp.GetStatus())
	}
	return nil
}

// Close releases the connection opened by DialGRPC.
func (r *GRPC) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

// mapError turns a gRPC status into the sync error taxonomy. Errors that
// already carry a taxonomy sentinel are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{common.ErrRemoteRejected, common.ErrNetwork, common.ErrInvalidToken} {
		if errors.Is(err, known) {
			return err
		}
	}

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", common.ErrRemoteRejected, st.Message())
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w: %s", common.ErrNetwork, common.ErrUnauthorized, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", common.ErrNetwork, st.Code(), st.Message())
	}
}
