// Package proto describes the foodai.sync.v1.Reconciler gRPC service.
//
// Messages are protobuf well-known types (google.protobuf.Struct and
// google.protobuf.Empty), so the service needs no generated code: the
// descriptor, client stub and message helpers live here.
package proto

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "foodai.sync.v1.Reconciler"

	ApplyMethod      = "/foodai.sync.v1.Reconciler/Apply"
	IssueTokenMethod = "/foodai.sync.v1.Reconciler/IssueToken"
)

// ReconcilerServer is implemented by the remote store.
type ReconcilerServer interface {
	Apply(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	IssueToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func RegisterReconcilerServer(s grpc.ServiceRegistrar, srv ReconcilerServer) {
	s.RegisterService(&ReconcilerServiceDesc, srv)
}

func reconcilerApplyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReconcilerServer).Apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ApplyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReconcilerServer).Apply(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func reconcilerIssueTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReconcilerServer).IssueToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IssueTokenMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReconcilerServer).IssueToken(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ReconcilerServiceDesc is the grpc.ServiceDesc for the Reconciler service.
var ReconcilerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReconcilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Apply", Handler: reconcilerApplyHandler},
		{MethodName: "IssueToken", Handler: reconcilerIssueTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "foodai/sync/v1/reconciler.proto",
}

// ReconcilerClient is the client stub.
type ReconcilerClient interface {
	Apply(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	IssueToken(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type reconcilerClient struct {
	cc grpc.ClientConnInterface
}

func NewReconcilerClient(cc grpc.ClientConnInterface) ReconcilerClient {
	return &reconcilerClient{cc: cc}
}

func (c *reconcilerClient) Apply(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ApplyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *reconcilerClient) IssueToken(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, IssueTokenMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Mutation is the Apply request.
type Mutation struct {
	ItemID     string
	Collection string
	Operation  string
	Payload    map[string]any
}

func (m Mutation) ToStruct() (*structpb.Struct, error) {
	payload := m.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	s, err := structpb.NewStruct(map[string]any{
		"item_id":    m.ItemID,
		"collection": m.Collection,
		"operation":  m.Operation,
		"payload":    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode mutation %s: %w", m.ItemID, err)
	}
	return s, nil
}

func MutationFromStruct(s *structpb.Struct) (Mutation, error) {
	fields := s.AsMap()
	m := Mutation{
		ItemID:     stringField(fields, "item_id"),
		Collection: stringField(fields, "collection"),
		Operation:  stringField(fields, "operation"),
	}
	switch p := fields["payload"].(type) {
	case map[string]any:
		m.Payload = p
	case nil:
	default:
		return Mutation{}, fmt.Errorf("payload must be an object, got %T", p)
	}
	return m, nil
}

// RecordID returns the payload "id", falling back to "localId".
func (m Mutation) RecordID() string {
	for _, k := range []string{"id", "localId"} {
		if s, ok := m.Payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// TokenRequest is the IssueToken request.
type TokenRequest struct {
	ClientID     string
	ClientSecret string
}

func (r TokenRequest) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"client_id":     structpb.NewStringValue(r.ClientID),
		"client_secret": structpb.NewStringValue(r.ClientSecret),
	}}
}

func TokenRequestFromStruct(s *structpb.Struct) TokenRequest {
	fields := s.AsMap()
	return TokenRequest{
		ClientID:     stringField(fields, "client_id"),
		ClientSecret: stringField(fields, "client_secret"),
	}
}

// TokenResponse is the IssueToken response; ExpiresIn is in seconds.
type TokenResponse struct {
	AccessToken string
	ExpiresIn   int64
}

func (r TokenResponse) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"access_token": structpb.NewStringValue(r.AccessToken),
		"expires_in":   structpb.NewNumberValue(float64(r.ExpiresIn)),
	}}
}

func TokenResponseFromStruct(s *structpb.Struct) TokenResponse {
	fields := s.AsMap()
	r := TokenResponse{AccessToken: stringField(fields, "access_token")}
	if n, ok := fields["expires_in"].(float64); ok && n > 0 && n < math.MaxInt32 {
		r.ExpiresIn = int64(n)
	}
	return r
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
