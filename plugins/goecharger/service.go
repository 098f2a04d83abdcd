package goecharger

import (
	context "context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/goe-bridge/internal/devbus"
)

const (
	ServiceFullName = "goecharger.v1.EvChargerService"
	serviceFile     = "goecharger/v1/evcharger.proto"

	methodGetAttributes = "/" + ServiceFullName + "/GetAttributes"
	methodSetAttribute  = "/" + ServiceFullName + "/SetAttribute"
	methodGetLiveness   = "/" + ServiceFullName + "/GetLiveness"
)

// The service uses well-known message types only, so its descriptor is
// assembled here and registered for server reflection.
func init() {
	fd := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(serviceFile),
		Package:    proto.String("goecharger.v1"),
		Dependency: []string{"google/protobuf/empty.proto", "google/protobuf/struct.proto"},
		Syntax:     proto.String("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("EvChargerService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("GetAttributes"),
					InputType:  proto.String(".google.protobuf.Empty"),
					OutputType: proto.String(".google.protobuf.Struct"),
				},
				{
					Name:       proto.String("SetAttribute"),
					InputType:  proto.String(".google.protobuf.Struct"),
					OutputType: proto.String(".google.protobuf.Struct"),
				},
				{
					Name:       proto.String("GetLiveness"),
					InputType:  proto.String(".google.protobuf.Empty"),
					OutputType: proto.String(".google.protobuf.Struct"),
				},
			},
		}},
	}
	file, err := protodesc.NewFile(fd, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("goecharger: build service descriptor: %v", err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
		panic(fmt.Sprintf("goecharger: register service descriptor: %v", err))
	}
}

// EvChargerServiceServer is the server API for EvChargerService.
type EvChargerServiceServer interface {
	GetAttributes(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetAttribute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLiveness(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// EvChargerServiceDesc describes EvChargerService for grpc.Server.RegisterService.
var EvChargerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceFullName,
	HandlerType: (*EvChargerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAttributes", Handler: getAttributesHandler},
		{MethodName: "SetAttribute", Handler: setAttributeHandler},
		{MethodName: "GetLiveness", Handler: getLivenessHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceFile,
}

func getAttributesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvChargerServiceServer).GetAttributes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetAttributes}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvChargerServiceServer).GetAttributes(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func setAttributeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvChargerServiceServer).SetAttribute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSetAttribute}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvChargerServiceServer).SetAttribute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getLivenessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvChargerServiceServer).GetLiveness(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetLiveness}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvChargerServiceServer).GetLiveness(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type service struct {
	session *Session
}

func RegisterEvChargerService(server *grpc.Server, session *Session) {
	server.RegisterService(&EvChargerServiceDesc, &service{session: session})
}

func (s *service) GetAttributes(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.session == nil {
		return nil, status.Error(codes.FailedPrecondition, "goecharger session not started")
	}
	out, err := structpb.NewStruct(attributesDocument(s.session))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode attributes: %v", err)
	}
	return out, nil
}

func (s *service) SetAttribute(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.session == nil {
		return nil, status.Error(codes.FailedPrecondition, "goecharger session not started")
	}
	fields := req.GetFields()
	path := fields["path"].GetStringValue()
	if path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}
	value, ok := fields["value"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "value is required")
	}

	bus := s.session.Bus()
	if err := bus.Write(path, value.AsInterface()); err != nil {
		return nil, status.Error(writeErrorCode(err), err.Error())
	}

	current, _ := bus.Get(path)
	out, err := structpb.NewStruct(map[string]any{
		"path":  path,
		"value": current,
		"text":  bus.Text(path),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode attribute: %v", err)
	}
	return out, nil
}

func (s *service) GetLiveness(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.session == nil {
		return nil, status.Error(codes.FailedPrecondition, "goecharger session not started")
	}
	out, err := structpb.NewStruct(livenessDocument(s.session))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode liveness: %v", err)
	}
	return out, nil
}

// attributesDocument is the service name plus every bus entry. Values stay
// within the types structpb accepts.
func attributesDocument(session *Session) map[string]any {
	entries := session.Bus().Entries()
	attrs := make([]any, 0, len(entries))
	for _, e := range entries {
		attrs = append(attrs, map[string]any{
			"path":     e.Path,
			"value":    e.Value,
			"text":     e.Text,
			"writable": e.Writable,
		})
	}
	return map[string]any{
		"service":    ServiceName(session.Identity().DeviceInstance),
		"attributes": attrs,
	}
}

func livenessDocument(session *Session) map[string]any {
	report := session.Liveness()
	lastUpdate := ""
	if !report.LastUpdate.IsZero() {
		lastUpdate = report.LastUpdate.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"last_update":  lastUpdate,
		"power_w":      report.PowerW,
		"update_index": int(report.UpdateIndex),
		"successes":    float64(report.Successes),
		"failures":     float64(report.Failures),
		"last_error":   report.LastError,
	}
}

func writeErrorCode(err error) codes.Code {
	switch {
	case errors.Is(err, devbus.ErrUnknownPath):
		return codes.NotFound
	case errors.Is(err, devbus.ErrNotWritable):
		return codes.PermissionDenied
	case errors.Is(err, devbus.ErrValueType):
		return codes.InvalidArgument
	case errors.Is(err, devbus.ErrWriteRejected):
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// EvChargerClient calls EvChargerService.
type EvChargerClient struct {
	cc grpc.ClientConnInterface
}

func NewEvChargerClient(cc grpc.ClientConnInterface) *EvChargerClient {
	return &EvChargerClient{cc: cc}
}

func (c *EvChargerClient) GetAttributes(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetAttributes, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EvChargerClient) SetAttribute(ctx context.Context, path string, value any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"path": path, "value": value})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodSetAttribute, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EvChargerClient) GetLiveness(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetLiveness, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
