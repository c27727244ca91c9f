// Package api is the gateway's action surface: the nfsgw.v1.Gateway gRPC
// service and the health/status/metrics HTTP endpoints. Messages are
// google.protobuf.Struct values.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "nfsgw.v1.Gateway"

type GatewayServer interface {
	// CreateShare {name, size} -> {message, path, ip}
	CreateShare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

	// ListShares {} -> {exports} (yaml)
	ListShares(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

	// DeleteShare {name} -> {message}
	DeleteShare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

	// Decommission {} -> {results}
	Decommission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

	Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type method func(GatewayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn method) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return fn(srv.(GatewayServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}

			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv.(GatewayServer), ctx, req.(*structpb.Struct))
			}

			return interceptor(ctx, in, info, handler)
		},
	}
}

var Gateway_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateShare", GatewayServer.CreateShare),
		unary("ListShares", GatewayServer.ListShares),
		unary("DeleteShare", GatewayServer.DeleteShare),
		unary("Decommission", GatewayServer.Decommission),
		unary("Status", GatewayServer.Status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nfsgw/v1/gateway",
}

func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&Gateway_ServiceDesc, srv)
}

// Client calls a remote gateway.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) call(ctx context.Context, name string, in map[string]interface{}, opts ...grpc.CallOption) (map[string]interface{}, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	err = c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, req, out, opts...)
	if err != nil {
		return nil, err
	}

	return out.AsMap(), nil
}

func (c *Client) CreateShare(ctx context.Context, name string, sizeGiB int) (map[string]interface{}, error) {
	return c.call(ctx, "CreateShare", map[string]interface{}{"name": name, "size": sizeGiB})
}

func (c *Client) ListShares(ctx context.Context) (map[string]interface{}, error) {
	return c.call(ctx, "ListShares", map[string]interface{}{})
}

func (c *Client) DeleteShare(ctx context.Context, name string) (map[string]interface{}, error) {
	return c.call(ctx, "DeleteShare", map[string]interface{}{"name": name})
}

func (c *Client) Decommission(ctx context.Context) (map[string]interface{}, error) {
	return c.call(ctx, "Decommission", map[string]interface{}{})
}

func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	return c.call(ctx, "Status", map[string]interface{}{})
}
