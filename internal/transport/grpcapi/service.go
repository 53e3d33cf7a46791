// Package grpcapi — внешний gRPC API заказов. Сообщения — google.protobuf.Struct
// той же формы, что и тела внешнего REST API.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName: полное имя сервиса.
const ServiceName = "fulfillment.v1.ExternalOrderService"

const (
	methodCreateOrder = "/" + ServiceName + "/CreateOrder"
	methodGetOrder    = "/" + ServiceName + "/GetOrder"
	methodListOrders  = "/" + ServiceName + "/ListOrders"
)

// ExternalOrderServer: серверная часть сервиса.
type ExternalOrderServer interface {
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(ExternalOrderServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler(fullMethod string, call unaryCall) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ExternalOrderServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ExternalOrderServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc описывает сервис для grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExternalOrderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler(methodCreateOrder, ExternalOrderServer.CreateOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(methodGetOrder, ExternalOrderServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(methodListOrders, ExternalOrderServer.ListOrders)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fulfillment/v1/external_order_service.proto",
}

// RegisterExternalOrderServer регистрирует реализацию на сервере.
func RegisterExternalOrderServer(s grpc.ServiceRegistrar, srv ExternalOrderServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client: клиент сервиса.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient создаёт клиента поверх соединения.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder создаёт заказ.
func (c *Client) CreateOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCreateOrder, in, opts...)
}

// GetOrder возвращает заказ по полю id.
func (c *Client) GetOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetOrder, in, opts...)
}

// ListOrders возвращает страницу заказов.
func (c *Client) ListOrders(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListOrders, in, opts...)
}
