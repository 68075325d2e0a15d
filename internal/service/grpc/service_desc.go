package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName: полное имя gRPC-сервиса.
const ServiceName = "payflow.v1.OrderService"

const (
	MethodCreateOrder        = "/" + ServiceName + "/CreateOrder"
	MethodGetOrder           = "/" + ServiceName + "/GetOrder"
	MethodListOrders         = "/" + ServiceName + "/ListOrders"
	MethodCancelOrder        = "/" + ServiceName + "/CancelOrder"
	MethodUpdateOrderStatus  = "/" + ServiceName + "/UpdateOrderStatus"
	MethodRenewSubscriptions = "/" + ServiceName + "/RenewSubscriptions"
	MethodListBankAccounts   = "/" + ServiceName + "/ListBankAccounts"
)

// OrderServiceServer: серверная часть payflow.v1.OrderService.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error)
	UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*UpdateOrderStatusResponse, error)
	RenewSubscriptions(context.Context, *RenewSubscriptionsRequest) (*RenewSubscriptionsResponse, error)
	ListBankAccounts(context.Context, *ListBankAccountsRequest) (*ListBankAccountsResponse, error)
}

// RegisterOrderServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// unaryHandler строит grpc.MethodHandler для метода с запросом Req.
func unaryHandler[Req any, Resp any](
	fullMethod string,
	call func(OrderServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderServiceDesc описывает сервис без сгенерированного protobuf-кода: сообщения идут через JSON-кодек.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateOrder",
			Handler:    unaryHandler(MethodCreateOrder, OrderServiceServer.CreateOrder),
		},
		{
			MethodName: "GetOrder",
			Handler:    unaryHandler(MethodGetOrder, OrderServiceServer.GetOrder),
		},
		{
			MethodName: "ListOrders",
			Handler:    unaryHandler(MethodListOrders, OrderServiceServer.ListOrders),
		},
		{
			MethodName: "CancelOrder",
			Handler:    unaryHandler(MethodCancelOrder, OrderServiceServer.CancelOrder),
		},
		{
			MethodName: "UpdateOrderStatus",
			Handler:    unaryHandler(MethodUpdateOrderStatus, OrderServiceServer.UpdateOrderStatus),
		},
		{
			MethodName: "RenewSubscriptions",
			Handler:    unaryHandler(MethodRenewSubscriptions, OrderServiceServer.RenewSubscriptions),
		},
		{
			MethodName: "ListBankAccounts",
			Handler:    unaryHandler(MethodListBankAccounts, OrderServiceServer.ListBankAccounts),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payflow/v1/order_service.json",
}

// OrderServiceClient: клиент payflow.v1.OrderService поверх JSON-кодека.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient создаёт клиента. Кодек выбирается автоматически для каждого вызова.
func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	return invoke[CreateOrderResponse](ctx, c.cc, MethodCreateOrder, in, opts)
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c.cc, MethodGetOrder, in, opts)
}

func (c *OrderServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c.cc, MethodListOrders, in, opts)
}

func (c *OrderServiceClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*CancelOrderResponse, error) {
	return invoke[CancelOrderResponse](ctx, c.cc, MethodCancelOrder, in, opts)
}

func (c *OrderServiceClient) UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*UpdateOrderStatusResponse, error) {
	return invoke[UpdateOrderStatusResponse](ctx, c.cc, MethodUpdateOrderStatus, in, opts)
}

func (c *OrderServiceClient) RenewSubscriptions(ctx context.Context, in *RenewSubscriptionsRequest, opts ...grpc.CallOption) (*RenewSubscriptionsResponse, error) {
	return invoke[RenewSubscriptionsResponse](ctx, c.cc, MethodRenewSubscriptions, in, opts)
}

func (c *OrderServiceClient) ListBankAccounts(ctx context.Context, in *ListBankAccountsRequest, opts ...grpc.CallOption) (*ListBankAccountsResponse, error) {
	return invoke[ListBankAccountsResponse](ctx, c.cc, MethodListBankAccounts, in, opts)
}
