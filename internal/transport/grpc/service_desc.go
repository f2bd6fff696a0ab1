package grpcx

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "roombus.v1.RoomBus"

// RoomBusServer: серверная сторона roombus.v1.RoomBus.
type RoomBusServer interface {
	CreateRoom(context.Context, *CreateRoomRequest) (*RoomResponse, error)
	GetRoom(context.Context, *GetRoomRequest) (*RoomResponse, error)
	ListRooms(context.Context, *ListRoomsRequest) (*ListRoomsResponse, error)
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
	ReadSince(context.Context, *ReadSinceRequest) (*ReadSinceResponse, error)
	Join(context.Context, *PresenceRequest) (*JoinResponse, error)
	Heartbeat(context.Context, *PresenceRequest) (*HeartbeatResponse, error)
	Leave(context.Context, *PresenceRequest) (*LeaveResponse, error)
	ListPresent(context.Context, *PresenceRequest) (*ListPresentResponse, error)
	Subscribe(*SubscribeRequest, grpc.ServerStreamingServer[SubscribeEvent]) error
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(RoomBusServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RoomBusServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RoomBusServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RoomBusServer).Subscribe(in, &grpc.GenericServerStream[SubscribeRequest, SubscribeEvent]{ServerStream: stream})
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RoomBusServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateRoom", RoomBusServer.CreateRoom),
		unary("GetRoom", RoomBusServer.GetRoom),
		unary("ListRooms", RoomBusServer.ListRooms),
		unary("Publish", RoomBusServer.Publish),
		unary("ReadSince", RoomBusServer.ReadSince),
		unary("Join", RoomBusServer.Join),
		unary("Heartbeat", RoomBusServer.Heartbeat),
		unary("Leave", RoomBusServer.Leave),
		unary("ListPresent", RoomBusServer.ListPresent),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "roombus/v1/roombus.json",
}

func Register(s grpc.ServiceRegistrar, srv RoomBusServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// RoomBusClient: клиентская сторона. Вызовы идут с content-subtype json.
type RoomBusClient interface {
	CreateRoom(ctx context.Context, in *CreateRoomRequest, opts ...grpc.CallOption) (*RoomResponse, error)
	GetRoom(ctx context.Context, in *GetRoomRequest, opts ...grpc.CallOption) (*RoomResponse, error)
	ListRooms(ctx context.Context, in *ListRoomsRequest, opts ...grpc.CallOption) (*ListRoomsResponse, error)
	Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishResponse, error)
	ReadSince(ctx context.Context, in *ReadSinceRequest, opts ...grpc.CallOption) (*ReadSinceResponse, error)
	Join(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*JoinResponse, error)
	Heartbeat(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	Leave(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*LeaveResponse, error)
	ListPresent(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*ListPresentResponse, error)
	Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[SubscribeEvent], error)
}

type roomBusClient struct {
	cc grpc.ClientConnInterface
}

func NewRoomBusClient(cc grpc.ClientConnInterface) RoomBusClient {
	return &roomBusClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *roomBusClient) CreateRoom(ctx context.Context, in *CreateRoomRequest, opts ...grpc.CallOption) (*RoomResponse, error) {
	return invoke[RoomResponse](ctx, c.cc, "CreateRoom", in, opts)
}

func (c *roomBusClient) GetRoom(ctx context.Context, in *GetRoomRequest, opts ...grpc.CallOption) (*RoomResponse, error) {
	return invoke[RoomResponse](ctx, c.cc, "GetRoom", in, opts)
}

func (c *roomBusClient) ListRooms(ctx context.Context, in *ListRoomsRequest, opts ...grpc.CallOption) (*ListRoomsResponse, error) {
	return invoke[ListRoomsResponse](ctx, c.cc, "ListRooms", in, opts)
}

func (c *roomBusClient) Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishResponse, error) {
	return invoke[PublishResponse](ctx, c.cc, "Publish", in, opts)
}

func (c *roomBusClient) ReadSince(ctx context.Context, in *ReadSinceRequest, opts ...grpc.CallOption) (*ReadSinceResponse, error) {
	return invoke[ReadSinceResponse](ctx, c.cc, "ReadSince", in, opts)
}

func (c *roomBusClient) Join(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*JoinResponse, error) {
	return invoke[JoinResponse](ctx, c.cc, "Join", in, opts)
}

func (c *roomBusClient) Heartbeat(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, "Heartbeat", in, opts)
}

func (c *roomBusClient) Leave(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*LeaveResponse, error) {
	return invoke[LeaveResponse](ctx, c.cc, "Leave", in, opts)
}

func (c *roomBusClient) ListPresent(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*ListPresentResponse, error) {
	return invoke[ListPresentResponse](ctx, c.cc, "ListPresent", in, opts)
}

func (c *roomBusClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[SubscribeEvent], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Subscribe"), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeRequest, SubscribeEvent]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
