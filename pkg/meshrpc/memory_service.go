package meshrpc

import (
	"context"

	"google.golang.org/grpc"
)

const memoryExchangeServiceName = "blueflame.MemoryExchange"

// MemoryExchangeServer serves the sketch-only MemoryExchange protocol of
// spec.md §6: a server-streaming fragment feed for a requested topic.
// Detailed protocol is explicitly out of scope; this wires the transport
// shape without implementing fragment redaction/chunking policy.
type MemoryExchangeServer interface {
	RequestFragments(req *FragmentRequest, stream MemoryExchange_RequestFragmentsServer) error
}

// MemoryExchange_RequestFragmentsServer is the server-side handle for a
// streaming RequestFragments call.
type MemoryExchange_RequestFragmentsServer interface {
	Send(*Fragment) error
	grpc.ServerStream
}

type memoryExchangeRequestFragmentsServer struct {
	grpc.ServerStream
}

func (s *memoryExchangeRequestFragmentsServer) Send(f *Fragment) error {
	return s.ServerStream.SendMsg(f)
}

var memoryExchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: memoryExchangeServiceName,
	HandlerType: (*MemoryExchangeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "RequestFragments",
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(FragmentRequest)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(MemoryExchangeServer).RequestFragments(req, &memoryExchangeRequestFragmentsServer{stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: "blueflame/memory_exchange.proto",
}

// RegisterMemoryExchangeServer registers srv on s using the JSON wire codec.
func RegisterMemoryExchangeServer(s *grpc.Server, srv MemoryExchangeServer) {
	s.RegisterService(&memoryExchangeServiceDesc, srv)
}

// MemoryExchangeClient calls a peer's MemoryExchange service.
type MemoryExchangeClient struct {
	conn *grpc.ClientConn
}

// NewMemoryExchangeClient wraps an established connection.
func NewMemoryExchangeClient(conn *grpc.ClientConn) *MemoryExchangeClient {
	return &MemoryExchangeClient{conn: conn}
}

// MemoryExchange_RequestFragmentsClient is the client-side handle for a
// streaming RequestFragments call.
type MemoryExchange_RequestFragmentsClient interface {
	Recv() (*Fragment, error)
	grpc.ClientStream
}

type memoryExchangeRequestFragmentsClient struct {
	grpc.ClientStream
}

func (c *memoryExchangeRequestFragmentsClient) Recv() (*Fragment, error) {
	f := new(Fragment)
	if err := c.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *MemoryExchangeClient) RequestFragments(ctx context.Context, req *FragmentRequest) (MemoryExchange_RequestFragmentsClient, error) {
	stream, err := c.conn.NewStream(ctx, &memoryExchangeServiceDesc.Streams[0], "/"+memoryExchangeServiceName+"/RequestFragments", grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	cs := &memoryExchangeRequestFragmentsClient{stream}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return cs, nil
}
