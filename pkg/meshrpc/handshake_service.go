package meshrpc

import (
	"context"

	"google.golang.org/grpc"
)

const handshakeServiceName = "blueflame.NodeHandshake"

// NodeHandshakeServer is implemented by pkg/mesh/handshake to serve the
// four-step attestation protocol of spec.md §4.5.
type NodeHandshakeServer interface {
	InitiateHandshake(ctx context.Context, req *HandshakeRequest) (*Challenge, error)
	RespondToChallenge(ctx context.Context, req *ChallengeResponse) (*HandshakeComplete, error)
	PropagateQuarantine(ctx context.Context, req *QuarantineNotice) (*Ack, error)
}

var nodeHandshakeServiceDesc = grpc.ServiceDesc{
	ServiceName: handshakeServiceName,
	HandlerType: (*NodeHandshakeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "InitiateHandshake",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(HandshakeRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(NodeHandshakeServer).InitiateHandshake(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + handshakeServiceName + "/InitiateHandshake"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(NodeHandshakeServer).InitiateHandshake(ctx, req.(*HandshakeRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "RespondToChallenge",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(ChallengeResponse)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(NodeHandshakeServer).RespondToChallenge(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + handshakeServiceName + "/RespondToChallenge"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(NodeHandshakeServer).RespondToChallenge(ctx, req.(*ChallengeResponse))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "PropagateQuarantine",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(QuarantineNotice)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(NodeHandshakeServer).PropagateQuarantine(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + handshakeServiceName + "/PropagateQuarantine"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(NodeHandshakeServer).PropagateQuarantine(ctx, req.(*QuarantineNotice))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Metadata: "blueflame/handshake.proto",
}

// RegisterNodeHandshakeServer registers srv on s using the JSON wire codec.
func RegisterNodeHandshakeServer(s *grpc.Server, srv NodeHandshakeServer) {
	s.RegisterService(&nodeHandshakeServiceDesc, srv)
}

// NodeHandshakeClient calls a peer's NodeHandshake service.
type NodeHandshakeClient struct {
	conn *grpc.ClientConn
}

// NewNodeHandshakeClient wraps an established connection.
func NewNodeHandshakeClient(conn *grpc.ClientConn) *NodeHandshakeClient {
	return &NodeHandshakeClient{conn: conn}
}

func (c *NodeHandshakeClient) InitiateHandshake(ctx context.Context, req *HandshakeRequest) (*Challenge, error) {
	reply := new(Challenge)
	if err := c.conn.Invoke(ctx, "/"+handshakeServiceName+"/InitiateHandshake", req, reply, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *NodeHandshakeClient) RespondToChallenge(ctx context.Context, req *ChallengeResponse) (*HandshakeComplete, error) {
	reply := new(HandshakeComplete)
	if err := c.conn.Invoke(ctx, "/"+handshakeServiceName+"/RespondToChallenge", req, reply, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *NodeHandshakeClient) PropagateQuarantine(ctx context.Context, req *QuarantineNotice) (*Ack, error) {
	reply := new(Ack)
	if err := c.conn.Invoke(ctx, "/"+handshakeServiceName+"/PropagateQuarantine", req, reply, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return reply, nil
}
