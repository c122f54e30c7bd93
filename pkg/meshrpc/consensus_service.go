package meshrpc

import (
	"context"

	"google.golang.org/grpc"
)

const consensusServiceName = "blueflame.Consensus"

// ConsensusServer is implemented by pkg/mesh/consensus to serve vote
// collection for the protocol of spec.md §4.7.
type ConsensusServer interface {
	ProposeCommit(ctx context.Context, req *ConsensusRequestMsg) (*Ack, error)
	SubmitVote(ctx context.Context, req *ConsensusVoteMsg) (*Ack, error)
}

var consensusServiceDesc = grpc.ServiceDesc{
	ServiceName: consensusServiceName,
	HandlerType: (*ConsensusServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProposeCommit",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(ConsensusRequestMsg)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(ConsensusServer).ProposeCommit(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + consensusServiceName + "/ProposeCommit"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(ConsensusServer).ProposeCommit(ctx, req.(*ConsensusRequestMsg))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "SubmitVote",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(ConsensusVoteMsg)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(ConsensusServer).SubmitVote(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + consensusServiceName + "/SubmitVote"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(ConsensusServer).SubmitVote(ctx, req.(*ConsensusVoteMsg))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Metadata: "blueflame/consensus.proto",
}

// RegisterConsensusServer registers srv on s using the JSON wire codec.
func RegisterConsensusServer(s *grpc.Server, srv ConsensusServer) {
	s.RegisterService(&consensusServiceDesc, srv)
}

// ConsensusClient calls a peer's Consensus service.
type ConsensusClient struct {
	conn *grpc.ClientConn
}

// NewConsensusClient wraps an established connection.
func NewConsensusClient(conn *grpc.ClientConn) *ConsensusClient {
	return &ConsensusClient{conn: conn}
}

func (c *ConsensusClient) ProposeCommit(ctx context.Context, req *ConsensusRequestMsg) (*Ack, error) {
	reply := new(Ack)
	if err := c.conn.Invoke(ctx, "/"+consensusServiceName+"/ProposeCommit", req, reply, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *ConsensusClient) SubmitVote(ctx context.Context, req *ConsensusVoteMsg) (*Ack, error) {
	reply := new(Ack)
	if err := c.conn.Invoke(ctx, "/"+consensusServiceName+"/SubmitVote", req, reply, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return reply, nil
}
