// Package extractservice declares the gRPC service used by the HTTP
// front to hand extractions to worker nodes. Requests and responses
// are JSON documents carried in BytesValue messages.
package extractservice

import (
	"github.com/golang/protobuf/ptypes/wrappers"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
)

const (
	ServiceName   = "vex.Extractor"
	extractMethod = "/vex.Extractor/Extract"
)

type ExtractorServer interface {
	Extract(ctx context.Context, in *wrappers.BytesValue) (*wrappers.BytesValue, error)
}

func RegisterExtractorServer(s *grpc.Server, srv ExtractorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func extractHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrappers.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractorServer).Extract(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: extractMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExtractorServer).Extract(ctx, req.(*wrappers.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExtractorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Extract",
			Handler:    extractHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "extractservice",
}

type ExtractorClient interface {
	Extract(ctx context.Context, in *wrappers.BytesValue, opts ...grpc.CallOption) (*wrappers.BytesValue, error)
}

type extractorClient struct {
	cc grpc.ClientConnInterface
}

func NewExtractorClient(cc grpc.ClientConnInterface) ExtractorClient {
	return &extractorClient{cc}
}

func (c *extractorClient) Extract(ctx context.Context, in *wrappers.BytesValue, opts ...grpc.CallOption) (*wrappers.BytesValue, error) {
	out := new(wrappers.BytesValue)
	if err := c.cc.Invoke(ctx, extractMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
