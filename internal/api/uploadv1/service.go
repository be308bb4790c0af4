package uploadv1

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "gophdrop.v1.UploadService"

const (
	InitiateUploadMethod  = "/" + ServiceName + "/InitiateUpload"
	CompleteUploadMethod  = "/" + ServiceName + "/CompleteUpload"
	AbortUploadMethod     = "/" + ServiceName + "/AbortUpload"
	GetUploadStatusMethod = "/" + ServiceName + "/GetUploadStatus"
	GetDownloadURLMethod  = "/" + ServiceName + "/GetDownloadUrl"
)

// UploadServiceServer is implemented by the transport layer.
type UploadServiceServer interface {
	InitiateUpload(context.Context, *InitiateUploadRequest) (*InitiateUploadResponse, error)
	CompleteUpload(context.Context, *CompleteUploadRequest) (*CompleteUploadResponse, error)
	AbortUpload(context.Context, *AbortUploadRequest) (*AbortUploadResponse, error)
	GetUploadStatus(context.Context, *GetUploadStatusRequest) (*GetUploadStatusResponse, error)
	GetDownloadURL(context.Context, *GetDownloadURLRequest) (*GetDownloadURLResponse, error)
}

func RegisterUploadServiceServer(s grpc.ServiceRegistrar, srv UploadServiceServer) {
	s.RegisterService(&UploadServiceDesc, srv)
}

// unary builds a method handler decoding into a fresh Req.
func unary[Req any, Resp any](fullMethod string, call func(UploadServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(UploadServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(UploadServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var UploadServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UploadServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "InitiateUpload",
			Handler:    unary(InitiateUploadMethod, UploadServiceServer.InitiateUpload),
		},
		{
			MethodName: "CompleteUpload",
			Handler:    unary(CompleteUploadMethod, UploadServiceServer.CompleteUpload),
		},
		{
			MethodName: "AbortUpload",
			Handler:    unary(AbortUploadMethod, UploadServiceServer.AbortUpload),
		},
		{
			MethodName: "GetUploadStatus",
			Handler:    unary(GetUploadStatusMethod, UploadServiceServer.GetUploadStatus),
		},
		{
			MethodName: "GetDownloadUrl",
			Handler:    unary(GetDownloadURLMethod, UploadServiceServer.GetDownloadURL),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gophdrop/v1/upload.proto",
}

// UploadServiceClient calls the service over a JSON-coded connection.
type UploadServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewUploadServiceClient(cc grpc.ClientConnInterface) *UploadServiceClient {
	return &UploadServiceClient{cc: cc}
}

func (c *UploadServiceClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *UploadServiceClient) InitiateUpload(ctx context.Context, in *InitiateUploadRequest, opts ...grpc.CallOption) (*InitiateUploadResponse, error) {
	out := new(InitiateUploadResponse)
	if err := c.invoke(ctx, InitiateUploadMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *UploadServiceClient) CompleteUpload(ctx context.Context, in *CompleteUploadRequest, opts ...grpc.CallOption) (*CompleteUploadResponse, error) {
	out := new(CompleteUploadResponse)
	if err := c.invoke(ctx, CompleteUploadMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *UploadServiceClient) AbortUpload(ctx context.Context, in *AbortUploadRequest, opts ...grpc.CallOption) (*AbortUploadResponse, error) {
	out := new(AbortUploadResponse)
	if err := c.invoke(ctx, AbortUploadMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *UploadServiceClient) GetUploadStatus(ctx context.Context, in *GetUploadStatusRequest, opts ...grpc.CallOption) (*GetUploadStatusResponse, error) {
	out := new(GetUploadStatusResponse)
	if err := c.invoke(ctx, GetUploadStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *UploadServiceClient) GetDownloadURL(ctx context.Context, in *GetDownloadURLRequest, opts ...grpc.CallOption) (*GetDownloadURLResponse, error) {
	out := new(GetDownloadURLResponse)
	if err := c.invoke(ctx, GetDownloadURLMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
