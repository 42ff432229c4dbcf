// Package backend は不動産持分バックエンドのgRPCサービス定義とクライアントを提供する。
//
// 引数はstructpb.ListValue、戻り値はstructpb.Valueで運ぶ。
// 128ビット整数は10進文字列で表現する。protoc によるコード生成は使わない。
package backend

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName はgRPCサービスの完全修飾名。
const ServiceName = "coestate.backend.v1.Backend"

// バックエンドのメソッド名。
const (
	MethodGetAllProperties            = "get_all_properties"
	MethodGetUserRegisteredProperties = "get_user_registered_properties"
	MethodGetUserInvestedProperties   = "get_user_invested_properties"
	MethodGetUserData                 = "get_user_data"
	MethodGetMyLeases                 = "get_my_leases"
	MethodGetAllLeases                = "get_all_leases"
	MethodRegisterProperty            = "register_property"
	MethodRegisterLease               = "register_lease"
	MethodBuyShare                    = "buy_share"
	MethodRegisterUser                = "register_user"
	MethodLogout                      = "logout"
)

// Methods はサービスが公開する全メソッド。
var Methods = []string{
	MethodGetAllProperties,
	MethodGetUserRegisteredProperties,
	MethodGetUserInvestedProperties,
	MethodGetUserData,
	MethodGetMyLeases,
	MethodGetAllLeases,
	MethodRegisterProperty,
	MethodRegisterLease,
	MethodBuyShare,
	MethodRegisterUser,
	MethodLogout,
}

// FullMethod はgRPCのフルメソッド名を返す。
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// BackendServer はバックエンドサービスのサーバーAPI。
// 全メソッドが同じ型を取るため、メソッド名で振り分ける単一の入口を持つ。
type BackendServer interface {
	Call(ctx context.Context, method string, args *structpb.ListValue) (*structpb.Value, error)
}

// UnimplementedBackendServer は埋め込み用のデフォルト実装。
type UnimplementedBackendServer struct{}

func (UnimplementedBackendServer) Call(_ context.Context, method string, _ *structpb.ListValue) (*structpb.Value, error) {
	return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

// RegisterBackendServer はサービスをgRPCサーバーに登録する。
func RegisterBackendServer(s grpc.ServiceRegistrar, srv BackendServer) {
	s.RegisterService(&Backend_ServiceDesc, srv)
}

// methodHandler はmethodをBackendServer.Callに振り分けるハンドラーを生成する。
func methodHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.ListValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(BackendServer).Call(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(BackendServer).Call(ctx, method, req.(*structpb.ListValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func methodDescs() []grpc.MethodDesc {
	descs := make([]grpc.MethodDesc, 0, len(Methods))
	for _, m := range Methods {
		descs = append(descs, grpc.MethodDesc{MethodName: m, Handler: methodHandler(m)})
	}
	return descs
}

// Backend_ServiceDesc はBackendサービスのgrpc.ServiceDesc。
var Backend_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BackendServer)(nil),
	Methods:     methodDescs(),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "coestate/backend/v1/backend.proto",
}
