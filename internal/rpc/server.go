package rpc

import (
	"context"
	"crypto/ed25519"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hitoshi/coestate/internal/identity"
)

type callerKey struct{}

// CallerFromContext はServerAuthが検証した呼び出し元のプリンシパルを返す。
func CallerFromContext(ctx context.Context) identity.Principal {
	if p, ok := ctx.Value(callerKey{}).(identity.Principal); ok {
		return p
	}
	return identity.AnonymousPrincipal()
}

// ServerAuth はリクエストの送信者署名を検証し、応答にルート鍵の証明を付けるサーバー側の処理。
// 開発用のバックエンドとテストで使う。
type ServerAuth struct {
	rootKey  ed25519.PrivateKey
	canister string
	now      func() time.Time
}

// NewServerAuth はServerAuthを生成する。rootKeyがnilの場合は証明を付けない。
// canisterが空でない場合、宛先キャニスターが一致しないリクエストを拒否する。
func NewServerAuth(rootKey ed25519.PrivateKey, canister string) *ServerAuth {
	return &ServerAuth{rootKey: rootKey, canister: canister, now: time.Now}
}

// UnaryInterceptor はgrpc.UnaryServerInterceptorを返す。
func (s *ServerAuth) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		caller, err := s.authenticate(ctx, info.FullMethod, req)
		if err != nil {
			return nil, err
		}

		resp, err := handler(context.WithValue(ctx, callerKey{}, caller), req)
		if err != nil || s.rootKey == nil {
			return resp, err
		}

		body, err := marshalDeterministic(resp)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "marshal response: %v", err)
		}
		sig := ed25519.Sign(s.rootKey, ResponseDigest(info.FullMethod, body))
		if err := grpc.SetHeader(ctx, metadata.Pairs(HeaderCertificate, encodeBytes(sig))); err != nil {
			return nil, status.Errorf(codes.Internal, "set certificate: %v", err)
		}
		return resp, nil
	}
}

func (s *ServerAuth) authenticate(ctx context.Context, method string, req any) (identity.Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	get := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if s.canister != "" && get(HeaderCanister) != s.canister {
		return identity.Principal{}, status.Error(codes.NotFound, "canister not found")
	}

	expiry, err := strconv.ParseInt(get(HeaderExpiry), 10, 64)
	if err != nil {
		return identity.Principal{}, status.Error(codes.InvalidArgument, "missing ingress expiry")
	}
	if s.now().UnixNano() > expiry {
		return identity.Principal{}, status.Error(codes.DeadlineExceeded, "request expired")
	}

	sender, err := identity.ParsePrincipal(get(HeaderSender))
	if err != nil {
		return identity.Principal{}, status.Error(codes.Unauthenticated, "invalid sender")
	}
	if sender.IsAnonymous() {
		return sender, nil
	}

	pub, err := decodeBytes(get(HeaderPublicKey))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return identity.Principal{}, status.Error(codes.Unauthenticated, "invalid sender public key")
	}
	sig, err := decodeBytes(get(HeaderSignature))
	if err != nil {
		return identity.Principal{}, status.Error(codes.Unauthenticated, "invalid sender signature")
	}
	body, err := marshalDeterministic(req)
	if err != nil {
		return identity.Principal{}, status.Error(codes.InvalidArgument, "unsupported request")
	}
	if !ed25519.Verify(pub, RequestDigest(method, get(HeaderRequestID), expiry, body), sig) {
		return identity.Principal{}, status.Error(codes.Unauthenticated, "signature verification failed")
	}

	// 委任が無い場合、送信者は公開鍵から導出したプリンシパルでなければならない。
	if get(HeaderDelegation) == "" {
		self, err := identity.SelfAuthenticatingPrincipal(ed25519.PublicKey(pub))
		if err != nil || self != sender {
			return identity.Principal{}, status.Error(codes.PermissionDenied, "sender does not match public key")
		}
	}
	return sender, nil
}
