package rpc

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/metrics"
	"github.com/hitoshi/coestate/internal/model"
)

// methodName は "/service/method" からメソッド名部分を返す。
func methodName(fullMethod string) string {
	return path.Base(fullMethod)
}

// rateLimitInterceptor は呼び出し前にトークンバケットの空きを待つ。
// limiterがnilの場合は制限しない。
func rateLimitInterceptor(limiter *rate.Limiter) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// metricsInterceptor はメソッド別の結果コードとレイテンシを記録する。
func metricsInterceptor(mc metrics.MetricsCollector) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		mc.RecordRPCCall(methodName(method), status.Code(err).String(), time.Since(start))
		return err
	}
}

// envelopeInterceptor はリクエストに送信者署名を付与し、応答の証明を検証する。
// rootKeyがnilの場合は証明を検証しない。
func envelopeInterceptor(id identity.Identity, canister string, ttl time.Duration, now func() time.Time, rootKey ed25519.PublicKey) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		body, err := marshalDeterministic(req)
		if err != nil {
			return err
		}

		requestID := uuid.NewString()
		expiry := now().Add(ttl).UnixNano()
		principal := id.Principal()

		kv := []string{
			HeaderRequestID, requestID,
			HeaderExpiry, strconv.FormatInt(expiry, 10),
			HeaderSender, principal.String(),
		}
		if canister != "" {
			kv = append(kv, HeaderCanister, canister)
		}
		if !principal.IsAnonymous() {
			sig, err := id.Sign(RequestDigest(method, requestID, expiry, body))
			if err != nil {
				return fmt.Errorf("sign request: %w", err)
			}
			kv = append(kv,
				HeaderPublicKey, encodeBytes(id.PublicKey()),
				HeaderSignature, encodeBytes(sig),
			)
			if d := id.Delegation(); d != "" {
				kv = append(kv, HeaderDelegation, d)
			}
		}
		ctx = metadata.AppendToOutgoingContext(ctx, kv...)

		var header metadata.MD
		if err := invoker(ctx, method, req, reply, cc, append(opts, grpc.Header(&header))...); err != nil {
			return err
		}
		if rootKey == nil {
			return nil
		}
		return verifyCertificate(rootKey, method, reply, header)
	}
}

func verifyCertificate(rootKey ed25519.PublicKey, method string, reply any, header metadata.MD) error {
	values := header.Get(HeaderCertificate)
	if len(values) == 0 {
		return model.ErrUncertifiedResponse
	}
	sig, err := decodeBytes(values[0])
	if err != nil {
		return model.ErrUncertifiedResponse
	}
	body, err := marshalDeterministic(reply)
	if err != nil {
		return err
	}
	if !ed25519.Verify(rootKey, ResponseDigest(method, body), sig) {
		return model.ErrUncertifiedResponse
	}
	return nil
}
