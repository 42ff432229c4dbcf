package rpc

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/metrics"
	"github.com/hitoshi/coestate/internal/model"
)

// ErrBindingClosed は閉じたBindingで呼び出しを行ったことを示す。
var ErrBindingClosed = errors.New("binding is closed")

// Binding は一つのアイデンティティとセッション世代に束縛されたクライアント接続。
// grpc.ClientConnInterfaceを実装する。
type Binding struct {
	conn       *grpc.ClientConn
	identity   identity.Identity
	generation uint64
	trust      TrustMode
	warning    *model.TrustBootstrapWarning
	current    func() uint64
	metrics    metrics.MetricsCollector

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	done     chan struct{}
}

// Identity はBindingが署名に使うアイデンティティを返す。
func (b *Binding) Identity() identity.Identity { return b.identity }

// Generation はBinding構築時のセッション世代を返す。
func (b *Binding) Generation() uint64 { return b.generation }

// TrustMode は応答証明の扱いを返す。
func (b *Binding) TrustMode() TrustMode { return b.trust }

// Warning はルート鍵取得に失敗した場合の警告を返す。無ければnil。
func (b *Binding) Warning() error {
	if b.warning == nil {
		return nil
	}
	return b.warning
}

// Stale はセッション世代が進み、このBindingの応答が無効になったかどうかを返す。
func (b *Binding) Stale() bool {
	return b.current != nil && b.current() != b.generation
}

// Invoke はunary RPCを実行する。失敗は*model.RemoteCallErrorで返す。
// 呼び出し中にセッション世代が変わった場合、応答は破棄される。
func (b *Binding) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	name := methodName(method)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &model.RemoteCallError{Method: name, Err: ErrBindingClosed}
	}
	b.inflight.Add(1)
	b.mu.Unlock()
	defer b.inflight.Done()

	err := b.conn.Invoke(ctx, method, args, reply, opts...)
	if b.Stale() {
		b.metrics.RecordStaleResponse(name)
		return &model.RemoteCallError{Method: name, Err: model.ErrStaleResponse}
	}
	if err != nil {
		return &model.RemoteCallError{Method: name, Err: err}
	}
	return nil
}

// NewStream はサポートしない。バックエンドはunaryのみ。
func (b *Binding) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, status.Error(codes.Unimplemented, "streaming calls are not supported")
}

// Close は新規呼び出しを拒否し、進行中の呼び出しの完了後に接続を閉じる。
// 呼び出し元はブロックしない。
func (b *Binding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	go func() {
		b.inflight.Wait()
		_ = b.conn.Close()
		close(b.done)
	}()
}

// Done は接続が閉じられると閉じるチャネルを返す。
func (b *Binding) Done() <-chan struct{} { return b.done }

var _ grpc.ClientConnInterface = (*Binding)(nil)
