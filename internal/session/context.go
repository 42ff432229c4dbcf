// Package session はセッションマネージャーとRPCバインディングを束ね、
// 利用側に認証状態とバックエンドクライアントを提供する。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/coestate/internal/auth"
	"github.com/hitoshi/coestate/internal/backend"
	"github.com/hitoshi/coestate/internal/identity"
	"github.com/hitoshi/coestate/internal/rpc"
)

// Context は利用側に公開するセッションの入口。
// アイデンティティが変わるたびに、Login/Logoutが戻る前にバインディングを作り直す。
type Context struct {
	manager *auth.Manager
	factory *rpc.Factory
	network rpc.NetworkConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	binding *rpc.Binding
	client  *backend.Client
}

// New は現在のアイデンティティでバインディングを構築し、以降の差し替えを購読する。
// Manager.Bootstrapより前に呼ぶこと。
func New(ctx context.Context, manager *auth.Manager, factory *rpc.Factory, network rpc.NetworkConfig, logger *slog.Logger) (*Context, error) {
	if err := network.Validate(); err != nil {
		return nil, err
	}
	c := &Context{
		manager: manager,
		factory: factory,
		network: network,
		logger:  logger,
	}
	if err := c.rebuild(ctx, manager.Identity(), manager.Generation()); err != nil {
		return nil, err
	}
	manager.OnIdentityChange(c.rebuild)
	return c, nil
}

// rebuild は新しいアイデンティティのバインディングに差し替え、古いものを閉じる。
// 古いバインディングの進行中の呼び出しは完了するが、応答は世代不一致で破棄される。
func (c *Context) rebuild(ctx context.Context, id identity.Identity, generation uint64) error {
	b, err := c.factory.Build(ctx, id, c.network, generation)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.binding
	c.binding = b
	c.client = backend.NewClient(b)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// IsAuthenticated は認証済みかどうかを返す。
func (c *Context) IsAuthenticated() bool {
	return c.manager.Snapshot().Authenticated
}

// Principal は現在のプリンシパルを返す。
func (c *Context) Principal() identity.Principal {
	return c.manager.Snapshot().Principal
}

// Snapshot は現在のセッション状態を返す。
func (c *Context) Snapshot() auth.Snapshot {
	return c.manager.Snapshot()
}

// Subscribe はセッション状態の変化を購読する。
func (c *Context) Subscribe() (<-chan auth.Snapshot, func()) {
	return c.manager.Subscribe()
}

// Login はログインし、バインディングの再構築まで完了してから戻る。
func (c *Context) Login(ctx context.Context) error {
	return c.manager.Login(ctx)
}

// Logout はバックエンドにログアウトを通知してから匿名状態に戻る。
// バックエンドへの通知の失敗はログに残すだけでログアウトは続行する。
func (c *Context) Logout(ctx context.Context) error {
	if c.IsAuthenticated() {
		if err := c.Client().Logout(ctx); err != nil {
			c.logger.Warn("バックエンドのログアウトに失敗しました", slog.String("error", err.Error()))
		}
	}
	return c.manager.Logout(ctx)
}

// Client は現在のバインディングに束縛されたバックエンドクライアントを返す。
// 保持し続けると、ログイン状態が変わった後の応答はErrStaleResponseになる。
func (c *Context) Client() *backend.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Binding は現在のバインディングを返す。
func (c *Context) Binding() *rpc.Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.binding
}

// Close は現在のバインディングを閉じる。
func (c *Context) Close() {
	c.mu.Lock()
	b := c.binding
	c.mu.Unlock()
	if b != nil {
		b.Close()
	}
}
