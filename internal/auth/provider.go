// Package auth はIDプロバイダーとのハンドシェイクとセッション状態の管理を提供する。
package auth

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/hitoshi/coestate/internal/identity"
)

// DefaultMaxTimeToLive は委任の最大有効期間（7日）。
const DefaultMaxTimeToLive = 7 * 24 * time.Hour

// AuthRequest はIDプロバイダーへの認証要求。
type AuthRequest struct {
	// SessionKey は委任を受けるセッション鍵の公開鍵。
	SessionKey ed25519.PublicKey
	// MaxTimeToLive は委任の有効期間の上限。
	MaxTimeToLive time.Duration
}

// Delegation はIDプロバイダーがセッション鍵に発行した委任。
type Delegation struct {
	Principal identity.Principal
	Token     string
	ExpiresAt time.Time
}

// IdentityProvider はユーザーを認証し、セッション鍵への委任を発行する外部サービス。
// 将来的に別方式（デバイスフロー等）に対応するための抽象化。
type IdentityProvider interface {
	// Authenticate はユーザー操作を伴うハンドシェイクを行い、委任を返す。
	// ctxのキャンセルでハンドシェイクは中断される。
	Authenticate(ctx context.Context, req AuthRequest) (*Delegation, error)
	// Logout はプロバイダー側で委任を失効させる。
	Logout(ctx context.Context, token string) error
}
