package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

// Identity はバックエンド呼び出しに署名する資格情報のインターフェース。
type Identity interface {
	// Principal はこのアイデンティティが表す公開識別子を返す。
	Principal() Principal
	// PublicKey は署名検証用の公開鍵を返す。匿名の場合はnil。
	PublicKey() []byte
	// Sign はメッセージに署名する。匿名の場合はnilを返す。
	Sign(msg []byte) ([]byte, error)
	// Delegation はIDプロバイダーが発行した委任トークンを返す。委任なしの場合は空文字列。
	Delegation() string
}

// Anonymous は署名能力を持たない匿名アイデンティティ。
type Anonymous struct{}

// Principal は匿名プリンシパルを返す。
func (Anonymous) Principal() Principal { return AnonymousPrincipal() }

// PublicKey はnilを返す。
func (Anonymous) PublicKey() []byte { return nil }

// Sign はnilを返す。
func (Anonymous) Sign([]byte) ([]byte, error) { return nil, nil }

// Delegation は空文字列を返す。
func (Anonymous) Delegation() string { return "" }

// Ed25519Identity はed25519鍵ペアによる自己認証型アイデンティティ。
type Ed25519Identity struct {
	priv      ed25519.PrivateKey
	principal Principal
}

// NewEd25519Identity は乱数源から新しい鍵ペアを生成する。
// randがnilの場合はcrypto/rand.Readerを使用する。
func NewEd25519Identity(r io.Reader) (*Ed25519Identity, error) {
	if r == nil {
		r = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return Ed25519IdentityFromKey(priv)
}

// Ed25519IdentityFromKey は既存の秘密鍵からアイデンティティを復元する。
func Ed25519IdentityFromKey(priv ed25519.PrivateKey) (*Ed25519Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	p, err := SelfAuthenticatingPrincipal(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Ed25519Identity{priv: priv, principal: p}, nil
}

// Principal は自己認証型プリンシパルを返す。
func (i *Ed25519Identity) Principal() Principal { return i.principal }

// PublicKey はed25519公開鍵を返す。
func (i *Ed25519Identity) PublicKey() []byte {
	return []byte(i.priv.Public().(ed25519.PublicKey))
}

// Sign はed25519署名を返す。
func (i *Ed25519Identity) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(i.priv, msg), nil
}

// Delegation は空文字列を返す。
func (i *Ed25519Identity) Delegation() string { return "" }

// PrivateKey は封印保存のために秘密鍵を返す。
func (i *Ed25519Identity) PrivateKey() ed25519.PrivateKey {
	return i.priv
}

// DelegatedIdentity はIDプロバイダーの委任を受けたセッション鍵によるアイデンティティ。
// 署名はセッション鍵で行い、プリンシパルはプロバイダーが表明したユーザーのものになる。
type DelegatedIdentity struct {
	session    *Ed25519Identity
	principal  Principal
	delegation string
	expiresAt  time.Time
}

// NewDelegatedIdentity はセッション鍵と委任情報からアイデンティティを生成する。
func NewDelegatedIdentity(session *Ed25519Identity, principal Principal, delegation string, expiresAt time.Time) (*DelegatedIdentity, error) {
	if session == nil {
		return nil, fmt.Errorf("session key is required")
	}
	if principal.IsZero() || principal.IsAnonymous() {
		return nil, fmt.Errorf("delegated principal must not be anonymous")
	}
	if delegation == "" {
		return nil, fmt.Errorf("delegation is required")
	}
	return &DelegatedIdentity{
		session:    session,
		principal:  principal,
		delegation: delegation,
		expiresAt:  expiresAt,
	}, nil
}

// Principal は委任元のプリンシパルを返す。
func (d *DelegatedIdentity) Principal() Principal { return d.principal }

// PublicKey はセッション鍵の公開鍵を返す。
func (d *DelegatedIdentity) PublicKey() []byte { return d.session.PublicKey() }

// Sign はセッション鍵で署名する。
func (d *DelegatedIdentity) Sign(msg []byte) ([]byte, error) { return d.session.Sign(msg) }

// Delegation は委任トークンを返す。
func (d *DelegatedIdentity) Delegation() string { return d.delegation }

// ExpiresAt は委任の有効期限を返す。
func (d *DelegatedIdentity) ExpiresAt() time.Time { return d.expiresAt }

// SessionKey はセッション鍵を返す。
func (d *DelegatedIdentity) SessionKey() *Ed25519Identity { return d.session }

// compile-time interface check
var (
	_ Identity = Anonymous{}
	_ Identity = (*Ed25519Identity)(nil)
	_ Identity = (*DelegatedIdentity)(nil)
)
