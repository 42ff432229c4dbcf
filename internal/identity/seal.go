package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealInfo はHKDFのinfoパラメータ。鍵の用途を固定する。
const sealInfo = "coestate-session-key-v1"

// ErrSealCorrupted は封印データの復号に失敗したことを示す。
var ErrSealCorrupted = errors.New("sealed session key is corrupted or was sealed with another secret")

// Sealer は永続化するセッション鍵をXChaCha20-Poly1305で封印する。
// 暗号鍵はシークレットからHKDF-SHA256で導出する。
type Sealer struct {
	key []byte
}

// NewSealer はシークレットからSealerを生成する。
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("credential secret is required")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(sealInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal は秘密鍵を封印する。profileは関連データとして認証される。
// 出力形式は nonce(24バイト) || 暗号文。
func (s *Sealer) Seal(profile string, priv ed25519.PrivateKey) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(priv)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, priv.Seed(), []byte(profile)), nil
}

// Open は封印された秘密鍵を復号する。
func (s *Sealer) Open(profile string, sealed []byte) (ed25519.PrivateKey, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealCorrupted
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	seed, err := aead.Open(nil, nonce, ciphertext, []byte(profile))
	if err != nil {
		return nil, ErrSealCorrupted
	}
	if len(seed) != ed25519.SeedSize {
		return nil, ErrSealCorrupted
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
