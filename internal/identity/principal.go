// Package identity は呼び出し元を証明する暗号学的アイデンティティと、
// そこから導出される公開識別子（プリンシパル）を提供する。
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	// selfAuthenticatingSuffix は公開鍵から導出したプリンシパルの末尾タグ。
	selfAuthenticatingSuffix = 0x02
	// anonymousTag は匿名プリンシパルを表す1バイト。
	anonymousTag = 0x04
	// maxPrincipalLength はプリンシパルのバイト長の上限。
	maxPrincipalLength = 29
)

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal はアイデンティティから導出される安定した公開識別子。
// 値型であり比較・マップのキーとして使用できる。
type Principal struct {
	raw string
}

// AnonymousPrincipal は匿名プリンシパルを返す。
func AnonymousPrincipal() Principal {
	return Principal{raw: string([]byte{anonymousTag})}
}

// SelfAuthenticatingPrincipal はed25519公開鍵から自己認証型プリンシパルを導出する。
// DER形式の公開鍵のSHA-224ハッシュに0x02を付加したもの。
func SelfAuthenticatingPrincipal(pub ed25519.PublicKey) (Principal, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return Principal{}, fmt.Errorf("failed to encode public key: %w", err)
	}
	sum := sha256.Sum224(der)
	b := make([]byte, 0, len(sum)+1)
	b = append(b, sum[:]...)
	b = append(b, selfAuthenticatingSuffix)
	return Principal{raw: string(b)}, nil
}

// PrincipalFromBytes はバイト列からプリンシパルを生成する。
func PrincipalFromBytes(b []byte) (Principal, error) {
	if len(b) == 0 || len(b) > maxPrincipalLength {
		return Principal{}, fmt.Errorf("principal must be 1..%d bytes, got %d", maxPrincipalLength, len(b))
	}
	return Principal{raw: string(b)}, nil
}

// ParsePrincipal はテキスト形式のプリンシパルを解析する。
// チェックサムが一致しない場合やグループ区切りが不正な場合はエラーを返す。
func ParsePrincipal(text string) (Principal, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Principal{}, errors.New("empty principal text")
	}
	compact := strings.ReplaceAll(strings.ToUpper(text), "-", "")
	decoded, err := principalEncoding.DecodeString(compact)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid principal encoding: %w", err)
	}
	if len(decoded) < 5 {
		return Principal{}, fmt.Errorf("principal text too short: %q", text)
	}
	body := decoded[4:]
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(body) {
		return Principal{}, fmt.Errorf("principal checksum mismatch: %q", text)
	}
	p, err := PrincipalFromBytes(body)
	if err != nil {
		return Principal{}, err
	}
	if p.String() != strings.ToLower(text) {
		return Principal{}, fmt.Errorf("principal text is not in canonical form: %q", text)
	}
	return p, nil
}

// Bytes はプリンシパルのバイト表現を返す。
func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

// IsAnonymous は匿名プリンシパルかどうかを返す。
func (p Principal) IsAnonymous() bool {
	return p.raw == string([]byte{anonymousTag})
}

// IsZero はゼロ値（未初期化）かどうかを返す。
func (p Principal) IsZero() bool {
	return p.raw == ""
}

// String はプリンシパルのテキスト形式を返す。
// crc32(ビッグエンディアン)とバイト列を連結してbase32小文字化し、5文字ごとに"-"で区切る。
func (p Principal) String() string {
	if p.raw == "" {
		return ""
	}
	body := []byte(p.raw)
	buf := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(body))
	buf = append(buf, body...)
	encoded := strings.ToLower(principalEncoding.EncodeToString(buf))

	var sb strings.Builder
	for i := 0; i < len(encoded); i += 5 {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := i + 5
		if end > len(encoded) {
			end = len(encoded)
		}
		sb.WriteString(encoded[i:end])
	}
	return sb.String()
}

// MarshalText はencoding.TextMarshalerを実装する。
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
