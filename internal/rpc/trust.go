package rpc

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// TrustMode はバインディングが応答証明をどう扱うかを表す。
type TrustMode int

const (
	// TrustUnverified はルート鍵が無く、応答証明を検証しない。
	TrustUnverified TrustMode = iota
	// TrustVerified はルート鍵で全応答の証明を検証する。
	TrustVerified
	// TrustDegraded はルート鍵の取得に失敗し、検証なしで動作している。
	TrustDegraded
)

func (m TrustMode) String() string {
	switch m {
	case TrustVerified:
		return "verified"
	case TrustDegraded:
		return "degraded"
	default:
		return "unverified"
	}
}

type rootKeyResponse struct {
	RootKey string `json:"root_key"`
}

// maxRootKeyBody はルート鍵レスポンスの読み取り上限。
const maxRootKeyBody = 64 << 10

// fetchRootKey はローカルレプリカのステータスエンドポイントからルート鍵を取得する。
func fetchRootKey(ctx context.Context, client *http.Client, url string) (ed25519.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch root key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch root key: unexpected status %d", resp.StatusCode)
	}

	var body rootKeyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRootKeyBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode root key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(body.RootKey)
	if err != nil {
		return nil, fmt.Errorf("decode root key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("root key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	return ed25519.PublicKey(key), nil
}
