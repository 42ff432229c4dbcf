package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/coestate/internal/model"
)

// MemoryCredentialRepo はプロセス内メモリに資格情報を保持するリポジトリ。
// プロセス終了で内容は失われる。
type MemoryCredentialRepo struct {
	mu    sync.RWMutex
	creds map[string]model.StoredCredential
}

// NewMemoryCredentialRepo はMemoryCredentialRepoを生成する。
func NewMemoryCredentialRepo() *MemoryCredentialRepo {
	return &MemoryCredentialRepo{creds: make(map[string]model.StoredCredential)}
}

// Load は指定プロファイルの資格情報のコピーを返す。
func (r *MemoryCredentialRepo) Load(_ context.Context, profile string) (*model.StoredCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.creds[profile]
	if !ok {
		return nil, nil
	}
	cred.SealedSessionKey = append([]byte(nil), cred.SealedSessionKey...)
	return &cred, nil
}

// Save は資格情報を保存する。
func (r *MemoryCredentialRepo) Save(_ context.Context, cred *model.StoredCredential) error {
	if cred == nil || cred.Profile == "" {
		return fmt.Errorf("credential profile is required")
	}
	c := *cred
	c.SealedSessionKey = append([]byte(nil), cred.SealedSessionKey...)

	r.mu.Lock()
	r.creds[c.Profile] = c
	r.mu.Unlock()
	return nil
}

// Delete は指定プロファイルの資格情報を削除する。
func (r *MemoryCredentialRepo) Delete(_ context.Context, profile string) error {
	r.mu.Lock()
	delete(r.creds, profile)
	r.mu.Unlock()
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*MemoryCredentialRepo)(nil)
