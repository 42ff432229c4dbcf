package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/coestate/internal/model"
)

const credentialKeyPrefix = "coestate:credential:"

// RedisCredentialRepo はRedisを使用した資格情報リポジトリ。
// キーのTTLを資格情報の有効期限に合わせるため、期限切れのデータはRedis側で消える。
type RedisCredentialRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCredentialRepo はRedisCredentialRepoを生成する。
func NewRedisCredentialRepo(client *redis.Client) *RedisCredentialRepo {
	return &RedisCredentialRepo{client: client, now: time.Now}
}

// NewRedisClient はRedisクライアントを生成し疎通を確認する。
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Load は指定プロファイルの資格情報を取得する。
func (r *RedisCredentialRepo) Load(ctx context.Context, profile string) (*model.StoredCredential, error) {
	data, err := r.client.Get(ctx, credentialKeyPrefix+profile).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	var cred model.StoredCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	return &cred, nil
}

// Save は資格情報を有効期限までのTTL付きで保存する。期限切れの資格情報は保存しない。
func (r *RedisCredentialRepo) Save(ctx context.Context, cred *model.StoredCredential) error {
	ttl := cred.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("credential for profile %q is already expired", cred.Profile)
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := r.client.Set(ctx, credentialKeyPrefix+cred.Profile, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Delete は指定プロファイルの資格情報を削除する。
func (r *RedisCredentialRepo) Delete(ctx context.Context, profile string) error {
	if err := r.client.Del(ctx, credentialKeyPrefix+profile).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*RedisCredentialRepo)(nil)
