package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/coestate/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用した資格情報リポジトリ。
// テーブルはdatabase.RunMigrationsで作成されるcredentials。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// Load は指定プロファイルの資格情報を取得する。
func (r *PostgresCredentialRepo) Load(ctx context.Context, profile string) (*model.StoredCredential, error) {
	cred := &model.StoredCredential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT profile, principal, sealed_session_key, delegation, expires_at, created_at
		 FROM credentials
		 WHERE profile = $1`,
		profile,
	).Scan(&cred.Profile, &cred.Principal, &cred.SealedSessionKey, &cred.Delegation, &cred.ExpiresAt, &cred.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	return cred, nil
}

// Save は資格情報をUPSERTする。
func (r *PostgresCredentialRepo) Save(ctx context.Context, cred *model.StoredCredential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (profile, principal, sealed_session_key, delegation, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (profile) DO UPDATE SET
		   principal = EXCLUDED.principal,
		   sealed_session_key = EXCLUDED.sealed_session_key,
		   delegation = EXCLUDED.delegation,
		   expires_at = EXCLUDED.expires_at,
		   created_at = EXCLUDED.created_at`,
		cred.Profile, cred.Principal, cred.SealedSessionKey, cred.Delegation, cred.ExpiresAt, cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Delete は指定プロファイルの資格情報を削除する。
func (r *PostgresCredentialRepo) Delete(ctx context.Context, profile string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE profile = $1`,
		profile,
	)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れの資格情報を全て削除し、削除件数を返す。
func (r *PostgresCredentialRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired credentials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted credentials: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
