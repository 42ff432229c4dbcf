// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/coestate/internal/model"
)

// CredentialRepository はログイン済み資格情報の永続化インターフェース。
// プロファイル名ごとに最大1件を保持する。
type CredentialRepository interface {
	// Load は指定プロファイルの資格情報を取得する。見つからない場合はnilを返す。
	// 期限切れかどうかの判定は呼び出し側で行う。
	Load(ctx context.Context, profile string) (*model.StoredCredential, error)

	// Save は資格情報を保存する。同じプロファイルの既存データは上書きされる。
	Save(ctx context.Context, cred *model.StoredCredential) error

	// Delete は指定プロファイルの資格情報を削除する。存在しなくてもエラーにしない。
	Delete(ctx context.Context, profile string) error
}
