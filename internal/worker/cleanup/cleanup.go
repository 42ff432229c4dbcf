// Package cleanup は期限切れ資格情報の削除ジョブを提供する。
// PostgreSQLに保存した委任は有効期限を過ぎると復元できないため、起動時にまとめて削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredCredentialPurger は期限切れの資格情報を削除するリポジトリ。
// repository.PostgresCredentialRepo が実装する。
type ExpiredCredentialPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れ資格情報の削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	repo   ExpiredCredentialPurger
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(repo ExpiredCredentialPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{repo: repo, logger: logger}
}

// Run は期限切れの資格情報を削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.repo.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("資格情報クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("資格情報クリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("資格情報クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
