// Package cleanup は完了済み同期ジョブの自動削除ジョブを提供する。
// 保持期間（デフォルト14日）を超過したdoneジョブを日次バッチで削除する。
// pendingとparkedのジョブは削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は完了済みジョブのデフォルト保持日数。
const DefaultRetentionDays = 14

// JobPurger は完了済みジョブの削除を抽象化するインターフェース。
// repository.SyncJobRepositoryが満たす。
type JobPurger interface {
	DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した完了済み同期ジョブの自動削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	jobs          JobPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使う。
func NewCleanupJob(jobs JobPurger, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		jobs:          jobs,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run はupdated_atがRetentionDays日前より古い完了済みジョブを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.jobs.DeleteDoneBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("同期ジョブのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("sync job cleanup failed: %w", err)
	}

	j.logger.Info("同期ジョブのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はRunを起動直後と以降interval毎に実行する。ctxのキャンセルで戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
