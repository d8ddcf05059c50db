// Package reconcile はディレクトリ同期ジョブ（outbox）を処理するバックグラウンドワーカーを提供する。
// サインアップ時に作成できなかったディレクトリレコードを、指数バックオフで再試行しながら作成する。
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/libmember/internal/metrics"
	"github.com/hitoshi/libmember/internal/model"
	"github.com/hitoshi/libmember/internal/repository"
)

// Healer はジョブの内容でディレクトリレコードを作成する。user.Serviceが満たす。
type Healer interface {
	Heal(ctx context.Context, job *model.SyncJob) (*model.User, error)
}

// Config はワーカーの設定。
type Config struct {
	BatchSize   int           // 1サイクルで取得する最大ジョブ数
	MaxAttempts int           // これに達したジョブはparkedになる
	Concurrency int           // 同時に処理するジョブ数
	Lease       time.Duration // 取得したジョブを他ワーカーから隠す時間
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		MaxAttempts: 10,
		Concurrency: 4,
		Lease:       5 * time.Minute,
	}
}

// Worker は同期ジョブのスケジューリングと並列制御を行う。
// ティッカーで期限の来たジョブを取得し、semaphoreパターンで並列数を制御しながら処理する。
type Worker struct {
	jobRepo repository.SyncJobRepository
	healer  Healer
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	config  Config
	now     func() time.Time
}

// NewWorker はWorkerの新しいインスタンスを生成する。
// 0以下の設定値はDefaultConfigの値で補う。collectorはnilでもよい。
func NewWorker(
	jobRepo repository.SyncJobRepository,
	healer Healer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Worker {
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.Lease <= 0 {
		config.Lease = def.Lease
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobRepo: jobRepo,
		healer:  healer,
		metrics: collector,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("同期ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("concurrency", w.config.Concurrency),
		slog.Int("max_attempts", w.config.MaxAttempts),
	)

	// 起動直後に1回実行
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("同期ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は期限の来たジョブを1回取得し、並列で処理する。
func (w *Worker) RunOnce(ctx context.Context) error {
	start := time.Now()

	jobs, err := w.jobRepo.ClaimDue(ctx, w.config.BatchSize, w.config.Lease)
	if err != nil {
		return err
	}

	if len(jobs) > 0 {
		w.logger.Info("同期サイクルを開始します",
			slog.Int("job_count", len(jobs)),
		)

		// semaphoreパターンで並列数を制御
		sem := make(chan struct{}, w.config.Concurrency)
		var wg sync.WaitGroup

		for _, job := range jobs {
			wg.Add(1)
			sem <- struct{}{}

			go func(j *model.SyncJob) {
				defer wg.Done()
				defer func() { <-sem }()

				w.process(ctx, j)
			}(job)
		}

		wg.Wait()

		w.logger.Info("同期サイクルが完了しました",
			slog.Int("job_count", len(jobs)),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}

	w.refreshPendingGauge(ctx)
	return nil
}

// process は1件のジョブを処理し、結果に応じてジョブの状態を更新する。
func (w *Worker) process(ctx context.Context, job *model.SyncJob) {
	user, err := w.healer.Heal(ctx, job)
	if err == nil && user == nil {
		err = errors.New("healer returned no directory record")
	}
	if err == nil {
		if markErr := w.jobRepo.MarkDone(ctx, job.ID); markErr != nil {
			w.logger.Error("同期ジョブの完了記録に失敗しました",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()),
			)
			return
		}
		w.logger.Info("ディレクトリレコードを修復しました",
			slog.String("job_id", job.ID),
			slog.String("auth_id", job.AuthID),
			slog.String("user_id", user.ID),
			slog.Int("attempts", job.Attempts+1),
		)
		if w.metrics != nil {
			w.metrics.RecordJobHealed()
		}
		return
	}

	parked := ApplyFailure(job, err.Error(), w.config.MaxAttempts, w.now())
	if markErr := w.jobRepo.MarkFailed(ctx, job); markErr != nil {
		w.logger.Error("同期ジョブの失敗記録に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", markErr.Error()),
		)
		return
	}

	if parked {
		w.logger.Error("同期ジョブを停止しました",
			slog.String("job_id", job.ID),
			slog.String("auth_id", job.AuthID),
			slog.Int("attempts", job.Attempts),
			slog.String("error", err.Error()),
		)
		if w.metrics != nil {
			w.metrics.RecordJobParked()
		}
		return
	}

	w.logger.Warn("同期ジョブを再試行します",
		slog.String("job_id", job.ID),
		slog.String("auth_id", job.AuthID),
		slog.Int("attempts", job.Attempts),
		slog.Time("next_attempt_at", job.NextAttemptAt),
		slog.String("error", err.Error()),
	)
}

// refreshPendingGauge は未処理ジョブ数のゲージを更新する。
func (w *Worker) refreshPendingGauge(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	count, err := w.jobRepo.CountByStatus(ctx, model.SyncJobStatusPending)
	if err != nil {
		w.logger.Warn("未処理ジョブ数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	w.metrics.SetPendingJobs(count)
}
