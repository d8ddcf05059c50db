package reconcile

import (
	"time"
	"unicode/utf8"

	"github.com/hitoshi/libmember/internal/model"
)

const (
	// initialBackoff は指数バックオフの初回遅延（30秒）。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = time.Hour
	// maxErrorLength はlast_errorに保存するエラーメッセージの最大長。
	maxErrorLength = 500
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回30秒、2倍ずつ増加、最大1時間。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyFailure は失敗したジョブの試行回数をインクリメントし、次回試行時刻を設定する。
// 試行回数がmaxAttemptsに達した場合はparkedにしてtrueを返す。
func ApplyFailure(job *model.SyncJob, reason string, maxAttempts int, now time.Time) bool {
	job.Attempts++
	job.LastError = truncate(reason, maxErrorLength)
	job.UpdatedAt = now

	if maxAttempts > 0 && job.Attempts >= maxAttempts {
		job.Status = model.SyncJobStatusParked
		return true
	}

	job.Status = model.SyncJobStatusPending
	job.NextAttemptAt = now.Add(CalculateBackoff(job.Attempts - 1))
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// マルチバイト文字の途中で切らない
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
