package model

import "time"

// SyncJobStatus はディレクトリ同期ジョブの状態を表す。
type SyncJobStatus string

const (
	// SyncJobStatusPending は未処理または再試行待ち。
	SyncJobStatusPending SyncJobStatus = "pending"
	// SyncJobStatusDone はディレクトリレコードの作成が完了した状態。
	SyncJobStatusDone SyncJobStatus = "done"
	// SyncJobStatusParked は最大試行回数に達し、自動再試行を停止した状態。
	SyncJobStatusParked SyncJobStatus = "parked"
)

// SyncJob はディレクトリレコード作成に失敗したIdentityの修復ジョブ（outbox）。
// auth_idごとに最大1件。
type SyncJob struct {
	ID            string
	AuthID        string
	Email         string
	Name          string
	FullName      *string
	Reason        string
	Status        SyncJobStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
