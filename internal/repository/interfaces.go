// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/libmember/internal/model"
)

// UserRepository はディレクトリレコードの永続化インターフェース。
type UserRepository interface {
	// FindByAuthID はIdPのユーザーIDでディレクトリレコードを取得する。見つからない場合はnilを返す。
	FindByAuthID(ctx context.Context, authID string) (*model.User, error)

	// FindProfileByAuthID はディレクトリレコードを貸出履歴（書籍・著者を含む）付きで取得する。
	// 見つからない場合はnilを返す。
	FindProfileByAuthID(ctx context.Context, authID string) (*model.User, error)

	// UpsertByAuthID はauth_idをキーにディレクトリレコードを冪等に作成する。
	// 既に存在する場合は既存レコードを変更せずに返す。
	UpsertByAuthID(ctx context.Context, user *model.User) (*model.User, error)
}

// SyncJobRepository はディレクトリ同期ジョブ（outbox）の永続化インターフェース。
type SyncJobRepository interface {
	// Enqueue は同期ジョブを登録する。同じauth_idの未完了ジョブがある場合は何もしない。
	Enqueue(ctx context.Context, job *model.SyncJob) error

	// ClaimDue はnext_attempt_at <= now() のpendingジョブを最大limit件取得する。
	// FOR UPDATE SKIP LOCKEDで排他的に取得し、leaseの間は他ワーカーから見えないようにする。
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.SyncJob, error)

	// MarkDone はジョブを完了状態にする。
	MarkDone(ctx context.Context, id string) error

	// MarkFailed は失敗回数と次回試行時刻、状態を更新する。
	MarkFailed(ctx context.Context, job *model.SyncJob) error

	// CountByStatus は指定状態のジョブ数を返す。
	CountByStatus(ctx context.Context, status model.SyncJobStatus) (int, error)

	// DeleteDoneBefore はupdated_atがbeforeより古い完了済みジョブを削除し、削除件数を返す。
	DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error)
}
