package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/libmember/internal/model"
)

// PostgresSyncJobRepo はPostgreSQLを使用したディレクトリ同期ジョブのリポジトリ。
type PostgresSyncJobRepo struct {
	db *sql.DB
}

// NewPostgresSyncJobRepo はPostgresSyncJobRepoを生成する。
func NewPostgresSyncJobRepo(db *sql.DB) *PostgresSyncJobRepo {
	return &PostgresSyncJobRepo{db: db}
}

// Enqueue は同期ジョブを登録する。
// 同じauth_idのpendingジョブがある場合は何もしない。done/parkedのジョブは再度pendingに戻す。
func (r *PostgresSyncJobRepo) Enqueue(ctx context.Context, job *model.SyncJob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO directory_sync_jobs
		     (id, auth_id, email, name, full_name, reason, status, attempts, last_error, next_attempt_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, '', $7, $8, $9)
		 ON CONFLICT (auth_id) DO UPDATE SET
		     email = EXCLUDED.email,
		     name = EXCLUDED.name,
		     full_name = EXCLUDED.full_name,
		     reason = EXCLUDED.reason,
		     status = 'pending',
		     attempts = 0,
		     last_error = '',
		     next_attempt_at = EXCLUDED.next_attempt_at,
		     updated_at = EXCLUDED.updated_at
		 WHERE directory_sync_jobs.status <> 'pending'`,
		job.ID, job.AuthID, job.Email, job.Name, job.FullName, job.Reason,
		job.NextAttemptAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("同期ジョブの登録に失敗しました: %w", err)
	}
	return nil
}

// ClaimDue はnext_attempt_at <= now() のpendingジョブを最大limit件取得する。
// 取得したジョブのnext_attempt_atをlease分だけ先送りしてからコミットするため、
// 処理中にワーカーが落ちてもlease経過後に再取得される。
func (r *PostgresSyncJobRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.SyncJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, auth_id, email, name, full_name, reason, status, attempts, last_error,
		        next_attempt_at, created_at, updated_at
		 FROM directory_sync_jobs
		 WHERE status = 'pending' AND next_attempt_at <= now()
		 ORDER BY next_attempt_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("同期ジョブの取得に失敗しました: %w", err)
	}

	var jobs []*model.SyncJob
	for rows.Next() {
		job := &model.SyncJob{}
		var fullName sql.NullString
		if err := rows.Scan(
			&job.ID, &job.AuthID, &job.Email, &job.Name, &fullName, &job.Reason,
			&job.Status, &job.Attempts, &job.LastError,
			&job.NextAttemptAt, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("同期ジョブの読み取りに失敗しました: %w", err)
		}
		job.FullName = nullStringPtr(fullName)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("同期ジョブの走査に失敗しました: %w", err)
	}
	rows.Close()

	leaseUntil := time.Now().Add(lease)
	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE directory_sync_jobs SET next_attempt_at = $2 WHERE id = $1`,
			job.ID, leaseUntil,
		); err != nil {
			return nil, fmt.Errorf("同期ジョブのリース設定に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return jobs, nil
}

// MarkDone はジョブを完了状態にする。
func (r *PostgresSyncJobRepo) MarkDone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE directory_sync_jobs SET status = 'done', last_error = '', updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("同期ジョブの完了更新に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は失敗回数、最終エラー、次回試行時刻、状態を更新する。
func (r *PostgresSyncJobRepo) MarkFailed(ctx context.Context, job *model.SyncJob) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE directory_sync_jobs
		 SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, updated_at = $6
		 WHERE id = $1`,
		job.ID, job.Status, job.Attempts, job.LastError, job.NextAttemptAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("同期ジョブの失敗更新に失敗しました: %w", err)
	}
	return nil
}

// CountByStatus は指定状態のジョブ数を返す。
func (r *PostgresSyncJobRepo) CountByStatus(ctx context.Context, status model.SyncJobStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM directory_sync_jobs WHERE status = $1`,
		status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("同期ジョブ数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// DeleteDoneBefore はupdated_atがbeforeより古い完了済みジョブを削除する。
// parkedのジョブは運用者が確認するまで残す。
func (r *PostgresSyncJobRepo) DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM directory_sync_jobs WHERE status = 'done' AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("完了済み同期ジョブの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SyncJobRepository = (*PostgresSyncJobRepo)(nil)
