package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/fitsync/internal/model"
)

// PostgresSyncJobRepo はPostgreSQLを使用した同期ジョブキューリポジトリ。
type PostgresSyncJobRepo struct {
	db *sql.DB
}

// NewPostgresSyncJobRepo はPostgresSyncJobRepoを生成する。
func NewPostgresSyncJobRepo(db *sql.DB) *PostgresSyncJobRepo {
	return &PostgresSyncJobRepo{db: db}
}

// Enqueue はpending状態のジョブを作成する。IDが空なら生成して設定する。
func (r *PostgresSyncJobRepo) Enqueue(ctx context.Context, job *model.SyncJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_jobs (id, user_id, provider, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.UserID, string(job.Provider), string(job.Status), job.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("同期ジョブの作成に失敗しました: %w", err)
	}
	return nil
}

// HasPending は(user_id, provider)のpendingジョブが存在するかを返す。
func (r *PostgresSyncJobRepo) HasPending(ctx context.Context, userID string, provider model.Provider) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM sync_jobs
		    WHERE user_id = $1 AND provider = $2 AND status = $3
		 )`,
		userID, string(provider), string(model.JobStatusPending),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pendingジョブの確認に失敗しました: %w", err)
	}
	return exists, nil
}

// ClaimOldestPending は最古のpendingジョブを1件claimしてrunningに遷移させる。
// providersを指定した場合は該当プロバイダのジョブに限定する。
// FOR UPDATE SKIP LOCKEDで排他的に取得するため、複数ワーカーが同一ジョブを
// 二重処理することはない。対象がない場合はnilを返す。
func (r *PostgresSyncJobRepo) ClaimOldestPending(ctx context.Context, providers ...model.Provider) (*model.SyncJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = string(p)
	}

	query := `SELECT id, user_id, provider, status, requested_at
		 FROM sync_jobs
		 WHERE status = $1`
	args := []any{string(model.JobStatusPending)}
	if len(names) > 0 {
		query += ` AND provider = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += `
		 ORDER BY requested_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`

	job := &model.SyncJob{}
	err = tx.QueryRowContext(ctx, query, args...).
		Scan(&job.ID, &job.UserID, &job.Provider, &job.Status, &job.RequestedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pendingジョブの取得に失敗しました: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE sync_jobs SET status = $2, started_at = $3 WHERE id = $1`,
		job.ID, string(model.JobStatusRunning), now,
	)
	if err != nil {
		return nil, fmt.Errorf("ジョブのrunning遷移に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	return job, nil
}

// MarkDone はジョブをdoneに遷移させ、終了時刻を記録する。
func (r *PostgresSyncJobRepo) MarkDone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = $2, finished_at = now() WHERE id = $1`,
		id, string(model.JobStatusDone),
	)
	if err != nil {
		return fmt.Errorf("ジョブの完了記録に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed はジョブをfailedに遷移させ、エラーメッセージと終了時刻を記録する。
func (r *PostgresSyncJobRepo) MarkFailed(ctx context.Context, id, errorMessage string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = $2, finished_at = now(), error_message = $3 WHERE id = $1`,
		id, string(model.JobStatusFailed), nullString(errorMessage),
	)
	if err != nil {
		return fmt.Errorf("ジョブの失敗記録に失敗しました: %w", err)
	}
	return nil
}

// CountByStatus は指定状態のジョブ数を返す。キュー深度の計測に使う。
func (r *PostgresSyncJobRepo) CountByStatus(ctx context.Context, status model.JobStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE status = $1`,
		string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ジョブ数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// DeleteTerminalBefore はcutoffより前に終了したdone/failedのジョブを削除し、削除件数を返す。
func (r *PostgresSyncJobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_jobs
		 WHERE status IN ($1, $2) AND finished_at < $3`,
		string(model.JobStatusDone), string(model.JobStatusFailed), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("終了済みジョブの削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SyncJobRepository = (*PostgresSyncJobRepo)(nil)
