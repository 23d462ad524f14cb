// Package model はドメインモデルを定義する。
package model

import "time"

// SyncJob は同期待機列のジョブを表す。
// レート制限により即時同期できなかったユーザーの同期要求を永続化する。
type SyncJob struct {
	ID           string
	UserID       string
	Provider     Provider
	Status       JobStatus
	RequestedAt  time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ErrorMessage string
}

// JobStatus は同期ジョブの状態を表す。
type JobStatus string

const (
	// JobStatusPending は実行待ちの状態。
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning は実行中の状態。
	JobStatusRunning JobStatus = "running"
	// JobStatusDone は正常終了した終端状態。
	JobStatusDone JobStatus = "done"
	// JobStatusFailed は失敗した終端状態。失敗ジョブは自動では再実行されない。
	JobStatusFailed JobStatus = "failed"
)

// JobErrorMaxLen はジョブに記録するエラーメッセージの最大長。
const JobErrorMaxLen = 500
