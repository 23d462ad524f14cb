// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
)

// WorkoutRepository はワークアウトデータの永続化インターフェース。
// 自然キー（(user_id, external_id) および (user_id, fit_checksum)）による
// 検索と、照合・マージ後の書き戻しを提供する。
type WorkoutRepository interface {
	// FindByID は指定ユーザーの指定IDのワークアウトを取得する。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Workout, error)

	// FindByExternalID はプロバイダ側アクティビティIDでワークアウトを検索する。
	// 同一性判定の最優先手段。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, userID, externalID string) (*model.Workout, error)

	// FindByFitChecksum はFITファイルのSHA-256チェックサムでワークアウトを検索する。
	// 同一ファイル再アップロードの検出に使う。見つからない場合はnilを返す。
	FindByFitChecksum(ctx context.Context, userID, checksum string) (*model.Workout, error)

	// ListByDateRange は開始時刻が[from, to)の範囲のワークアウトを
	// start_date昇順で返す。
	ListByDateRange(ctx context.Context, userID string, from, to time.Time) ([]*model.Workout, error)

	// Create はワークアウトを新規作成する。IDが空なら生成して設定する。
	// (user_id, external_id)の一意制約違反はそのまま返す。呼び出し側が
	// IsUniqueViolationで検出し、再読込とマージで解決する。
	Create(ctx context.Context, w *model.Workout) error

	// Update は既存ワークアウトを上書き更新する。履歴は保持しない。
	Update(ctx context.Context, w *model.Workout) error

	// Delete は指定ユーザーのワークアウトを削除する。
	// 削除した場合はtrue、存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)
}

// CredentialRepository はプロバイダ認証情報の永続化インターフェース。
// リフレッシュシークレットは保存時に暗号化し、取得時に復号する。
type CredentialRepository interface {
	// FindByUserAndProvider は(user_id, provider)の認証情報を取得する。
	// 見つからない場合はnilを返す。
	FindByUserAndProvider(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error)

	// Upsert は(user_id, provider)の認証情報を冪等に作成または置き換える。
	// 再連携時は新しいシークレットで全フィールドを上書きする。
	Upsert(ctx context.Context, creds *model.ProviderCredentials) error

	// UpdateTokens はトークンリフレッシュの結果を永続化する。
	// refreshSecretが空文字列の場合は既存のシークレットを維持する
	// （プロバイダがローテーションしなかった場合）。
	UpdateTokens(ctx context.Context, id, accessToken string, expiresAt time.Time, refreshSecret string) error

	// ListByProvider は指定プロバイダの全認証情報を返す。
	// 定期ポーリングの対象列挙に使う。
	ListByProvider(ctx context.Context, provider model.Provider) ([]*model.ProviderCredentials, error)

	// UnlinkCascade はプロバイダ連携を単一トランザクションで解除する。
	// 該当プロバイダ由来のワークアウト、該当(user, provider)の未実行ジョブ、
	// 認証情報の3つをまとめて削除する。トークン失効時の自動解除と
	// ユーザー操作による解除の両方がここを通る。
	UnlinkCascade(ctx context.Context, userID string, provider model.Provider) error
}

// SyncJobRepository は同期ジョブキューの永続化インターフェース。
type SyncJobRepository interface {
	// Enqueue はpending状態のジョブを作成する。IDが空なら生成して設定する。
	Enqueue(ctx context.Context, job *model.SyncJob) error

	// HasPending は(user_id, provider)のpendingジョブが存在するかを返す。
	// 重複エンキューの抑止に使う。
	HasPending(ctx context.Context, userID string, provider model.Provider) (bool, error)

	// ClaimOldestPending は最古のpendingジョブを1件claimしてrunningに遷移させる。
	// providersを指定した場合は該当プロバイダのジョブに限定する。呼び出し予算が
	// 残っているプロバイダだけをワーカーが渡すための絞り込み。
	// FOR UPDATE SKIP LOCKEDで排他的に取得するため、複数ワーカーが同一ジョブを
	// 二重処理することはない。対象がない場合はnilを返す。
	ClaimOldestPending(ctx context.Context, providers ...model.Provider) (*model.SyncJob, error)

	// MarkDone はジョブをdoneに遷移させ、終了時刻を記録する。
	MarkDone(ctx context.Context, id string) error

	// MarkFailed はジョブをfailedに遷移させ、エラーメッセージと終了時刻を記録する。
	MarkFailed(ctx context.Context, id, errorMessage string) error

	// CountByStatus は指定状態のジョブ数を返す。キュー深度の計測に使う。
	CountByStatus(ctx context.Context, status model.JobStatus) (int, error)

	// DeleteTerminalBefore はcutoffより前に終了したdone/failedのジョブを削除し、
	// 削除件数を返す。
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WellnessRepository は日次コンディション記録の永続化インターフェース。
type WellnessRepository interface {
	// FindByDate は(user_id, date)の記録を取得する。見つからない場合はnilを返す。
	FindByDate(ctx context.Context, userID, date string) (*model.WellnessDay, error)

	// ListRange は[fromDate, toDate]の記録を日付昇順で返す。
	ListRange(ctx context.Context, userID, fromDate, toDate string) ([]*model.WellnessDay, error)

	// FillFromProvider はプロバイダ由来の記録を冪等にUPSERTする。
	// 測定値（睡眠・心拍等）は既存値がnullの場合のみ埋め、
	// 導出値(ctl/atl/tsb)はプロバイダ値が非nullなら上書きする。
	FillFromProvider(ctx context.Context, day *model.WellnessDay) error

	// UpsertMeasured は手動入力の測定値を冪等にUPSERTする。
	// 非nilの入力フィールドのみ上書きし、nilフィールドと導出値は変更しない。
	UpsertMeasured(ctx context.Context, userID, date string, m *model.MeasuredWellness) error

	// LatestWithDerived は範囲内でctlが非nullの最新日の記録を返す。
	// プロバイダ提供のCTL/ATL/TSBを自前計算より優先する判定に使う。
	// 見つからない場合はnilを返す。
	LatestWithDerived(ctx context.Context, userID, fromDate, toDate string) (*model.WellnessDay, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
