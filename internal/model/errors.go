// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// サービス層が返す判別用エラー。errors.Isで判定する。
var (
	// ErrNotLinked は対象プロバイダが連携されていないことを表す。
	ErrNotLinked = errors.New("プロバイダが連携されていません")
	// ErrCredentialsRevoked は認証情報が失効し再連携が必要なことを表す。
	// このエラーが返る時点で該当プロバイダの同期データは削除済み。
	ErrCredentialsRevoked = errors.New("プロバイダの認証が失効しました")
	// ErrProviderNotConfigured はサーバー側にプロバイダのアプリ設定がないことを表す。
	ErrProviderNotConfigured = errors.New("プロバイダのアプリ設定がありません")
	// ErrInvalidCredentials は連携時の認証情報検証に失敗したことを表す。
	ErrInvalidCredentials = errors.New("認証情報の検証に失敗しました")
	// ErrDuplicateFitFile は同一内容のFITファイルが登録済みであることを表す。
	ErrDuplicateFitFile = errors.New("同じFITファイルが既に登録されています")
	// ErrWorkoutNotFound はワークアウトが存在しないことを表す。
	ErrWorkoutNotFound = errors.New("ワークアウトが見つかりません")
	// ErrSyncInFlight は同一(ユーザー, プロバイダ)の同期が既に実行中であることを表す。
	ErrSyncInFlight = errors.New("同期が既に実行中です")
	// ErrProviderUnauthorized はプロバイダAPIが認証エラーを返したことを表す。
	// 同期エンジンはこのエラーを認証情報の失効として扱い、連携解除に進む。
	ErrProviderUnauthorized = errors.New("プロバイダAPIの認証に失敗しました")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidProvider       = "INVALID_PROVIDER"
	ErrCodeNotLinked             = "NOT_LINKED"
	ErrCodeRelinkRequired        = "RELINK_REQUIRED"
	ErrCodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeDuplicateFitFile      = "DUPLICATE_FIT_FILE"
	ErrCodeWorkoutNotFound       = "WORKOUT_NOT_FOUND"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewInvalidProviderError は未知のプロバイダ指定エラーを生成する。
func NewInvalidProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("未対応のプロバイダです: %s", provider),
		Category: "validation",
		Action:   "プロバイダには strava または intervals を指定してください。",
	}
}

// NewNotLinkedError は未連携エラーを生成する。
func NewNotLinkedError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeNotLinked,
		Message:  fmt.Sprintf("%s は連携されていません。", provider),
		Category: "provider",
		Action:   "先にプロバイダ連携を行ってください。",
	}
}

// NewRelinkRequiredError は認証失効エラーを生成する。
func NewRelinkRequiredError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeRelinkRequired,
		Message:  fmt.Sprintf("%s の認証が失効しました。同期済みデータは削除されています。", provider),
		Category: "auth",
		Action:   "プロバイダを再連携してください。",
	}
}

// NewProviderNotConfiguredError はプロバイダ未設定エラーを生成する。
func NewProviderNotConfiguredError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotConfigured,
		Message:  fmt.Sprintf("%s のアプリ設定がサーバーにありません。", provider),
		Category: "system",
		Action:   "サーバー管理者にクライアントID/シークレットの設定を依頼してください。",
	}
}

// NewInvalidCredentialsError は連携時の認証情報検証失敗エラーを生成する。
func NewInvalidCredentialsError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  fmt.Sprintf("%s の認証情報を検証できませんでした。", provider),
		Category: "auth",
		Action:   "APIキーまたは認可コードが正しいか確認してください。",
	}
}

// NewDuplicateFitFileError はFITファイル重複エラーを生成する。
func NewDuplicateFitFileError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateFitFile,
		Message:  "同じ内容のFITファイルが既にアップロードされています。",
		Category: "validation",
		Action:   "別のファイルを選択してください。",
	}
}

// NewWorkoutNotFoundError はワークアウト未検出エラーを生成する。
func NewWorkoutNotFoundError(workoutID string) *APIError {
	return &APIError{
		Code:     ErrCodeWorkoutNotFound,
		Message:  fmt.Sprintf("指定されたワークアウトが見つかりません: %s", workoutID),
		Category: "validation",
		Action:   "ワークアウトIDを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewRateLimitedError はトリガー過多エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "validation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。問題が続く場合は管理者に連絡してください。",
	}
}
