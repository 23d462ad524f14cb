// Package model はドメインモデルを定義する。
package model

import "time"

// Provider は連携先の外部フィットネスプラットフォームを表す。
type Provider string

const (
	// ProviderStrava はStrava連携。
	ProviderStrava Provider = "strava"
	// ProviderIntervals はIntervals.icu連携。
	ProviderIntervals Provider = "intervals"
)

// ParseProvider は文字列をProviderに変換する。未知の値はfalseを返す。
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderStrava:
		return ProviderStrava, true
	case ProviderIntervals:
		return ProviderIntervals, true
	}
	return "", false
}

// Source は同期由来ワークアウトに付与される出所を返す。
func (p Provider) Source() Source {
	switch p {
	case ProviderStrava:
		return SourceStrava
	default:
		return SourceIntervals
	}
}

// ProviderCredentials は(ユーザー, プロバイダ)ごとの認証情報を表す。
// RefreshSecretは保存時に暗号化され、リポジトリ層で復号済みの値がここに載る。
type ProviderCredentials struct {
	ID             string
	UserID         string
	Provider       Provider
	RefreshSecret  string // Stravaはリフレッシュトークン、Intervals.icuはAPIキー
	AccessToken    string
	TokenExpiresAt *time.Time
	AthleteID      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProviderToken はトークンエンドポイントの応答を表す。
type ProviderToken struct {
	AccessToken   string
	RefreshSecret string // ローテーションされた場合のみ非空
	ExpiresAt     time.Time
	AthleteID     string // 交換応答に含まれる場合のみ非空
}
