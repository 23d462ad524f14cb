// Package model はドメインモデルを定義する。
package model

import "time"

// WellnessDay は(ユーザー, 日付)ごとのコンディション記録を表す。
// 測定値は複数ソースから届き「現在nullなら埋める」方式で統合される。
// CTL/ATL/TSBは常に導出値であり、ユーザーが直接書き込むことはできない。
type WellnessDay struct {
	ID         string
	UserID     string
	Date       string // YYYY-MM-DD
	SleepHours *float64
	RestingHR  *float64
	HRV        *float64
	WeightKg   *float64
	CTL        *float64
	ATL        *float64
	TSB        *float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MeasuredWellness は外部から受け取る測定値のみの集合を表す。
// 導出値(CTL/ATL/TSB)は含まれない。
type MeasuredWellness struct {
	SleepHours *float64
	RestingHR  *float64
	HRV        *float64
	WeightKg   *float64
}
