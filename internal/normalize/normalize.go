// Package normalize はプロバイダ間で揺れるフィールド表現を正準単位に変換する。
// duration は秒(int64)、distance はメートル(float64)、時刻はUTCに揃える。
// 解釈できない値はnilになる。ゼロは正当な「休養」値でありnilとは区別する。
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DurationSec は秒数・"H:MM:SS"・"MM:SS"・数値文字列のいずれかを秒に変換する。
// 解釈できない値や負値はnilを返す。
func DurationSec(v any) *int64 {
	switch d := v.(type) {
	case nil:
		return nil
	case int:
		return nonNegativeInt64(int64(d))
	case int32:
		return nonNegativeInt64(int64(d))
	case int64:
		return nonNegativeInt64(d)
	case float32:
		return nonNegativeInt64(int64(d))
	case float64:
		return nonNegativeInt64(int64(d))
	case json.Number:
		if f, err := d.Float64(); err == nil {
			return nonNegativeInt64(int64(f))
		}
		return nil
	case string:
		return durationFromString(d)
	}
	return nil
}

func durationFromString(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.Contains(s, ":") {
		return durationFromClock(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return nonNegativeInt64(int64(f))
}

// durationFromClock は"H:MM:SS"または"MM:SS"形式を秒に変換する。
func durationFromClock(s string) *int64 {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || n < 0 {
			return nil
		}
		total = total*60 + n
	}
	return nonNegativeInt64(total)
}

func nonNegativeInt64(n int64) *int64 {
	if n < 0 {
		return nil
	}
	return &n
}

// DistanceM は数値または数値文字列をメートルに変換する。
// 解釈できない値や負値はnilを返す。
func DistanceM(v any) *float64 {
	switch d := v.(type) {
	case nil:
		return nil
	case int:
		return nonNegativeFloat(float64(d))
	case int64:
		return nonNegativeFloat(float64(d))
	case float32:
		return nonNegativeFloat(float64(d))
	case float64:
		return nonNegativeFloat(d)
	case json.Number:
		if f, err := d.Float64(); err == nil {
			return nonNegativeFloat(f)
		}
		return nil
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return nonNegativeFloat(f)
	}
	return nil
}

func nonNegativeFloat(f float64) *float64 {
	if f < 0 {
		return nil
	}
	return &f
}

// KmToM はキロメートル単位で届いた距離をメートルに変換する。
func KmToM(km float64) float64 {
	return km * 1000
}

// instantLayouts はプロバイダが返す時刻表現。タイムゾーンなしはUTCとして扱う。
var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseInstant はプロバイダの時刻文字列をUTCのtime.Timeに変換する。
func ParseInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Date はUTC基準のYYYY-MM-DD日付キーを返す。
func Date(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ParseDate はYYYY-MM-DD日付キーをUTC深夜0時のtime.Timeに変換する。
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Truncate は文字列をルーン単位で最大n文字に切り詰める。
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
