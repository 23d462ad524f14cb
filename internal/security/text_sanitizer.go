// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はワークアウト名やメモなどの自由記述テキストを無害化する。
// プロバイダ応答・FITファイル・手動入力のいずれ由来でも、保存前に
// 全HTMLタグを除去して素のテキストに落とす。出力は下流のUIで
// そのまま表示できることを前提とする。
type TextSanitizer struct {
	policy *bluemonday.Policy
	maxLen int
}

// NewTextSanitizer はTextSanitizerを生成する。
// maxLenはルーン単位の最大長。0以下なら長さ制限なし。
func NewTextSanitizer(maxLen int) *TextSanitizer {
	// StrictPolicyは全ての要素と属性を除去する
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
		maxLen: maxLen,
	}
}

// Sanitize はテキストからHTMLを除去し、実体参照を戻し、
// 連続する空白を1つに畳んで返す。同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(raw)
	// bluemondayは < 等を実体参照のまま残すため表示用に戻す
	cleaned = html.UnescapeString(cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if s.maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > s.maxLen {
			cleaned = string(runes[:s.maxLen])
		}
	}
	return cleaned
}
