// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer は利用者が入力した氏名からマークアップを取り除き、
// ディレクトリレコードやAPI応答にHTMLが混入しないようにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer は表示名のサニタイズ機能のインターフェースを定義する。
type NameSanitizer interface {
	// Sanitize はタグをすべて除去し、前後の空白を取り除いた文字列を返す。
	// script, styleタグは中身ごと除去する。
	// 空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有してよい。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
// 許可タグなしのStrictPolicyを使う。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses はエンティティの多重エンコードを剥がす回数の上限。
const maxSanitizePasses = 8

// Sanitize はタグを除去した氏名を返す。
// StrictPolicyは&や'をエスケープするため、保存用に元の文字へ戻す。
// 戻した結果がタグとして解釈されうるので、出力が変化しなくなるまで繰り返す。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	current := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(current))
		if next == current {
			return strings.TrimSpace(next)
		}
		current = next
	}
	// 収束しない入力はエスケープしたまま保存する
	return strings.TrimSpace(s.policy.Sanitize(current))
}

// compile-time interface check
var _ NameSanitizer = (*nameSanitizer)(nil)
