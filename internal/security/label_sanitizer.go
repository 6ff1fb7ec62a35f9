// Package security はアプリケーションのセキュリティ機能を提供する。
//
// LabelSanitizer はユーザーが指定したファイル名などの表示用ラベルから
// HTMLを取り除き、クライアントがそのまま描画しても安全なプレーンテキストにする。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxLabelLength はラベルの最大文字数（DBカラムの上限と一致）。
const DefaultMaxLabelLength = 255

// LabelSanitizerService はラベルのサニタイズ機能のインターフェース。
type LabelSanitizerService interface {
	// Sanitize はHTMLタグと制御文字を除去し、前後の空白を落とし、最大文字数で切り詰める。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(label string) string
}

// labelSanitizer はbluemondayのStrictPolicyによるLabelSanitizerServiceの実装。
type labelSanitizer struct {
	policy    *bluemonday.Policy
	maxLength int
	brackets  *strings.Replacer
}

// NewLabelSanitizer はLabelSanitizerServiceの新しいインスタンスを生成する。
// maxLengthが0以下の場合はDefaultMaxLabelLengthを使用する。
func NewLabelSanitizer(maxLength int) LabelSanitizerService {
	if maxLength <= 0 {
		maxLength = DefaultMaxLabelLength
	}
	return &labelSanitizer{
		policy:    bluemonday.StrictPolicy(),
		maxLength: maxLength,
		brackets:  strings.NewReplacer("<", "", ">", ""),
	}
}

// Sanitize はラベルをプレーンテキストに変換する。
// StrictPolicyがエスケープした実体参照は戻すが、山括弧は残さない。
func (s *labelSanitizer) Sanitize(label string) string {
	out := html.UnescapeString(s.policy.Sanitize(label))
	out = s.brackets.Replace(out)
	out = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, out)
	out = strings.TrimSpace(out)

	if r := []rune(out); len(r) > s.maxLength {
		out = strings.TrimSpace(string(r[:s.maxLength]))
	}
	return out
}
