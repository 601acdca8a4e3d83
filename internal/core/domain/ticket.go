package domain

import (
	"regexp"
	"strings"
)

// Ticket は過去のサポートチケットを表す（取り込み後は不変）
type Ticket struct {
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Resolution string `json:"resolution,omitempty"`

	// 取り込みファイル由来の任意メタデータ
	Status    string `json:"status,omitempty"`
	Priority  string `json:"priority,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// TextSeparator は Embedding 用テキストのフィールド区切り
const TextSeparator = "\n\n"

var horizontalSpace = regexp.MustCompile(`[ \t\f\v]+`)

// NormalizeText は改行コードを統一し、連続する空白を1つにまとめる
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// EmbeddingText は subject / body / resolution を固定の区切りで連結した Embedding 入力を返す。
// 空のフィールドは含めない
func (t Ticket) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, field := range []string{t.Subject, t.Body, t.Resolution} {
		if normalized := NormalizeText(field); normalized != "" {
			parts = append(parts, normalized)
		}
	}
	return strings.Join(parts, TextSeparator)
}
