package security

import (
	"strings"
	"testing"
)

func TestNameSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "通常の氏名はそのまま",
			input: "Jane Doe",
			want:  "Jane Doe",
		},
		{
			name:  "前後の空白を除去",
			input: "  Jane Doe  ",
			want:  "Jane Doe",
		},
		{
			name:  "内側の空白は保持",
			input: "Jane  Q  Doe",
			want:  "Jane  Q  Doe",
		},
		{
			name:  "タグを除去して中身を残す",
			input: "Jane <b>Doe</b>",
			want:  "Jane Doe",
		},
		{
			name:  "scriptタグは中身ごと除去",
			input: "<script>alert(1)</script>Jane",
			want:  "Jane",
		},
		{
			name:  "アポストロフィはエスケープされない",
			input: "Conan O'Brien",
			want:  "Conan O'Brien",
		},
		{
			name:  "アンパサンドはエスケープされない",
			input: "Tom & Jerry",
			want:  "Tom & Jerry",
		},
		{
			name:  "日本語の氏名",
			input: "山田 太郎",
			want:  "山田 太郎",
		},
		{
			name:  "空文字列",
			input: "",
			want:  "",
		},
		{
			name:  "エンティティで書かれたタグも除去",
			input: "&lt;script&gt;alert(1)&lt;/script&gt; Doe",
			want:  "Doe",
		},
		{
			name:  "二重エンコードされたタグも除去",
			input: "Jane &amp;lt;b&amp;gt;Doe&amp;lt;/b&amp;gt;",
			want:  "Jane Doe",
		},
		{
			name:  "エンティティ表記の記号は元に戻す",
			input: "Tom &amp; Jerry",
			want:  "Tom & Jerry",
		},
		{
			name:  "タグのみの場合は空文字列",
			input: "<img src=x onerror=alert(1)>",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNameSanitizer_Idempotent(t *testing.T) {
	sanitizer := NewNameSanitizer()

	inputs := []string{
		"Jane Doe",
		"Jane <i>Doe</i>",
		"Tom & Jerry",
		"O'Brien",
		"&lt;script&gt;alert(1)&lt;/script&gt; Doe",
		"&lt;img src=x onerror=alert(1)&gt;Jane",
	}
	for _, in := range inputs {
		once := sanitizer.Sanitize(in)
		twice := sanitizer.Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q -> %q", in, once, twice)
		}
		if strings.ContainsAny(once, "<>") {
			t.Errorf("Sanitize(%q) = %q, still contains markup", in, once)
		}
	}
}
