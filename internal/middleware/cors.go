package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization"
	corsExposeHeaders = "Retry-After"
	corsMaxAge        = "86400"
)

// corsPolicy は許可するフロントエンドのオリジン集合。
type corsPolicy struct {
	origins   map[string]struct{}
	anyOrigin bool
}

// parseCORSOrigins はカンマ区切りのオリジン一覧を読み込む。末尾の/は無視する。
func parseCORSOrigins(allowed string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{})}
	for _, o := range strings.Split(allowed, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[o] = struct{}{}
		}
	}
	return p
}

// allowOrigin はレスポンスに返すAccess-Control-Allow-Originの値を決める。
// 許可されていない場合は空文字列。
func (p corsPolicy) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if p.anyOrigin {
		return "*"
	}
	if _, ok := p.origins[origin]; ok {
		return origin
	}
	return ""
}

// NewCORSMiddleware はフロントエンドのオリジンに対するCORSミドルウェアを返す。
// allowedOriginsはカンマ区切りで複数指定でき、"*"は全オリジンを許可する。
// 一致したオリジンのみ応答ヘッダーに反映し、ベアラートークン用にAuthorizationを許可する。
// プリフライトはハンドラーに渡さず204で応答する。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	policy := parseCORSOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			allowed := policy.allowOrigin(r.Header.Get("Origin"))
			if allowed != "" {
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowed != "" {
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", corsMaxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
