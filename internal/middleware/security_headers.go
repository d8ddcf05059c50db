package middleware

import "net/http"

// apiSecurityHeaders はJSONのみを返す認証APIに付与する固定ヘッダー。
// 応答にはトークンが含まれるため、キャッシュとフレーム埋め込みを禁止する。
var apiSecurityHeaders = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
	{"Pragma", "no-cache"},
}

// hstsValue はHTTPS経由のリクエストに返すStrict-Transport-Security。
const hstsValue = "max-age=31536000; includeSubDomains"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// HSTSはTLS終端済み（X-Forwarded-Proto: https）の場合にも付与する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range apiSecurityHeaders {
				h.Set(kv[0], kv[1])
			}
			if isHTTPS(r) {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
