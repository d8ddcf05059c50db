// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// accessTokenContextKey はリクエストコンテキストにアクセストークンを格納するためのキー。
var accessTokenContextKey = contextKey("access_token")

// bearerToken はAuthorizationヘッダーからトークンを取り出す。
// ヘッダーが無い場合はokがfalse。"Bearer "接頭辞が無い値はそのままトークンとみなす。
func bearerToken(r *http.Request) (token string, ok bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix)), true
}

// NewBearerTokenMiddleware はAuthorizationヘッダーのアクセストークンを
// リクエストコンテキストに注入するミドルウェアを返す。
// 検証はIdPの責務のため、ここではヘッダーの有無以外を判定しない。
func NewBearerTokenMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				r = r.WithContext(ContextWithAccessToken(r.Context(), token))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccessTokenFromContext はリクエストコンテキストからアクセストークンを取得する。
// Authorizationヘッダーが無かった場合はokがfalse。
func AccessTokenFromContext(ctx context.Context) (token string, ok bool) {
	token, ok = ctx.Value(accessTokenContextKey).(string)
	return token, ok
}

// ContextWithAccessToken はコンテキストにアクセストークンを注入する。
func ContextWithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenContextKey, token)
}
