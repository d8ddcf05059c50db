package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラーのpanicを捕捉し、統一フォーマットの500を返すミドルウェアを生成する。
// 応答の書き込みが始まった後のpanicでは本文を追記せず、ログのみ出力する。
// http.ErrAbortHandlerはnet/httpに処理させるため再送出する。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("panic", v),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("client_ip", ClientIP(r)),
					slog.Bool("response_started", rec.written),
					slog.String("stack", string(debug.Stack())),
				)
				if !rec.written {
					WriteInternalServerError(rec)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
