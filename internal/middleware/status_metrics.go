package middleware

import "net/http"

// StatusCounter はHTTPステータスコードの集計先。
// metrics.MetricsCollectorの部分集合として定義する。
type StatusCounter interface {
	RecordHTTPStatus(statusCode int)
}

// NewStatusMetricsMiddleware はレスポンスのステータスコードを集計するミドルウェアを返す。
func NewStatusMetricsMiddleware(counter StatusCounter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(rec, r)
			counter.RecordHTTPStatus(rec.statusCode)
		})
	}
}
