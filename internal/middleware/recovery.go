package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/hitoshi/audiobox/internal/metrics"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 統一フォーマットの500レスポンスを返すミドルウェアを生成する。
// panicは内側のログミドルウェアを飛ばすため、アクセスログとメトリクスもここで記録する。
func NewRecoveryMiddleware(logger *slog.Logger, recorder metrics.Recorder) func(next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", http.StatusInternalServerError),
					slog.String("stack", string(debug.Stack())),
				)
				recorder.RecordHTTPStatus(http.StatusInternalServerError)
				recorder.RecordRequestLatency(time.Since(start))
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
