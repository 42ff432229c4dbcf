package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はpanic発生時にCLIプロセスごと落ちるのを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。
func NewRecoveryMiddleware(logger *slog.Logger, component string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandlerはnet/httpが接続を切るためのもの
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panicから復帰しました",
					slog.String("component", component),
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				http.Error(w, "内部エラーが発生しました", http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
