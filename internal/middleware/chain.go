package middleware

import (
	"log/slog"
	"net/http"
)

// コンポーネント名。
const (
	ComponentCallback   = "callback"
	ComponentMetrics    = "metrics"
	ComponentDevBackend = "dev-backend"
)

// Middleware はhttp.Handlerをラップする関数。
type Middleware = func(next http.Handler) http.Handler

// Standard は補助サーバー共通のミドルウェアを外側から順に返す。
// chiのr.Use(Standard(...)...)かWrapに渡す。
func Standard(logger *slog.Logger, component string) []Middleware {
	return []Middleware{
		NewLoggingMiddleware(logger, component),
		NewRecoveryMiddleware(logger, component),
		NewSecurityHeadersMiddleware(),
	}
}

// Wrap はmwsを先頭が最も外側になるようにhへ適用する。
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
