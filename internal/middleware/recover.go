package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/reciperun/pipeline/internal/pkg/response"
)

// Recover stops a panic from taking down the whole process: it logs the
// panic and stack trace, reports to Sentry when configured, and answers
// the in-flight request with a 500 instead of letting the connection
// die. Panic handling doesn't vary with route count or body shape, so
// this is the same net regardless of how many endpoints sit behind it.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				logger.Error("panic recovered",
					slog.Any("error", recovered),
					slog.String("stack", string(debug.Stack())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)

				// RecoverWithContext is a no-op when Sentry isn't configured.
				sentry.CurrentHub().RecoverWithContext(r.Context(), recovered)
				sentry.Flush(2 * time.Second)

				response.InternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
