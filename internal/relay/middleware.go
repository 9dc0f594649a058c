package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
)

// requestLog writes one line per request. Bodies are left out, they
// carry chat content.
func requestLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middlewareChi.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("req_id", middlewareChi.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("user", UserIDFromCtx(r.Context()).String()),
			)
		})
	}
}

// touchMember records that the caller looked at the room in the path.
// Failures never fail the request.
func touchMember(store Store, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := UserIDFromCtx(r.Context()); user != 0 {
				if roomID := chi.URLParam(r, "roomId"); roomID != "" {
					if err := store.TouchMember(r.Context(), roomID, user); err != nil {
						log.Debug("touch member", slog.String("room", roomID), slog.Any("err", err))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
