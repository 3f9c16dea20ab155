package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

var urlCleaner = strings.NewReplacer("%0A", "", "%0a", "", "\r", "", "\n", "")

// normalizeURL strips stray newlines (raw or %0A) and trailing whitespace
// that some clients append to the path.
func normalizeURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.RawPath
		path := r.URL.Path

		cleanPath := strings.TrimRight(urlCleaner.Replace(path), " \t")
		if cleanPath != path {
			r.URL.Path = cleanPath
			if raw != "" {
				r.URL.RawPath = strings.TrimRight(urlCleaner.Replace(raw), " \t")
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logging.Info(r.Context(), log, "http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("query", r.URL.RawQuery),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
