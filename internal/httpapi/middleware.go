package httpapi

import (
	"net/http"
	"time"

	"github.com/MimeLyc/srt-translator/pkg/log"
)

type wrappedWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *wrappedWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *wrappedWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// silentPaths are polled often and only logged on errors.
var silentPaths = map[string]bool{
	"/api/health": true,
	"/api/jobs":   true,
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &wrappedWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		if r.Method == http.MethodGet && silentPaths[r.URL.Path] && wrapped.statusCode < 400 {
			return
		}
		log.Debug("%s %s %d %s", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}
