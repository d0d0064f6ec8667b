package httpapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"pkt.systems/moneta/internal/logx"
)

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// withRequestLogging attaches a request-scoped logger to the context and logs
// each request once it completes.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := logx.Ctx(r.Context()).With(
			"method", r.Method,
			"path", r.URL.Path,
			"remote", clientIP(r),
		)
		ctx := logx.ContextWithLogger(r.Context(), log)
		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r.WithContext(ctx))
		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		log.Debug("http request",
			"status", recorder.status,
			"bytes", recorder.bytes,
			"duration", time.Since(start).Round(time.Microsecond).String(),
		)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
