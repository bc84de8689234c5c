package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// StreamLimits bounds a long-lived response such as the event stream.
//   - maxDuration caps the connection lifetime; clients reconnect after it.
//   - idleTimeout cancels the stream when nothing has been written for that
//     long, which means keep-alives stopped reaching the socket.
//
// Unlike http.TimeoutHandler it does not buffer, so Flush keeps working.
func StreamLimits(maxDuration, idleTimeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), maxDuration)
			defer cancel()

			rc := http.NewResponseController(w)
			_ = rc.SetReadDeadline(time.Time{})

			sw := &streamingWriter{
				ResponseWriter: w,
				rc:             rc,
				idleTimeout:    idleTimeout,
				cancel:         cancel,
				path:           r.URL.Path,
			}
			sw.resetIdle()

			next.ServeHTTP(sw, r.WithContext(ctx))

			sw.mu.Lock()
			sw.done = true
			if sw.idleTimer != nil {
				sw.idleTimer.Stop()
			}
			sw.mu.Unlock()
		})
	}
}

type streamingWriter struct {
	http.ResponseWriter
	rc          *http.ResponseController
	idleTimeout time.Duration
	cancel      context.CancelFunc
	path        string
	mu          sync.Mutex
	idleTimer   *time.Timer
	done        bool
}

func (sw *streamingWriter) resetIdle() {
	if sw.idleTimeout <= 0 {
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.done {
		return
	}
	if sw.idleTimer != nil {
		sw.idleTimer.Stop()
	}

	sw.idleTimer = time.AfterFunc(sw.idleTimeout, func() {
		slog.Warn("stream idle, closing", "path", sw.path, "idle_timeout", sw.idleTimeout.String())
		// Blocked writes fail immediately once the deadline is in the past.
		_ = sw.rc.SetWriteDeadline(time.Now())
		sw.cancel()
	})
}

func (sw *streamingWriter) Write(b []byte) (int, error) {
	sw.resetIdle()
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the real writer.
func (sw *streamingWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func (sw *streamingWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
