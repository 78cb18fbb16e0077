package restservice

import (
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/server/eventcenter"
	"argela.com/bpsim/server/metrics"
)

// Response writer remembering the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// The SSE handler flushes the events through the wrapped writer.
func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Install a middleware that traces ReST calls using logrus.
func loggingMiddleware(next http.Handler) http.Handler {
	log.Info("installed logging middleware")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			remoteAddr = realIP
		}
		entry := log.WithFields(log.Fields{
			"path":   r.RequestURI,
			"method": r.Method,
			"remote": remoteAddr,
		})

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		entry.WithFields(log.Fields{
			"status": recorder.status,
			"took":   time.Since(start),
		}).Info("served request")
	})
}

// Install a middleware that is serving `server-sent events` (SSE).
func sseMiddleware(next http.Handler, eventCenter eventcenter.EventCenter) http.Handler {
	log.Info("installed SSE middleware")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/sse") {
			eventCenter.ServeHTTP(w, r)
		} else {
			// pass request to another handler
			next.ServeHTTP(w, r)
		}
	})
}

// Install a middleware that is serving the metrics.
func metricsMiddleware(next http.Handler, collector metrics.Collector) http.Handler {
	log.Info("installed metrics middleware")
	metricsHandler := collector.GetHTTPHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			metricsHandler.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r)
		}
	})
}

// Global middleware function provides a common place to setup middlewares
// for the server. The SSE and metrics endpoints are installed only when
// the event center and the collector are configured.
func (r *RestAPI) GlobalMiddleware(handler http.Handler) http.Handler {
	// last handler is executed first for incoming request
	if r.MetricsCollector != nil {
		handler = metricsMiddleware(handler, r.MetricsCollector)
	}
	if r.EventCenter != nil {
		handler = sseMiddleware(handler, r.EventCenter)
	}
	handler = loggingMiddleware(handler)
	return handler
}
