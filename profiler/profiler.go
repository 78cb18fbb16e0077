//go:build profiler

package profiler

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Binds the pprof endpoint to the address and serves it in the background.
// Returns the function stopping the endpoint. The endpoint has no
// authentication.
func Start(address string) (func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot bind the profiler to %s", address)
	}

	router := http.NewServeMux()
	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: time.Minute,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.WithField("address", listener.Addr().String()).Info("Serving profiler endpoint")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Profiler endpoint failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Profiler endpoint did not stop gracefully")
		}
		<-done
	}, nil
}
