//go:build !profiler

package profiler

import log "github.com/sirupsen/logrus"

// Stands in when the binary is built without the profiler tag. Nothing is
// bound.
func Start(address string) (func(), error) {
	log.WithField("address", address).Warn("Profiler is not available in this build; rebuild with -tags profiler")
	return func() {}, nil
}
