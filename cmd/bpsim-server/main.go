package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"argela.com/bpsim"
	"argela.com/bpsim/profiler"
	"argela.com/bpsim/server"
	bpsimutil "argela.com/bpsim/util"
)

func main() {
	// Setup logging
	bpsimutil.SetupLogging()

	// Initialize global state of the simulator server
	ss, command, err := server.NewBPSimServerFromArgs()
	if err != nil {
		log.Fatalf("Unexpected error: %+v", err)
	}

	switch command {
	case server.HelpCommand:
		// The help is printed by the parser.
		return
	case server.VersionCommand:
		fmt.Printf("%s\n", bpsim.Version)
		return
	case server.RunCommand:
	default:
		log.Fatalf("Not implemented command: %s", command)
	}

	log.WithField("version", bpsim.Version).Info("Starting BPSim Server")

	if port := ss.Settings.GeneralSettings.ProfilerPort; port != 0 {
		stopProfiler, err := profiler.Start(bpsimutil.HostWithPort("", int64(port)))
		if err != nil {
			ss.Shutdown()
			log.Fatalf("Cannot start the profiler: %+v", err)
		}
		defer stopProfiler()
	}

	if err = ss.Bootstrap(); err != nil {
		ss.Shutdown()
		log.Fatalf("Cannot start the BPSim Server: %+v", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		received := <-signals
		log.WithField("signal", received.String()).Info("Received signal")
		ss.Shutdown()
	}()

	if err = ss.Serve(); err != nil {
		log.Fatalf("FATAL error: %+v", err)
	}
}
