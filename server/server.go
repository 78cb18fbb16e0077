package server

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"muzzammil.xyz/jsonc"

	"argela.com/bpsim"
	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/dhcp"
	"argela.com/bpsim/server/eventcenter"
	"argela.com/bpsim/server/eventsink"
	"argela.com/bpsim/server/metrics"
	"argela.com/bpsim/server/packet"
	"argela.com/bpsim/server/pool"
	"argela.com/bpsim/server/restservice"
	"argela.com/bpsim/server/session"
	"argela.com/bpsim/server/storm"
	"argela.com/bpsim/server/transport"
	bpsimutil "argela.com/bpsim/util"
)

// Global simulator server state.
type BPSimServer struct {
	Settings *Settings

	EventCenter eventcenter.EventCenter
	Pool        *pool.Pool
	Registry    *session.Registry
	Workers     *bpsimutil.PausablePool
	Transport   *transport.Server
	Engine      *dhcp.Engine
	Storm       *storm.Controller

	KafkaSink        *eventsink.KafkaSink
	MetricsCollector metrics.Collector
	LeaseSweeper     *bpsimutil.PeriodicExecutor

	RestAPI *restservice.RestAPI

	relayCancel context.CancelFunc
	relayDone   chan struct{}
}

// Parses the command line and returns the command to execute. The server
// is constructed only for the run command.
func NewBPSimServerFromArgs() (ss *BPSimServer, command Command, err error) {
	command, settings, err := NewCLIParser().Parse()
	if err != nil || command != RunCommand {
		return nil, command, err
	}
	ss, err = NewBPSimServer(settings)
	return ss, command, err
}

// Creates the server components. Nothing is listening until the server
// is bootstrapped.
func NewBPSimServer(settings *Settings) (ss *BPSimServer, err error) {
	ss = &BPSimServer{Settings: settings}

	codec, err := newCodec(settings.DHCPSettings)
	if err != nil {
		return nil, err
	}

	ss.Pool, err = pool.NewPool(settings.PoolSettings.PoolSettings())
	if err != nil {
		return nil, err
	}

	ss.EventCenter = eventcenter.NewEventCenter()
	defer func() {
		if err != nil {
			ss.EventCenter.Shutdown()
		}
	}()

	if settings.KafkaSettings.Enabled() {
		ss.KafkaSink, err = eventsink.NewKafkaSink(*settings.KafkaSettings)
		if err != nil {
			return nil, err
		}
		ss.EventCenter.RegisterSink(ss.KafkaSink)
	}

	ss.Registry = session.NewRegistry(settings.DHCPSettings.MaxSessions, ss.Pool, ss.EventCenter)

	workers := settings.TransportSettings.Workers
	if workers < 1 {
		workers = 1
	}
	ss.Workers = bpsimutil.NewPausablePool(workers)
	ss.Transport = transport.NewServer(*settings.TransportSettings, ss.Workers)

	topology := settings.TopologySettings.Topology()
	ss.Engine = dhcp.NewEngine(ss.Registry, ss.Pool, codec, ss.Transport, ss.Workers, dhcp.Settings{
		Topology:  topology,
		LeaseTime: settings.DHCPSettings.LeaseTime,
	})
	ss.Transport.RegisterHandler(ss.Engine)

	ss.Storm = storm.NewController(ss.Engine, ss.Registry, ss.EventCenter, topology)
	ss.EventCenter.RegisterSnapshotSources(ss.Registry, ss.Storm)

	if settings.GeneralSettings.EnableMetricsEndpoint {
		ss.MetricsCollector, err = metrics.NewCollector(ss.Registry, ss.Storm, settings.GeneralSettings.MetricsInterval)
		if err != nil {
			ss.Workers.Stop()
			return nil, err
		}
		log.Info("The metrics endpoint is enabled (ensure that it is properly secured)")
	} else {
		log.Warn("The metrics endpoint is disabled (it can be enabled with the -m flag)")
	}

	ss.RestAPI, err = restservice.NewRestAPI(settings.RestAPISettings, ss.Engine, ss.Storm, ss.EventCenter, ss.MetricsCollector)
	if err != nil {
		if ss.MetricsCollector != nil {
			ss.MetricsCollector.Shutdown()
		}
		ss.Workers.Stop()
		return nil, err
	}

	return ss, nil
}

// Creates the codec from the configured addresses.
func newCodec(settings *DHCPSettings) (*packet.Codec, error) {
	serverMAC, err := net.ParseMAC(settings.ServerMAC)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server MAC address %s", settings.ServerMAC)
	}
	broadcastMAC, err := net.ParseMAC(settings.BroadcastMAC)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid broadcast MAC address %s", settings.BroadcastMAC)
	}
	if settings.VlanPriority > 7 {
		return nil, errors.Errorf("invalid VLAN priority %d; it must be in range 0-7", settings.VlanPriority)
	}
	return packet.NewCodec(serverMAC, broadcastMAC, settings.VlanPriority), nil
}

// Reads the idle sessions from the JSON file. The file may contain
// comments.
func loadSeedFile(path string) ([]datamodel.IdleSessionSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read the seed file %s", path)
	}
	var specs []datamodel.IdleSessionSpec
	if err = jsonc.Unmarshal(raw, &specs); err != nil {
		return nil, errors.Wrapf(err, "cannot parse the seed file %s", path)
	}
	return specs, nil
}

// Starts the openolt service and the background tasks, seeds the idle
// sessions and opens the REST API listener.
func (ss *BPSimServer) Bootstrap() (err error) {
	general := ss.Settings.GeneralSettings

	if general.SeedFile != "" {
		specs, err := loadSeedFile(general.SeedFile)
		if err != nil {
			return err
		}
		if _, err = ss.Engine.SeedIdleSessions(specs); err != nil {
			return errors.WithMessagef(err, "cannot seed the idle sessions from %s", general.SeedFile)
		}
	}

	if err = ss.Transport.Start(); err != nil {
		return err
	}

	if general.Loopback {
		if err = ss.startRelay(); err != nil {
			return err
		}
	}

	if general.LeaseSweepInterval > 0 {
		ss.LeaseSweeper, err = bpsimutil.NewPeriodicExecutor(
			"lease sweeper",
			func() error {
				ss.Registry.SweepExpiredLeases(bpsimutil.UTCNow())
				return nil
			},
			func() (time.Duration, error) {
				return general.LeaseSweepInterval, nil
			},
		)
		if err != nil {
			return err
		}
	}

	return ss.RestAPI.Listen()
}

// Connects the loopback relay to the own openolt service.
func (ss *BPSimServer) startRelay() error {
	address := ss.Transport.Address()
	if address == nil {
		return errors.New("the openolt service is not listening")
	}
	_, port, err := net.SplitHostPort(address.String())
	if err != nil {
		return errors.Wrapf(err, "invalid openolt service address %s", address)
	}
	target := net.JoinHostPort("localhost", port)
	client, err := transport.NewClient(target)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ss.relayCancel = cancel
	ss.relayDone = make(chan struct{})
	relay := transport.NewRelay(client, transport.DefaultRelayQueueSize)
	go func() {
		defer close(ss.relayDone)
		defer client.Close()
		if err := relay.Run(ctx); err != nil {
			log.WithError(err).Error("Loopback relay stopped")
		}
	}()
	log.WithField("target", target).Info("Started loopback relay")
	return nil
}

// Run the REST API. It blocks until the API is shut down.
func (ss *BPSimServer) Serve() error {
	return ss.RestAPI.Serve()
}

// Returns the address of the REST API.
func (ss *BPSimServer) RestAddress() string {
	return net.JoinHostPort(ss.RestAPI.Host, strconv.Itoa(ss.RestAPI.Port))
}

// Shutdown for simulator server state.
func (ss *BPSimServer) Shutdown() {
	log.Info("Shutting down BPSim Server")
	ss.Storm.Cancel()
	if ss.LeaseSweeper != nil {
		ss.LeaseSweeper.Shutdown()
	}
	// The SSE streams are closed first so the HTTP server does not wait
	// for them.
	ss.EventCenter.Shutdown()
	ss.RestAPI.Shutdown()
	if ss.relayCancel != nil {
		ss.relayCancel()
		<-ss.relayDone
	}
	ss.Transport.Shutdown()
	ss.Workers.Stop()
	if ss.MetricsCollector != nil {
		ss.MetricsCollector.Shutdown()
	}
	log.WithField("version", bpsim.Version).Info("BPSim Server shut down")
}
