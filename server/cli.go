package server

import (
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/eventsink"
	"argela.com/bpsim/server/pool"
	"argela.com/bpsim/server/restservice"
	"argela.com/bpsim/server/transport"
	bpsimutil "argela.com/bpsim/util"
)

// The passed command to the server by the CLI.
type Command string

// Valid commands supported by the simulator server.
const (
	// None command provided.
	NoneCommand Command = "none"
	// Run the server.
	RunCommand Command = "run"
	// Show help message.
	HelpCommand Command = "help"
	// Show version.
	VersionCommand Command = "version"
)

// Read environment file settings. It's parsed before the main settings.
type EnvironmentFileSettings struct {
	EnvFile    string `long:"env-file" description:"Environment file location; applicable only if the use-env-file is provided" default:"/etc/bpsim/server.env"`
	UseEnvFile bool   `long:"use-env-file" description:"Read the environment variables from the environment file"`
}

// General server settings.
type GeneralSettings struct {
	EnvironmentFileSettings
	Version               bool          `short:"v" long:"version" description:"Show software version"`
	EnableMetricsEndpoint bool          `short:"m" long:"metrics" description:"Enable Prometheus /metrics endpoint (no auth)" env:"BPSIM_ENABLE_METRICS"`
	MetricsInterval       time.Duration `long:"metrics-interval" description:"Interval of refreshing the metrics" default:"10s" env:"BPSIM_METRICS_INTERVAL"`
	LeaseSweepInterval    time.Duration `long:"lease-sweep-interval" description:"Interval of removing the sessions with expired leases; 0 disables the sweeping" default:"60s" env:"BPSIM_LEASE_SWEEP_INTERVAL"`
	SeedFile              string        `long:"seed-file" description:"JSON file (comments allowed) with the idle sessions registered on startup" env:"BPSIM_SEED_FILE"`
	Loopback              bool          `long:"loopback" description:"Connect a relay to the own gRPC endpoint that returns the client frames to the uplink and the server frames to the ONUs; useful without a real OLT adapter" env:"BPSIM_LOOPBACK"`
	ProfilerPort          int           `long:"pprof-port" description:"Port of the pprof endpoint; 0 disables it; requires the build with the profiler tag" default:"0" env:"BPSIM_PPROF_PORT"`
}

// DHCP handshake settings.
type DHCPSettings struct {
	LeaseTime    uint32 `long:"lease-time" description:"Lease duration in seconds offered to the clients" default:"86400" env:"BPSIM_DHCP_LEASE_TIME"`
	ServerMAC    string `long:"server-mac" description:"Hardware address of the simulated DHCP server" default:"aa:bb:cc:dd:ee:ff" env:"BPSIM_DHCP_SERVER_MAC"`
	BroadcastMAC string `long:"broadcast-mac" description:"Destination hardware address of the client frames" default:"ff:ff:ff:ff:ff:ff" env:"BPSIM_DHCP_BROADCAST_MAC"`
	VlanPriority uint8  `long:"vlan-priority" description:"Priority code point of the 802.1Q header" default:"3" env:"BPSIM_DHCP_VLAN_PRIORITY"`
	MaxSessions  int    `long:"max-sessions" description:"Maximum number of the simulated sessions" default:"10000" env:"BPSIM_DHCP_MAX_SESSIONS"`
}

// Address pool settings.
type PoolSettings struct {
	BaseNetwork        string `long:"pool-base-network" description:"Network the VLAN subnets are carved from" default:"10.0.0.0" env:"BPSIM_POOL_BASE_NETWORK"`
	MaskBits           int    `long:"pool-mask-bits" description:"Prefix length of the VLAN subnets" default:"24" env:"BPSIM_POOL_MASK_BITS"`
	GatewayOffset      int    `long:"pool-gateway-offset" description:"Host offset of the gateway in each subnet" default:"1" env:"BPSIM_POOL_GATEWAY_OFFSET"`
	PrimaryDNSOffset   int    `long:"pool-primary-dns-offset" description:"Host offset of the primary DNS server in each subnet" default:"2" env:"BPSIM_POOL_PRIMARY_DNS_OFFSET"`
	SecondaryDNSOffset int    `long:"pool-secondary-dns-offset" description:"Host offset of the secondary DNS server in each subnet" default:"3" env:"BPSIM_POOL_SECONDARY_DNS_OFFSET"`
	ReservedStart      int    `long:"pool-reserved-start" description:"Host offset of the first allocatable address" default:"4" env:"BPSIM_POOL_RESERVED_START"`
}

// Converts the flags to the address pool settings.
func (s *PoolSettings) PoolSettings() pool.Settings {
	return pool.Settings{
		BaseNetwork:        s.BaseNetwork,
		MaskBits:           s.MaskBits,
		GatewayOffset:      s.GatewayOffset,
		PrimaryDNSOffset:   s.PrimaryDNSOffset,
		SecondaryDNSOffset: s.SecondaryDNSOffset,
		ReservedStart:      s.ReservedStart,
	}
}

// Access network settings.
type TopologySettings struct {
	PonPortStart uint32 `long:"pon-port-start" description:"First PON port" default:"0" env:"BPSIM_PON_PORT_START"`
	PonPortCount uint32 `long:"pon-port-count" description:"Number of the PON ports" default:"16" env:"BPSIM_PON_PORT_COUNT"`
	OnuPortStart uint32 `long:"onu-port-start" description:"First ONU id on each PON port" default:"0" env:"BPSIM_ONU_PORT_START"`
	OnuPortCount uint32 `long:"onu-port-count" description:"Number of the ONUs on each PON port" default:"128" env:"BPSIM_ONU_PORT_COUNT"`
	UniPortCount uint32 `long:"uni-port-count" description:"Number of the UNI ports of each ONU" default:"4" env:"BPSIM_UNI_PORT_COUNT"`
}

// Converts the flags to the topology.
func (s *TopologySettings) Topology() datamodel.Topology {
	return datamodel.Topology{
		PonPortStart: s.PonPortStart,
		PonPortCount: s.PonPortCount,
		OnuPortStart: s.OnuPortStart,
		OnuPortCount: s.OnuPortCount,
		UniPortCount: s.UniPortCount,
	}
}

// Groups all simulator settings.
type Settings struct {
	GeneralSettings   *GeneralSettings
	RestAPISettings   *restservice.RestAPISettings
	TransportSettings *transport.Settings
	DHCPSettings      *DHCPSettings
	PoolSettings      *PoolSettings
	TopologySettings  *TopologySettings
	KafkaSettings     *eventsink.Settings
}

// Constructs a new settings instance.
// The members must be initialized because the go-flags library requires
// non-empty pointers.
func newSettings() *Settings {
	return &Settings{
		GeneralSettings:   &GeneralSettings{},
		RestAPISettings:   &restservice.RestAPISettings{},
		TransportSettings: &transport.Settings{},
		DHCPSettings:      &DHCPSettings{},
		PoolSettings:      &PoolSettings{},
		TopologySettings:  &TopologySettings{},
		KafkaSettings:     &eventsink.Settings{},
	}
}

// Simulator server-specific CLI arguments/flags parser.
type CLIParser struct {
	shortDescription string
	longDescription  string
}

// Constructs CLI parser.
func NewCLIParser() *CLIParser {
	return &CLIParser{
		shortDescription: "BPSim Server",
		longDescription: `BPSim Server simulates the DHCP handshakes of the subscribers behind a PON OLT

The server logs on INFO level by default. Other levels can be configured using the
BPSIM_LOG_LEVEL variable. Allowed values are: DEBUG, INFO, WARN, ERROR.`,
	}
}

// Parse the command line arguments into the Go structures.
// First, it parses the settings related to an environment file and if the file
// is provided, the content is loaded.
// At the end, it composes the CLI parser from all the flags and runs it.
func (p *CLIParser) Parse() (command Command, settings *Settings, err error) {
	command = NoneCommand

	envFileSettings, err := p.parseEnvironmentFileSettings()
	if err != nil {
		return
	}

	err = p.loadEnvironmentFile(envFileSettings)
	if err != nil {
		return
	}

	settings, err = p.parseSettings()
	if err != nil {
		if isHelpRequest(err) {
			return HelpCommand, nil, nil
		}
		return NoneCommand, nil, err
	}

	if settings.GeneralSettings.Version {
		// If user specified --version or -v, print the version and quit.
		return VersionCommand, nil, nil
	}

	return RunCommand, settings, nil
}

// Check if a given error is a request to display the help.
func isHelpRequest(err error) bool {
	var flagsError *flags.Error
	if errors.As(err, &flagsError) {
		if flagsError.Type == flags.ErrHelp {
			return true
		}
	}
	return false
}

// Parses the CLI flags related to the environment file.
func (p *CLIParser) parseEnvironmentFileSettings() (*EnvironmentFileSettings, error) {
	envFileSettings := &EnvironmentFileSettings{}
	parser := flags.NewParser(envFileSettings, flags.IgnoreUnknown)
	parser.ShortDescription = p.shortDescription
	parser.LongDescription = p.longDescription

	if _, err := parser.Parse(); err != nil {
		err = errors.Wrap(err, "invalid CLI argument")
		return nil, err
	}
	return envFileSettings, nil
}

// Loads the environment file content to the environment dictionary of the
// current process.
func (p *CLIParser) loadEnvironmentFile(envFileSettings *EnvironmentFileSettings) error {
	if !envFileSettings.UseEnvFile {
		// Nothing to do.
		return nil
	}

	if err := bpsimutil.LoadEnvironmentFile(envFileSettings.EnvFile); err != nil {
		return errors.WithMessagef(err, "invalid environment file: '%s'", envFileSettings.EnvFile)
	}

	// Reconfigures logging using new environment variables.
	bpsimutil.SetupLogging()

	return nil
}

// Parses all CLI flags.
func (p *CLIParser) parseSettings() (*Settings, error) {
	settings := newSettings()

	parser := flags.NewParser(settings.GeneralSettings, flags.Default)
	parser.ShortDescription = p.shortDescription
	parser.LongDescription = p.longDescription

	groups := []struct {
		name string
		data any
	}{
		{"HTTP ReST Server Flags", settings.RestAPISettings},
		{"openolt gRPC Flags", settings.TransportSettings},
		{"DHCP Flags", settings.DHCPSettings},
		{"Address Pool Flags", settings.PoolSettings},
		{"Topology Flags", settings.TopologySettings},
		{"Kafka Flags", settings.KafkaSettings},
	}
	for _, group := range groups {
		if _, err := parser.AddGroup(group.name, "", group.data); err != nil {
			return nil, errors.Wrapf(err, "cannot add the %s group", group.name)
		}
	}

	// Do args parsing.
	if _, err := parser.Parse(); err != nil {
		err = errors.Wrap(err, "cannot parse the CLI flags")
		return nil, err
	}

	return settings, nil
}
