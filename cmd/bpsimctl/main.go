package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"muzzammil.xyz/jsonc"

	"argela.com/bpsim"
	"argela.com/bpsim/datamodel"
	bpsimutil "argela.com/bpsim/util"
)

// Creates the client for the server specified with the global flag.
func getClient(c *cli.Context) (*apiClient, error) {
	return newAPIClient(c.String("url"))
}

// Parses the positional argument as an unsigned number.
func parseUint32Arg(c *cli.Context, index int, name string) (uint32, error) {
	value := c.Args().Get(index)
	number, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid %s: %q", name, value)
	}
	return uint32(number), nil
}

// Sends the handshake step of a session.
func runSimulate(c *cli.Context, kind datamodel.PacketKind) error {
	if c.NArg() != 5 {
		return errors.Errorf("expected 5 arguments: <pon> <onu> <uni> <gem> <ctag>, got %d", c.NArg())
	}
	request := &datamodel.SimulateRequest{PacketType: string(kind)}
	var err error
	if request.PonPort, err = parseUint32Arg(c, 0, "PON port"); err != nil {
		return err
	}
	if request.OnuID, err = parseUint32Arg(c, 1, "ONU id"); err != nil {
		return err
	}
	if request.UniID, err = parseUint32Arg(c, 2, "UNI id"); err != nil {
		return err
	}
	if request.GemPort, err = parseUint32Arg(c, 3, "GEM port"); err != nil {
		return err
	}
	cTag, err := parseUint32Arg(c, 4, "C-tag")
	if err != nil {
		return err
	}
	request.VlanID = int(cTag)

	if mac := c.String("mac"); mac != "" {
		if !govalidator.IsMAC(mac) {
			return errors.Errorf("invalid MAC address: %q", mac)
		}
		request.ClientMAC = mac
	}

	client, err := getClient(c)
	if err != nil {
		return err
	}
	simulated, err := client.simulate(request)
	if err != nil {
		return errors.WithMessagef(err, "cannot send DHCP %s", kind)
	}
	fmt.Fprintf(c.App.Writer, "DHCP %s sent for session %d (MAC %s, XID %d, state %s)\n",
		kind, simulated.ID, simulated.ClientMAC, simulated.XID, simulated.State)
	return nil
}

// Converts the list flags to the query parameters.
func listQuery(c *cli.Context) (url.Values, error) {
	query := url.Values{}
	for _, name := range []struct{ flag, param string }{
		{"vlan", "vlanId"},
		{"pon", "ponPort"},
		{"onu", "onuId"},
		{"uni", "uniId"},
		{"gem", "gemPort"},
	} {
		if c.IsSet(name.flag) {
			query.Set(name.param, strconv.FormatUint(c.Uint64(name.flag), 10))
		}
	}
	if state := c.String("state"); state != "" {
		parsed, ok := datamodel.ParseState(state)
		if !ok {
			return nil, errors.Errorf("invalid state: %q", state)
		}
		query.Set("state", parsed.String())
	}
	if filter := strings.TrimSpace(c.String("filter")); filter != "" {
		query.Set("filter", filter)
	}
	return query, nil
}

// Prints the sessions once or periodically until interrupted.
func runList(c *cli.Context) error {
	query, err := listQuery(c)
	if err != nil {
		return err
	}
	client, err := getClient(c)
	if err != nil {
		return err
	}
	color := stdoutIsTerminal() && !c.Bool("no-color")

	printOnce := func() error {
		list, err := client.listSessions(query)
		if err != nil {
			return errors.WithMessage(err, "cannot list the sessions")
		}
		return printSessions(c.App.Writer, list.Sessions, tableOptions{
			wide:  c.Bool("wide"),
			color: color,
			now:   time.Now(),
		})
	}

	interval := c.Duration("watch")
	if interval <= 0 {
		return printOnce()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if color {
			// Clear the terminal before the refresh.
			fmt.Fprint(c.App.Writer, "\033[H\033[2J")
		}
		if err := printOnce(); err != nil {
			return err
		}
		select {
		case <-c.Context.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runStats(c *cli.Context) error {
	client, err := getClient(c)
	if err != nil {
		return err
	}
	statistics, err := client.statistics()
	if err != nil {
		return errors.WithMessage(err, "cannot get the statistics")
	}
	return printStatistics(c.App.Writer, statistics)
}

// Parses the storm arguments. A positive rate takes precedence; the
// interval is used when the rate is zero.
func parseStormArgs(c *cli.Context) (*datamodel.StormRequest, error) {
	usage := errors.New("usage: storm <rate> [intervalSec]; e.g. 'storm 100' or 'storm 0 5'")
	if c.NArg() < 1 || c.NArg() > 2 {
		return nil, usage
	}
	rate, err := strconv.Atoi(c.Args().Get(0))
	if err != nil || rate < 0 {
		return nil, usage
	}
	if rate > 0 {
		return &datamodel.StormRequest{Rate: rate}, nil
	}
	if c.NArg() == 2 {
		interval, err := strconv.ParseFloat(c.Args().Get(1), 64)
		if err == nil && interval > 0 {
			return &datamodel.StormRequest{IntervalSec: interval}, nil
		}
	}
	return nil, usage
}

func runStorm(c *cli.Context) error {
	request, err := parseStormArgs(c)
	if err != nil {
		return err
	}
	client, err := getClient(c)
	if err != nil {
		return err
	}
	status, err := client.startStorm(request)
	if err != nil {
		return errors.WithMessage(err, "cannot start the storm")
	}
	fmt.Fprintln(c.App.Writer, "DHCP storm started")
	return printStormStatus(c.App.Writer, status)
}

func runStormStatus(c *cli.Context) error {
	client, err := getClient(c)
	if err != nil {
		return err
	}
	status, err := client.stormStatus()
	if err != nil {
		return errors.WithMessage(err, "cannot get the storm status")
	}
	return printStormStatus(c.App.Writer, status)
}

func runStop(c *cli.Context) error {
	client, err := getClient(c)
	if err != nil {
		return err
	}
	result, err := client.cancelStorm()
	if err != nil {
		return errors.WithMessage(err, "cannot stop the storm")
	}
	if result.Cancelled {
		fmt.Fprintf(c.App.Writer, "✓ DHCP storm cancelled (%d/%d sent)\n", result.Status.Sent, result.Status.Total)
	} else {
		fmt.Fprintln(c.App.Writer, "No active DHCP storm")
	}
	return nil
}

func runClear(c *cli.Context) error {
	client, err := getClient(c)
	if err != nil {
		return err
	}
	result, err := client.clear()
	if err != nil {
		return errors.WithMessage(err, "cannot clear the sessions")
	}
	fmt.Fprintf(c.App.Writer, "✓ %s\n", result.Message)
	return nil
}

// Reads the idle sessions from the file and registers them.
func runSeed(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: seed <file>")
	}
	path := c.Args().First()
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s", path)
	}
	var specs []datamodel.IdleSessionSpec
	if err = jsonc.Unmarshal(raw, &specs); err != nil {
		return errors.Wrapf(err, "cannot parse %s", path)
	}
	client, err := getClient(c)
	if err != nil {
		return err
	}
	list, err := client.seed(specs)
	if err != nil {
		return errors.WithMessage(err, "cannot seed the idle sessions")
	}
	fmt.Fprintf(c.App.Writer, "✓ Seeded %d idle sessions\n", list.Total)
	return nil
}

func runInfo(c *cli.Context) error {
	client, err := getClient(c)
	if err != nil {
		return err
	}
	info, err := client.systemInfo()
	if err != nil {
		return errors.WithMessage(err, "cannot get the system information")
	}
	return printSystemInfo(c.App.Writer, info)
}

func runVersion(c *cli.Context) error {
	fmt.Fprintf(c.App.Writer, "Client version: %s\n", bpsim.Version)
	client, err := getClient(c)
	if err != nil {
		return err
	}
	version, err := client.version()
	if err != nil {
		return errors.WithMessage(err, "cannot get the server version")
	}
	fmt.Fprintf(c.App.Writer, "Server version: %s\n", version)
	return nil
}

// Returns the subcommand sending the handshake step.
func simulateCommand(kind datamodel.PacketKind) *cli.Command {
	return &cli.Command{
		Name:      string(kind),
		Usage:     fmt.Sprintf("Send DHCP %s for a session", strings.ToUpper(string(kind))),
		UsageText: fmt.Sprintf("bpsimctl dhcp %s [--mac <address>] <pon> <onu> <uni> <gem> <ctag>", kind),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mac",
				Usage:   "Client MAC address; a random one is generated if not provided",
				Aliases: []string{"m"},
			},
		},
		Action: func(c *cli.Context) error {
			return runSimulate(c, kind)
		},
	}
}

// Prepare urfave cli app with all flags and commands defined.
func setupApp() *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintln(c.App.Writer, c.App.Version)
	}

	cli.HelpFlag = &cli.BoolFlag{
		Name:    "help",
		Aliases: []string{"h"},
		Usage:   "Show help",
	}

	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "Print the version",
	}

	var simulateCommands []*cli.Command
	for _, kind := range datamodel.PacketKinds() {
		simulateCommands = append(simulateCommands, simulateCommand(kind))
	}

	app := &cli.App{
		Name:     "bpsimctl",
		Usage:    "BPSim control tool",
		Version:  bpsim.Version,
		HelpName: "bpsimctl",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "URL of the BPSim Server REST API",
				Value:   defaultServerURL,
				Aliases: []string{"U"},
				EnvVars: []string{"BPSIM_URL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:        "dhcp",
				Usage:       "Simulate a single DHCP handshake step",
				Subcommands: simulateCommands,
				Category:    "Sessions",
			},
			{
				Name:      "list",
				Usage:     "List the DHCP sessions",
				UsageText: "bpsimctl list [filters] [--wide] [--watch <interval>]",
				Category:  "Sessions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "filter", Aliases: []string{"f"}, Usage: "General text filter matching multiple fields"},
					&cli.Uint64Flag{Name: "vlan", Aliases: []string{"v"}, Usage: "Filter by VLAN ID"},
					&cli.Uint64Flag{Name: "pon", Aliases: []string{"p"}, Usage: "Filter by PON port"},
					&cli.Uint64Flag{Name: "onu", Aliases: []string{"o"}, Usage: "Filter by ONU ID"},
					&cli.Uint64Flag{Name: "uni", Aliases: []string{"u"}, Usage: "Filter by UNI ID"},
					&cli.Uint64Flag{Name: "gem", Aliases: []string{"g"}, Usage: "Filter by GEM port"},
					&cli.StringFlag{Name: "state", Aliases: []string{"s"}, Usage: "Filter by DHCP state"},
					&cli.BoolFlag{Name: "wide", Aliases: []string{"w"}, Usage: "Show all columns"},
					&cli.DurationFlag{Name: "watch", Usage: "Refresh the list at the given interval until interrupted"},
					&cli.BoolFlag{Name: "no-color", Usage: "Do not highlight the acknowledged sessions"},
				},
				Action: runList,
			},
			{
				Name:     "stats",
				Usage:    "Show the session and address pool statistics",
				Category: "Sessions",
				Action:   runStats,
			},
			{
				Name:      "seed",
				Usage:     "Register the idle sessions from a JSON file (comments allowed)",
				UsageText: "bpsimctl seed <file>",
				Category:  "Sessions",
				Action:    runSeed,
			},
			{
				Name:     "clear",
				Usage:    "Remove all sessions and release their addresses",
				Category: "Sessions",
				Action:   runClear,
			},
			{
				Name:      "storm",
				Usage:     "Start the DHCP storm at the rate (sessions per second) or the interval (seconds)",
				UsageText: "bpsimctl storm <rate> [intervalSec]",
				Category:  "Storm",
				Action:    runStorm,
				Subcommands: []*cli.Command{
					{
						Name:   "status",
						Usage:  "Show the storm status",
						Action: runStormStatus,
					},
				},
			},
			{
				Name:     "stop",
				Usage:    "Stop the running DHCP storm",
				Category: "Storm",
				Action:   runStop,
			},
			{
				Name:     "info",
				Usage:    "Show the system configuration",
				Category: "System",
				Action:   runInfo,
			},
			{
				Name:     "version",
				Usage:    "Show the client and server versions",
				Category: "System",
				Action:   runVersion,
			},
		},
	}

	return app
}

func main() {
	bpsimutil.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := setupApp()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
