package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/session"
)

const (
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
)

// Longest printed cell.
const maxCellWidth = 25

// Output settings of the session table.
type tableOptions struct {
	wide  bool
	color bool
	now   time.Time
}

// Checks if the standard output is a terminal. The colors are used only
// for the terminal.
func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
}

// Returns the time the handshake took in milliseconds. The running
// handshakes are measured until now.
func dhcpDuration(s *datamodel.Session, now time.Time) string {
	if s.DhcpStartTime == nil {
		return "-"
	}
	end := now
	if s.State == datamodel.StateAcknowledged && s.DhcpCompleteTime != nil {
		end = *s.DhcpCompleteTime
	}
	return fmt.Sprintf("%dms", end.Sub(*s.DhcpStartTime).Milliseconds())
}

// Shortens the value to the maximum cell width.
func truncate(value string) string {
	if len(value) <= maxCellWidth {
		return value
	}
	return value[:maxCellWidth-3] + "..."
}

// Returns the cells of the session row.
func sessionRow(s *datamodel.Session, options tableOptions) []string {
	row := []string{
		fmt.Sprint(s.ID),
		s.ClientMAC,
		s.IPAddress,
		s.State.String(),
		dhcpDuration(s, options.now),
		fmt.Sprint(s.VlanID),
		fmt.Sprint(s.PonPort),
		fmt.Sprint(s.OnuID),
		fmt.Sprint(s.UniID),
		fmt.Sprint(s.GemPort),
	}
	if options.wide {
		row = append(row, s.Gateway, strings.Join(s.DNS, ","), fmt.Sprint(s.XID))
	}
	for i := range row {
		row[i] = truncate(row[i])
	}
	return row
}

// Prints the sessions as a table followed by the state distribution.
// The acknowledged sessions are highlighted when the colors are enabled.
func printSessions(w io.Writer, sessions []*datamodel.Session, options tableOptions) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No data available.")
		return err
	}

	headers := []string{"ID", "MAC Address", "IP Address", "State", "DHCP Duration", "VLAN", "PON", "ONU", "UNI", "GEM"}
	if options.wide {
		headers = append(headers, "Gateway", "DNS", "XID")
	}

	// The colors are added after the alignment so the escape codes do
	// not count into the column widths.
	var table strings.Builder
	writer := tabwriter.NewWriter(&table, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, strings.Join(headers, "\t"))
	for _, s := range sessions {
		fmt.Fprintln(writer, strings.Join(sessionRow(s, options), "\t"))
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	lines := strings.Split(strings.TrimRight(table.String(), "\n"), "\n")
	for i, line := range lines {
		if i > 0 && options.color && sessions[i-1].State == datamodel.StateAcknowledged {
			line = colorGreen + line + colorReset
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "\nTotal devices: %d\nState distribution: %s\n",
		len(sessions), stateDistribution(sessions))
	return err
}

// Returns the number of the sessions in each state ordered by the
// handshake progress.
func stateDistribution(sessions []*datamodel.Session) string {
	counts := make(map[datamodel.State]int)
	for _, s := range sessions {
		counts[s.State]++
	}
	var parts []string
	for _, state := range datamodel.States() {
		if count, ok := counts[state]; ok {
			parts = append(parts, fmt.Sprintf("%s:%d", state, count))
		}
	}
	return strings.Join(parts, " ")
}

// Prints the registry statistics.
func printStatistics(w io.Writer, statistics *session.Statistics) error {
	printer := message.NewPrinter(language.English)
	title := cases.Title(language.English)

	writer := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	printer.Fprintf(writer, "Total devices:\t%d\n", statistics.TotalSessions)
	printer.Fprintf(writer, "Used MAC addresses:\t%d\n", statistics.UsedMACAddresses)
	for _, state := range datamodel.States() {
		if count, ok := statistics.StateCount[state]; ok {
			printer.Fprintf(writer, "  %s:\t%d\n", title.String(state.String()), count)
		}
	}

	vlans := make([]int, 0, len(statistics.VlanSessionCount))
	for vlan := range statistics.VlanSessionCount {
		vlans = append(vlans, vlan)
	}
	slices.Sort(vlans)
	for _, vlan := range vlans {
		printer.Fprintf(writer, "VLAN %d devices:\t%d\n", vlan, statistics.VlanSessionCount[vlan])
	}

	if pool := statistics.VlanPoolStatistics; pool != nil {
		printer.Fprintf(writer, "Active VLANs:\t%d\n", pool.ActiveVlanCount)
		printer.Fprintf(writer, "Used addresses:\t%d\n", pool.TotalUsedIPs)
		printer.Fprintf(writer, "Available addresses:\t%d\n", pool.TotalAvailableIPs)
		for _, vlan := range pool.VlanStatistics {
			printer.Fprintf(writer, "  VLAN %d (%s/%s):\t%d used, %d available, %.2f%%\n",
				vlan.VlanID, vlan.NetworkIP, vlan.SubnetMask, vlan.UsedIPs, vlan.AvailableIPs, vlan.UtilizationPercent)
		}
	}
	return writer.Flush()
}

// Prints the system configuration.
func printSystemInfo(w io.Writer, info *datamodel.SystemInfo) error {
	printer := message.NewPrinter(language.English)

	printer.Fprintln(w, "BPSIM System Configuration:")
	printer.Fprintln(w, "==========================")
	writer := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	printer.Fprintf(writer, "PON Ports:\t%d (starting at %d)\n", info.PonPortCount, info.PonPortStart)
	printer.Fprintf(writer, "ONU Ports:\t%d (starting at %d)\n", info.OnuPortCount, info.OnuPortStart)
	printer.Fprintf(writer, "UNI Ports:\t%d\n", info.UniPortCount)
	printer.Fprintf(writer, "Total Devices Capacity:\t%d\n", int(info.PonPortCount)*int(info.OnuPortCount)*int(info.UniPortCount))
	printer.Fprintf(writer, "Maximum Sessions:\t%d\n", info.MaxSessions)
	printer.Fprintf(writer, "Maximum VLANs:\t%d\n", info.MaxVlans)
	printer.Fprintf(writer, "Storm:\t%s\n", info.StormInfo)
	printer.Fprintf(writer, "Storm In Progress:\t%t\n", info.StormInProgress)
	if host := info.Host; host != nil {
		printer.Fprintf(writer, "Host:\t%s (%s %s %s)\n", host.Hostname, host.OS, host.Platform, host.PlatformVersion)
		printer.Fprintf(writer, "Kernel:\t%s\n", host.KernelVersion)
		printer.Fprintf(writer, "Uptime:\t%s\n", time.Duration(host.UptimeSec)*time.Second)
		printer.Fprintf(writer, "CPUs:\t%d\n", host.CPUs)
		printer.Fprintf(writer, "Memory:\t%d bytes, %.1f%% used\n", host.MemoryTotal, host.MemoryUsedPercent)
		printer.Fprintf(writer, "Load:\t%.2f %.2f %.2f\n", host.Load1, host.Load5, host.Load15)
	}
	return writer.Flush()
}

// Prints the storm status.
func printStormStatus(w io.Writer, status *datamodel.StormStatus) error {
	printer := message.NewPrinter(language.English)
	writer := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	printer.Fprintf(writer, "Status:\t%s\n", status.Status)
	if status.RunID != "" {
		printer.Fprintf(writer, "Run:\t%s\n", status.RunID)
	}
	printer.Fprintf(writer, "Message:\t%s\n", status.Message)
	printer.Fprintf(writer, "Progress:\t%d/%d sent, %d failed\n", status.Sent, status.Total, status.Failed)
	printer.Fprintf(writer, "Running:\t%t\n", status.Running)
	return writer.Flush()
}
