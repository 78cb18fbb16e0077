package bpsimutil

import (
	"fmt"
	"net"
	"os"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Name of the environment variable selecting the logging level.
const LogLevelEnvironmentVariable = "BPSIM_LOG_LEVEL"

func UTCNow() time.Time {
	return time.Now().UTC()
}

// Returns the host and port joined in the form accepted by net.Listen.
func HostWithPort(address string, port int64) string {
	return net.JoinHostPort(address, fmt.Sprint(port))
}

// Parses the MAC address and returns it in the canonical form, i.e.
// six lowercase octets separated by colons.
func FormatMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return "", errors.Wrapf(err, "invalid MAC address %s", mac)
	}
	if len(hw) != 6 {
		return "", errors.Errorf("MAC address %s is not 6 bytes long", mac)
	}
	return hw.String(), nil
}

// Parses the MAC address that is expected to be already validated. It
// returns nil if the address is malformed.
func MustParseMAC(mac string) net.HardwareAddr {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil
	}
	return hw
}

// Sets up the logrus logger. The logging level may be overridden with
// the BPSIM_LOG_LEVEL environment variable.
func SetupLogging() {
	log.SetLevel(log.InfoLevel)
	if value, ok := os.LookupEnv(LogLevelEnvironmentVariable); ok {
		level, err := log.ParseLevel(value)
		if err == nil {
			log.SetLevel(level)
		}
	}
	log.SetOutput(os.Stdout)
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			// Grab filename and line of current frame and add it to log entry
			_, filename := path.Split(f.File)
			return "", fmt.Sprintf("%20v:%-5d", filename, f.Line)
		},
	})
}
