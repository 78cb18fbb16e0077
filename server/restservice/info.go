package restservice

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	log "github.com/sirupsen/logrus"

	"argela.com/bpsim"
	"argela.com/bpsim/datamodel"
)

// Collects the description of the host. The values which cannot be read
// on the platform are left empty.
func collectHostInfo() *datamodel.HostInfo {
	info := &datamodel.HostInfo{
		CPUs: runtime.NumCPU(),
	}
	if hostInfo, err := host.Info(); err == nil {
		info.Hostname = hostInfo.Hostname
		info.OS = hostInfo.OS
		info.Platform = hostInfo.Platform
		info.PlatformVersion = hostInfo.PlatformVersion
		info.KernelVersion = hostInfo.KernelVersion
		info.UptimeSec = hostInfo.Uptime
	} else {
		log.WithError(err).Debug("Cannot read host information")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsedPercent = vm.UsedPercent
	} else {
		log.WithError(err).Debug("Cannot read memory usage")
	}
	if avg, err := load.Avg(); err == nil {
		info.Load1 = avg.Load1
		info.Load5 = avg.Load5
		info.Load15 = avg.Load15
	} else {
		log.WithError(err).Debug("Cannot read load average")
	}
	return info
}

// Returns the configured capacity of the simulated access network.
func (r *RestAPI) getSystemInfo(c *gin.Context) {
	topology := r.Engine.Topology()
	c.JSON(http.StatusOK, datamodel.SystemInfo{
		PonPortStart:    topology.PonPortStart,
		PonPortCount:    topology.PonPortCount,
		OnuPortStart:    topology.OnuPortStart,
		OnuPortCount:    topology.OnuPortCount,
		UniPortCount:    topology.UniPortCount,
		MaxSessions:     r.Engine.Registry().MaxSessions(),
		MaxVlans:        r.Engine.Pool().MaxSupportedVlans(),
		StormInfo:       r.Storm.Info(),
		StormInProgress: r.Storm.IsRunning(),
		Host:            r.hostInfo(),
	})
}

func (r *RestAPI) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, datamodel.VersionResponse{Version: bpsim.Version})
}
