package datamodel

// Command driving one handshake step for a new or a matching idle
// session.
type SimulateRequest struct {
	PacketType string `json:"packetType"`
	Coordinates
	ClientMAC string `json:"clientMac,omitempty"`
}

// Parameters of the storm. Exactly one of the values must be positive.
type StormRequest struct {
	Rate        int     `json:"rate,omitempty"`
	IntervalSec float64 `json:"intervalSec,omitempty"`
}

// Description of an idle session used to pre-seed the storm pool.
type IdleSessionSpec struct {
	Coordinates
	ClientMAC string `json:"clientMac,omitempty"`
}

// Storm lifecycle status name.
type StormStatusName string

const (
	StormStatusProgress StormStatusName = "progress"
	StormStatusReady    StormStatusName = "ready"
	StormStatusError    StormStatusName = "error"
)

// Type of the storm status notification.
const StormStatusType = "storm_status"

// Notification describing the storm progress.
type StormStatus struct {
	Type    string          `json:"type"`
	Status  StormStatusName `json:"status"`
	Params  StormRequest    `json:"params"`
	Message string          `json:"message"`
	RunID   string          `json:"runId,omitempty"`
	Total   int             `json:"total"`
	Sent    int             `json:"sent"`
	Failed  int             `json:"failed"`
	Running bool            `json:"running"`
}

// Configured capacity of the simulated access network.
type SystemInfo struct {
	PonPortStart    uint32    `json:"ponPortStart"`
	PonPortCount    uint32    `json:"ponPortCount"`
	OnuPortStart    uint32    `json:"onuPortStart"`
	OnuPortCount    uint32    `json:"onuPortCount"`
	UniPortCount    uint32    `json:"uniPortCount"`
	MaxSessions     int       `json:"maxSessions"`
	MaxVlans        int       `json:"maxVlans"`
	StormInfo       string    `json:"stormInfo"`
	StormInProgress bool      `json:"stormInProgress"`
	Host            *HostInfo `json:"host,omitempty"`
}

// Host the simulator runs on.
type HostInfo struct {
	Hostname          string  `json:"hostname"`
	OS                string  `json:"os"`
	Platform          string  `json:"platform"`
	PlatformVersion   string  `json:"platformVersion"`
	KernelVersion     string  `json:"kernelVersion"`
	UptimeSec         uint64  `json:"uptimeSec"`
	CPUs              int     `json:"cpus"`
	MemoryTotal       uint64  `json:"memoryTotal"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	Load1             float64 `json:"load1"`
	Load5             float64 `json:"load5"`
	Load15            float64 `json:"load15"`
}

// Sessions matching the listing filters.
type SessionList struct {
	Sessions []*Session `json:"devices"`
	Total    int        `json:"total"`
}

// Result of the storm cancellation.
type StormCancelResult struct {
	Cancelled bool        `json:"cancelled"`
	Status    StormStatus `json:"status"`
}

// Generic response carrying a message.
type MessageResponse struct {
	Message string `json:"message"`
}

// Response returned for a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Version of the simulator.
type VersionResponse struct {
	Version string `json:"version"`
}
