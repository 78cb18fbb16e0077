package datamodel

import "fmt"

// Configured range of the simulated access network ports.
type Topology struct {
	PonPortStart uint32
	PonPortCount uint32
	OnuPortStart uint32
	OnuPortCount uint32
	UniPortCount uint32
}

// Returns the number of the PON and ONU combinations.
func (t Topology) OnuCount() int {
	return int(t.PonPortCount) * int(t.OnuPortCount)
}

// Checks if the coordinates fall within the configured ports. The GEM
// port and the VLAN are not checked.
func (t Topology) Validate(coordinates Coordinates) error {
	if coordinates.PonPort < t.PonPortStart || coordinates.PonPort >= t.PonPortStart+t.PonPortCount {
		return NewValidationError("PON port", "%d is outside %s", coordinates.PonPort, portRange(t.PonPortStart, t.PonPortCount))
	}
	if coordinates.OnuID < t.OnuPortStart || coordinates.OnuID >= t.OnuPortStart+t.OnuPortCount {
		return NewValidationError("ONU id", "%d is outside %s", coordinates.OnuID, portRange(t.OnuPortStart, t.OnuPortCount))
	}
	if coordinates.UniID >= t.UniPortCount {
		return NewValidationError("UNI id", "%d is outside %s", coordinates.UniID, portRange(0, t.UniPortCount))
	}
	return nil
}

// Returns the storm configuration description.
func (t Topology) StormInfo() string {
	return fmt.Sprintf("Storm Configuration - PON Ports: %s, ONU Ports: %s, Total Devices: %d",
		portRange(t.PonPortStart, t.PonPortCount), portRange(t.OnuPortStart, t.OnuPortCount), t.OnuCount())
}

func portRange(start, count uint32) string {
	if count == 0 {
		return "none"
	}
	return fmt.Sprintf("%d-%d", start, start+count-1)
}
