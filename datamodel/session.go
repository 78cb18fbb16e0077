package datamodel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Offset added to the VLAN id to compute the flow id of a packet
// indication.
const FlowIDBase = 1000

// Access-network coordinates of a simulated client. The VLAN id is the
// customer tag (C-TAG) of the client's traffic.
type Coordinates struct {
	PonPort uint32 `json:"ponPort"`
	OnuID   uint32 `json:"onuId"`
	UniID   uint32 `json:"uniId"`
	GemPort uint32 `json:"gemPort"`
	VlanID  int    `json:"cTag"`
}

// Returns the flow id derived from the VLAN.
func (c Coordinates) FlowID() uint32 {
	return uint32(FlowIDBase + c.VlanID)
}

// Identity and protocol state of one simulated client.
type Session struct {
	ID               int        `json:"id"`
	ClientMAC        string     `json:"clientMac"`
	IPAddress        string     `json:"ipAddress,omitempty"`
	RequiredIP       string     `json:"requiredIp,omitempty"`
	State            State      `json:"state"`
	DNS              []string   `json:"dns,omitempty"`
	Gateway          string     `json:"gateway,omitempty"`
	ServerIdentifier string     `json:"serverIdentifier,omitempty"`
	SubnetMask       string     `json:"subnetMask,omitempty"`
	XID              uint32     `json:"xid"`
	LeaseTime        uint32     `json:"leaseTime"`
	VlanID           int        `json:"vlanId"`
	PonPort          uint32     `json:"ponPort"`
	OnuID            uint32     `json:"onuId"`
	UniID            uint32     `json:"uniId"`
	GemPort          uint32     `json:"gemPort"`
	LeaseStartTime   *time.Time `json:"leaseStartTime,omitempty"`
	DhcpStartTime    *time.Time `json:"dhcpStartTime,omitempty"`
	DhcpCompleteTime *time.Time `json:"dhcpCompletionTime,omitempty"`
}

// Creates a session located at the given coordinates.
func NewSession(coordinates Coordinates, state State) *Session {
	return &Session{
		State:   state,
		VlanID:  coordinates.VlanID,
		PonPort: coordinates.PonPort,
		OnuID:   coordinates.OnuID,
		UniID:   coordinates.UniID,
		GemPort: coordinates.GemPort,
	}
}

// Returns the access-network coordinates of the session.
func (s *Session) Coordinates() Coordinates {
	return Coordinates{
		PonPort: s.PonPort,
		OnuID:   s.OnuID,
		UniID:   s.UniID,
		GemPort: s.GemPort,
		VlanID:  s.VlanID,
	}
}

// Returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.DNS != nil {
		clone.DNS = append([]string{}, s.DNS...)
	}
	clone.LeaseStartTime = cloneTime(s.LeaseStartTime)
	clone.DhcpStartTime = cloneTime(s.DhcpStartTime)
	clone.DhcpCompleteTime = cloneTime(s.DhcpCompleteTime)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Checks if the lease of the session elapsed at the given time.
func (s *Session) LeaseExpired(now time.Time) bool {
	if s.LeaseStartTime == nil || s.LeaseTime == 0 {
		return false
	}
	return now.After(s.LeaseStartTime.Add(time.Duration(s.LeaseTime) * time.Second))
}

// Returns the duration of the handshake. If the handshake has not
// completed yet the duration is measured until now.
func (s *Session) DhcpDuration(now time.Time) (time.Duration, bool) {
	if s.DhcpStartTime == nil {
		return 0, false
	}
	if s.DhcpCompleteTime != nil {
		return s.DhcpCompleteTime.Sub(*s.DhcpStartTime), true
	}
	return now.Sub(*s.DhcpStartTime), true
}

// Checks if the session matches the free-text filter. The filter is
// compared with the textual fields and the numeric identifiers.
func (s *Session) MatchesText(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return true
	}
	fields := []string{
		s.ClientMAC, s.IPAddress, s.RequiredIP, string(s.State), s.Gateway,
		s.ServerIdentifier, s.SubnetMask, strings.Join(s.DNS, ","),
		fmt.Sprint(s.ID), fmt.Sprint(s.XID), fmt.Sprint(s.VlanID),
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}

// Serializes the session with the handshake duration in milliseconds.
func (s *Session) MarshalJSON() ([]byte, error) {
	type sessionAlias Session
	var durationMs *int64
	if duration, ok := s.DhcpDuration(time.Now()); ok && s.DhcpCompleteTime != nil {
		ms := duration.Milliseconds()
		durationMs = &ms
	}
	return json.Marshal(struct {
		*sessionAlias
		DhcpCompletionTimeMs *int64 `json:"dhcpCompletionTimeMs,omitempty"`
	}{
		sessionAlias:         (*sessionAlias)(s),
		DhcpCompletionTimeMs: durationMs,
	})
}
