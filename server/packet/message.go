package packet

import (
	"net"

	"github.com/google/gopacket/layers"
)

// DHCP message type carried in option 53.
type MessageType uint8

const (
	MessageTypeUnknown  = MessageType(layers.DHCPMsgTypeUnspecified)
	MessageTypeDiscover = MessageType(layers.DHCPMsgTypeDiscover)
	MessageTypeOffer    = MessageType(layers.DHCPMsgTypeOffer)
	MessageTypeRequest  = MessageType(layers.DHCPMsgTypeRequest)
	MessageTypeAck      = MessageType(layers.DHCPMsgTypeAck)
)

// Returns the message type name.
func (t MessageType) String() string {
	return layers.DHCPMsgType(t).String()
}

// Checks if the message is sent by a client.
func (t MessageType) IsClientOrigin() bool {
	return t == MessageTypeDiscover || t == MessageTypeRequest
}

// Checks if the message is sent by a server.
func (t MessageType) IsServerOrigin() bool {
	return t == MessageTypeOffer || t == MessageTypeAck
}

// Well-known UDP ports of the handshake.
const (
	ServerPort = layers.UDPPort(67)
	ClientPort = layers.UDPPort(68)
)

// Parameter request list sent by the clients: subnet mask, router, DNS,
// domain name and interface MTU.
var ParameterRequestList = []byte{
	byte(layers.DHCPOptSubnetMask),
	byte(layers.DHCPOptRouter),
	byte(layers.DHCPOptDNS),
	byte(layers.DHCPOptDomainName),
	byte(layers.DHCPOptInterfaceMTU),
}

// Relay agent information option code.
const OptionRelayAgentInfo = layers.DHCPOpt(82)

// Circuit id sub-option code of the relay agent information option.
const relayAgentCircuitID = 1

// Circuit id inserted by the simulated relay hop.
var RelayCircuitID = []byte{0x01, 0x02, 0x03, 0x04}

// One handshake message together with the addressing of the frame it
// travels in.
type Message struct {
	Type         MessageType
	VlanID       int
	VlanPriority uint8
	XID          uint32
	ClientMAC    net.HardwareAddr
	// Frame addresses. They are set by Decode and computed by Encode.
	SourceMAC      net.HardwareAddr
	DestinationMAC net.HardwareAddr
	SourceIP       net.IP
	DestinationIP  net.IP
	// Header fields.
	ClientIP net.IP
	YourIP   net.IP
	// Options.
	RequestedIP      net.IP
	ServerIdentifier net.IP
	SubnetMask       net.IP
	Router           net.IP
	DNS              []net.IP
	LeaseTime        uint32
	CircuitID        []byte
	// All options in the wire order. Set by Decode only.
	Options layers.DHCPOptions
}
