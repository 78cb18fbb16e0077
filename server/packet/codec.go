package packet

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"argela.com/bpsim/datamodel"
)

// IPv4 header constants of the generated frames.
const (
	ipv4TTL            = 64
	ipv4Identification = 0x1234
	broadcastFlag      = 0x8000
)

// Builds and parses the layered handshake frames: Ethernet, 802.1Q,
// IPv4, UDP and DHCPv4.
type Codec struct {
	serverMAC    net.HardwareAddr
	broadcastMAC net.HardwareAddr
	vlanPriority uint8
}

// Creates the codec using the given server and broadcast hardware
// addresses and VLAN priority.
func NewCodec(serverMAC, broadcastMAC net.HardwareAddr, vlanPriority uint8) *Codec {
	return &Codec{
		serverMAC:    serverMAC,
		broadcastMAC: broadcastMAC,
		vlanPriority: vlanPriority,
	}
}

// Returns the hardware address used as the source of server frames.
func (c *Codec) ServerMAC() net.HardwareAddr {
	return c.serverMAC
}

// Appends an option carrying IPv4 addresses.
func appendIPOption(options layers.DHCPOptions, code layers.DHCPOpt, ips ...net.IP) layers.DHCPOptions {
	data := make([]byte, 0, 4*len(ips))
	for _, ip := range ips {
		data = append(data, ip.To4()...)
	}
	return append(options, layers.NewDHCPOption(code, data))
}

// Checks if the address is set.
func isSet(ip net.IP) bool {
	return ip != nil && ip.To4() != nil
}

// Builds the option list of the message.
func (c *Codec) buildOptions(msg *Message) (layers.DHCPOptions, error) {
	options := layers.DHCPOptions{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(msg.Type)}),
	}

	if msg.Type.IsClientOrigin() {
		options = append(options, layers.NewDHCPOption(layers.DHCPOptParamsRequest, ParameterRequestList))
		if msg.Type == MessageTypeRequest {
			if isSet(msg.RequestedIP) {
				options = appendIPOption(options, layers.DHCPOptRequestIP, msg.RequestedIP)
			}
			if isSet(msg.ServerIdentifier) {
				options = appendIPOption(options, layers.DHCPOptServerID, msg.ServerIdentifier)
			}
		}
	} else {
		if !isSet(msg.ServerIdentifier) {
			return nil, errors.Errorf("server identifier is required in %s", msg.Type)
		}
		if isSet(msg.SubnetMask) {
			options = appendIPOption(options, layers.DHCPOptSubnetMask, msg.SubnetMask)
		}
		if isSet(msg.Router) {
			options = appendIPOption(options, layers.DHCPOptRouter, msg.Router)
		}
		if len(msg.DNS) > 0 {
			options = appendIPOption(options, layers.DHCPOptDNS, msg.DNS...)
		}
		lease := make([]byte, 4)
		binary.BigEndian.PutUint32(lease, msg.LeaseTime)
		options = append(options, layers.NewDHCPOption(layers.DHCPOptLeaseTime, lease))
		options = appendIPOption(options, layers.DHCPOptServerID, msg.ServerIdentifier)
	}

	relay := append([]byte{relayAgentCircuitID, byte(len(RelayCircuitID))}, RelayCircuitID...)
	options = append(options, layers.NewDHCPOption(OptionRelayAgentInfo, relay))
	// The serializer terminates the list with the end option.
	return options, nil
}

// Encodes the message into a frame. Client-origin messages are broadcast
// from the client hardware address, server-origin messages are sent from
// the server identifier to the offered address.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	if !msg.Type.IsClientOrigin() && !msg.Type.IsServerOrigin() {
		return nil, errors.Errorf("cannot encode message type %d", msg.Type)
	}
	if len(msg.ClientMAC) != 6 {
		return nil, errors.Errorf("invalid client hardware address %s", msg.ClientMAC)
	}
	if msg.VlanID < 0 || msg.VlanID > 4095 {
		return nil, errors.Errorf("invalid VLAN %d", msg.VlanID)
	}

	options, err := c.buildOptions(msg)
	if err != nil {
		return nil, err
	}

	dhcp := &layers.DHCPv4{
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          msg.XID,
		Flags:        broadcastFlag,
		ClientIP:     net.IPv4zero,
		YourClientIP: net.IPv4zero,
		NextServerIP: net.IPv4zero,
		RelayAgentIP: net.IPv4zero,
		ClientHWAddr: msg.ClientMAC,
		Options:      options,
	}
	if isSet(msg.ClientIP) {
		dhcp.ClientIP = msg.ClientIP
	}
	if isSet(msg.YourIP) {
		dhcp.YourClientIP = msg.YourIP
	}
	if isSet(msg.ServerIdentifier) {
		dhcp.NextServerIP = msg.ServerIdentifier
	}

	ethernet := &layers.Ethernet{EthernetType: layers.EthernetTypeDot1Q}
	ipv4 := &layers.IPv4{
		Version:  4,
		TTL:      ipv4TTL,
		Id:       ipv4Identification,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolUDP,
	}
	udp := &layers.UDP{}

	if msg.Type.IsClientOrigin() {
		dhcp.Operation = layers.DHCPOpRequest
		ethernet.SrcMAC = msg.ClientMAC
		ethernet.DstMAC = c.broadcastMAC
		ipv4.SrcIP = net.IPv4zero
		ipv4.DstIP = net.IPv4bcast
		udp.SrcPort = ClientPort
		udp.DstPort = ServerPort
	} else {
		if !isSet(msg.YourIP) {
			return nil, errors.Errorf("offered address is required in %s", msg.Type)
		}
		dhcp.Operation = layers.DHCPOpReply
		ethernet.SrcMAC = c.serverMAC
		ethernet.DstMAC = msg.ClientMAC
		ipv4.SrcIP = msg.ServerIdentifier
		ipv4.DstIP = msg.YourIP
		udp.SrcPort = ServerPort
		udp.DstPort = ClientPort
	}

	dot1q := &layers.Dot1Q{
		Priority:       c.vlanPriority,
		VLANIdentifier: uint16(msg.VlanID),
		Type:           layers.EthernetTypeIPv4,
	}
	if err := udp.SetNetworkLayerForChecksum(ipv4); err != nil {
		return nil, errors.WithStack(err)
	}

	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buffer, opts, ethernet, dot1q, ipv4, udp, dhcp); err != nil {
		return nil, errors.Wrapf(err, "cannot serialize %s", msg.Type)
	}
	return buffer.Bytes(), nil
}

// Returns the malformed frame error.
func malformed(format string, args ...any) error {
	return errors.WithStack(&datamodel.MalformedFrameError{Reason: errors.Errorf(format, args...).Error()})
}

// Decodes the frame. It fails with MalformedFrameError when the frame
// is not a DHCP message carried over IPv4 and UDP between the handshake
// ports, or when the options are malformed.
func Decode(frame []byte) (*Message, error) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	if errorLayer := pkt.ErrorLayer(); errorLayer != nil {
		return nil, malformed("%s", errorLayer.Error())
	}

	msg := &Message{}
	ethernetLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethernetLayer == nil {
		return nil, malformed("no Ethernet header")
	}
	ethernet := ethernetLayer.(*layers.Ethernet)
	msg.SourceMAC = ethernet.SrcMAC
	msg.DestinationMAC = ethernet.DstMAC

	if dot1qLayer := pkt.Layer(layers.LayerTypeDot1Q); dot1qLayer != nil {
		dot1q := dot1qLayer.(*layers.Dot1Q)
		msg.VlanID = int(dot1q.VLANIdentifier)
		msg.VlanPriority = dot1q.Priority
	}

	ipv4Layer := pkt.Layer(layers.LayerTypeIPv4)
	if ipv4Layer == nil {
		return nil, malformed("not an IPv4 packet")
	}
	ipv4 := ipv4Layer.(*layers.IPv4)
	msg.SourceIP = ipv4.SrcIP
	msg.DestinationIP = ipv4.DstIP

	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, malformed("not a UDP datagram")
	}
	udp := udpLayer.(*layers.UDP)
	if !isHandshakePort(udp.SrcPort) || !isHandshakePort(udp.DstPort) {
		return nil, malformed("unexpected UDP ports %d->%d", udp.SrcPort, udp.DstPort)
	}

	dhcpLayer := pkt.Layer(layers.LayerTypeDHCPv4)
	if dhcpLayer == nil {
		return nil, malformed("no DHCPv4 payload")
	}
	dhcp := dhcpLayer.(*layers.DHCPv4)

	msg.XID = dhcp.Xid
	msg.ClientMAC = dhcp.ClientHWAddr
	msg.ClientIP = dhcp.ClientIP
	msg.YourIP = dhcp.YourClientIP
	msg.Options = dhcp.Options
	if err := msg.parseOptions(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Checks if the port is the client or server port.
func isHandshakePort(port layers.UDPPort) bool {
	return port == ServerPort || port == ClientPort
}

// Parses the IPv4 address option value.
func parseIPOption(option layers.DHCPOption) (net.IP, error) {
	if len(option.Data) != 4 {
		return nil, malformed("option %d must be 4 bytes long, got %d", option.Type, len(option.Data))
	}
	return net.IP(option.Data).To4(), nil
}

// Fills the message fields from the decoded options. The requested
// address is kept only in Request messages.
func (msg *Message) parseOptions() error {
	var requested net.IP
	for _, option := range msg.Options {
		var err error
		switch option.Type {
		case layers.DHCPOptMessageType:
			if len(option.Data) != 1 {
				return malformed("option 53 must be 1 byte long, got %d", len(option.Data))
			}
			msg.Type = MessageType(option.Data[0])
		case layers.DHCPOptRequestIP:
			requested, err = parseIPOption(option)
		case layers.DHCPOptServerID:
			msg.ServerIdentifier, err = parseIPOption(option)
		case layers.DHCPOptSubnetMask:
			msg.SubnetMask, err = parseIPOption(option)
		case layers.DHCPOptRouter:
			if len(option.Data) < 4 || len(option.Data)%4 != 0 {
				return malformed("option 3 length %d is not a multiple of 4", len(option.Data))
			}
			msg.Router = net.IP(option.Data[:4]).To4()
		case layers.DHCPOptDNS:
			if len(option.Data)%4 != 0 {
				return malformed("option 6 length %d is not a multiple of 4", len(option.Data))
			}
			for i := 0; i < len(option.Data); i += 4 {
				msg.DNS = append(msg.DNS, net.IP(option.Data[i:i+4]).To4())
			}
		case layers.DHCPOptLeaseTime:
			if len(option.Data) != 4 {
				return malformed("option 51 must be 4 bytes long, got %d", len(option.Data))
			}
			msg.LeaseTime = binary.BigEndian.Uint32(option.Data)
		case OptionRelayAgentInfo:
			msg.CircuitID, err = parseCircuitID(option.Data)
		}
		if err != nil {
			return err
		}
	}
	if msg.Type == MessageTypeRequest {
		msg.RequestedIP = requested
	}
	return nil
}

// Extracts the circuit id sub-option of the relay agent information.
func parseCircuitID(data []byte) ([]byte, error) {
	for offset := 0; offset < len(data); {
		if offset+2 > len(data) {
			return nil, malformed("truncated relay agent sub-option")
		}
		code, length := data[offset], int(data[offset+1])
		if offset+2+length > len(data) {
			return nil, malformed("relay agent sub-option %d length %d exceeds the option", code, length)
		}
		if code == relayAgentCircuitID {
			return data[offset+2 : offset+2+length], nil
		}
		offset += 2 + length
	}
	return nil, nil
}
