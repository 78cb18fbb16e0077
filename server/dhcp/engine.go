package dhcp

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/packet"
	"argela.com/bpsim/server/pool"
	"argela.com/bpsim/server/session"
	bpsimutil "argela.com/bpsim/util"
)

// Default lease duration in seconds.
const DefaultLeaseTime = 86400

// Delivers the frames to the simulated access network.
type Transport interface {
	Send(frame []byte, routing datamodel.Coordinates) error
}

// Worker pool processing the inbound frames. It is paused while the
// state is cleared.
type Pauser interface {
	Pause() error
	Resume() error
}

// Returned when the message kind is not expected in the current state
// of the session.
type UnexpectedMessageError struct {
	XID   uint32
	Type  packet.MessageType
	State datamodel.State
}

// Returns the error message.
func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("unexpected %s for transaction id %d in state %s", e.Type, e.XID, e.State)
}

// Returned by the modification functions when the session is already in
// the desired state.
var errNoChange = errors.New("no change")

// Engine settings.
type Settings struct {
	Topology  datamodel.Topology
	LeaseTime uint32
}

// Drives the handshake of the simulated sessions. The server side
// handles the Discover and Request frames received from the uplink, the
// client side handles the Offer and Ack frames destined to the ONUs.
type Engine struct {
	registry  *session.Registry
	pool      *pool.Pool
	codec     *packet.Codec
	transport Transport
	inbound   Pauser
	settings  Settings
	now       func() time.Time
}

// Creates the engine. The inbound worker pool is optional.
func NewEngine(registry *session.Registry, addressPool *pool.Pool, codec *packet.Codec, transport Transport, inbound Pauser, settings Settings) *Engine {
	if settings.LeaseTime == 0 {
		settings.LeaseTime = DefaultLeaseTime
	}
	return &Engine{
		registry:  registry,
		pool:      addressPool,
		codec:     codec,
		transport: transport,
		inbound:   inbound,
		settings:  settings,
		now:       bpsimutil.UTCNow,
	}
}

// Returns the configured topology.
func (e *Engine) Topology() datamodel.Topology {
	return e.settings.Topology
}

// Returns the session registry.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// Returns the address pool.
func (e *Engine) Pool() *pool.Pool {
	return e.pool
}

// Returns the current time as a pointer.
func (e *Engine) timestamp() *time.Time {
	now := e.now()
	return &now
}

// Copies the network parameters of the session VLAN into the session.
func (e *Engine) applyNetworkConfiguration(s *datamodel.Session) error {
	config, err := e.pool.NetworkConfiguration(s.VlanID)
	if err != nil {
		return err
	}
	s.Gateway = config.Gateway
	s.DNS = config.DNSServers
	s.ServerIdentifier = config.ServerIdentifier
	s.SubnetMask = config.SubnetMask
	if s.LeaseTime == 0 {
		s.LeaseTime = e.settings.LeaseTime
	}
	return nil
}

// Builds the message of the given type for the session.
func (e *Engine) buildMessage(s *datamodel.Session, kind packet.MessageType) (*packet.Message, error) {
	mac, err := net.ParseMAC(s.ClientMAC)
	if err != nil {
		return nil, errors.Wrapf(err, "session %d has invalid MAC address", s.ID)
	}
	msg := &packet.Message{
		Type:      kind,
		VlanID:    s.VlanID,
		XID:       s.XID,
		ClientMAC: mac,
	}
	switch kind {
	case packet.MessageTypeRequest:
		msg.RequestedIP = net.ParseIP(s.RequiredIP)
		msg.ServerIdentifier = net.ParseIP(s.ServerIdentifier)
	case packet.MessageTypeOffer, packet.MessageTypeAck:
		msg.YourIP = net.ParseIP(s.IPAddress)
		msg.ServerIdentifier = net.ParseIP(s.ServerIdentifier)
		msg.SubnetMask = net.ParseIP(s.SubnetMask)
		msg.Router = net.ParseIP(s.Gateway)
		for _, dns := range s.DNS {
			if ip := net.ParseIP(strings.TrimSpace(dns)); ip != nil {
				msg.DNS = append(msg.DNS, ip)
			}
		}
		msg.LeaseTime = s.LeaseTime
	}
	return msg, nil
}

// Encodes the message of the given type for the session and sends it.
func (e *Engine) send(s *datamodel.Session, kind packet.MessageType) error {
	msg, err := e.buildMessage(s, kind)
	if err != nil {
		return err
	}
	frame, err := e.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err = e.transport.Send(frame, s.Coordinates()); err != nil {
		return errors.WithMessagef(err, "cannot send %s of session %d", kind, s.ID)
	}
	log.WithFields(log.Fields{
		"type": kind,
		"xid":  s.XID,
		"mac":  s.ClientMAC,
		"vlan": s.VlanID,
		"ip":   s.IPAddress,
	}).Debug("Sent DHCP packet")
	return nil
}

// Handles the frame received from the uplink. Malformed frames and frames
// of unknown or unexpected sessions are logged and dropped.
func (e *Engine) HandleUplinkFrame(frame []byte) {
	if err := e.processUplinkFrame(frame); err != nil {
		logDroppedFrame(err, "uplink")
	}
}

// Handles the frame destined to an ONU. Malformed frames and frames of
// unknown or unexpected sessions are logged and dropped.
func (e *Engine) HandleOnuFrame(frame []byte) {
	if err := e.processOnuFrame(frame); err != nil {
		logDroppedFrame(err, "ONU")
	}
}

// Logs the reason of dropping the frame.
func logDroppedFrame(err error, direction string) {
	var (
		malformedErr  *datamodel.MalformedFrameError
		unknownErr    *datamodel.UnknownSessionError
		unexpectedErr *UnexpectedMessageError
	)
	entry := log.WithField("direction", direction).WithError(err)
	switch {
	case errors.As(err, &malformedErr):
		entry.Debug("Dropped malformed frame")
	case errors.As(err, &unknownErr), errors.As(err, &unexpectedErr):
		entry.Warn("Dropped DHCP packet")
	default:
		entry.Error("Failed to process DHCP packet")
	}
}

// Dispatches the server-side messages.
func (e *Engine) processUplinkFrame(frame []byte) error {
	msg, err := packet.Decode(frame)
	if err != nil {
		return err
	}
	switch msg.Type {
	case packet.MessageTypeDiscover:
		return e.handleDiscover(msg)
	case packet.MessageTypeRequest:
		return e.handleRequest(msg)
	default:
		return e.unexpectedMessage(msg)
	}
}

// Dispatches the client-side messages.
func (e *Engine) processOnuFrame(frame []byte) error {
	msg, err := packet.Decode(frame)
	if err != nil {
		return err
	}
	switch msg.Type {
	case packet.MessageTypeOffer:
		return e.handleOffer(msg)
	case packet.MessageTypeAck:
		return e.handleAck(msg)
	default:
		return e.unexpectedMessage(msg)
	}
}

// Returns the error for the message not handled in the given direction.
// The unknown transaction id takes precedence.
func (e *Engine) unexpectedMessage(msg *packet.Message) error {
	existing := e.registry.FindByXID(msg.XID)
	if existing == nil {
		return errors.WithStack(&datamodel.UnknownSessionError{XID: msg.XID})
	}
	return errors.WithStack(&UnexpectedMessageError{XID: msg.XID, Type: msg.Type, State: existing.State})
}

// Allocates the address for the discovering session and offers it.
func (e *Engine) handleDiscover(msg *packet.Message) error {
	offering, err := e.registry.Modify(msg.XID, func(s *datamodel.Session) error {
		if s.State != datamodel.StateDiscovering {
			return errors.WithStack(&UnexpectedMessageError{XID: msg.XID, Type: msg.Type, State: s.State})
		}
		ip, err := e.pool.Allocate(s.VlanID)
		if err != nil {
			return err
		}
		if err = e.applyNetworkConfiguration(s); err != nil {
			e.pool.Release(ip, s.VlanID)
			return err
		}
		s.IPAddress = ip
		s.LeaseTime = e.settings.LeaseTime
		s.State = datamodel.StateOffering
		return nil
	})
	if err != nil {
		return err
	}
	return e.send(offering, packet.MessageTypeOffer)
}

// Accepts the offered address and requests it.
func (e *Engine) handleOffer(msg *packet.Message) error {
	offered := msg.YourIP.String()
	requesting, err := e.registry.Modify(msg.XID, func(s *datamodel.Session) error {
		switch s.State {
		case datamodel.StateDiscovering, datamodel.StateOffering, datamodel.StateOffered:
		default:
			return errors.WithStack(&UnexpectedMessageError{XID: msg.XID, Type: msg.Type, State: s.State})
		}
		if bpsimutil.IsUnspecifiedIPv4(msg.YourIP) {
			return errors.Errorf("offer for transaction id %d carries no address", msg.XID)
		}
		if offered != s.IPAddress {
			if err := e.pool.Reserve(offered, s.VlanID); err != nil {
				return err
			}
		}
		if err := e.applyNetworkConfiguration(s); err != nil {
			return err
		}
		if msg.ServerIdentifier != nil {
			s.ServerIdentifier = msg.ServerIdentifier.String()
		}
		if msg.LeaseTime != 0 {
			s.LeaseTime = msg.LeaseTime
		}
		s.IPAddress = offered
		s.RequiredIP = offered
		s.State = datamodel.StateRequesting
		return nil
	})
	if err != nil {
		return err
	}
	return e.send(requesting, packet.MessageTypeRequest)
}

// Confirms the requested address and acknowledges it. The session is
// bound once the Ack is sent.
func (e *Engine) handleRequest(msg *packet.Message) error {
	acknowledging, err := e.registry.Modify(msg.XID, func(s *datamodel.Session) error {
		if s.State != datamodel.StateRequesting {
			return errors.WithStack(&UnexpectedMessageError{XID: msg.XID, Type: msg.Type, State: s.State})
		}
		requested := s.IPAddress
		if msg.RequestedIP != nil {
			requested = msg.RequestedIP.String()
		}
		if requested == "" {
			return errors.Errorf("request for transaction id %d carries no address", msg.XID)
		}
		if requested != s.IPAddress {
			if err := e.pool.Reserve(requested, s.VlanID); err != nil {
				return err
			}
		}
		if err := e.applyNetworkConfiguration(s); err != nil {
			return err
		}
		s.IPAddress = requested
		s.RequiredIP = requested
		s.State = datamodel.StateAcknowledging
		s.LeaseStartTime = e.timestamp()
		return nil
	})
	if err != nil {
		return err
	}
	if err = e.send(acknowledging, packet.MessageTypeAck); err != nil {
		return err
	}
	return e.bind(msg.XID)
}

// Binds the session after receiving the Ack.
func (e *Engine) handleAck(msg *packet.Message) error {
	_, err := e.registry.Modify(msg.XID, func(s *datamodel.Session) error {
		switch s.State {
		case datamodel.StateAcknowledging:
		case datamodel.StateAcknowledged:
			return errNoChange
		default:
			return errors.WithStack(&UnexpectedMessageError{XID: msg.XID, Type: msg.Type, State: s.State})
		}
		if !bpsimutil.IsUnspecifiedIPv4(msg.YourIP) {
			s.IPAddress = msg.YourIP.String()
		}
		markBound(s, e.timestamp())
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// Moves the acknowledging session to the bound state.
func (e *Engine) bind(xid uint32) error {
	_, err := e.registry.Modify(xid, func(s *datamodel.Session) error {
		if s.State != datamodel.StateAcknowledging {
			// The client side bound the session in the meantime.
			return errNoChange
		}
		markBound(s, e.timestamp())
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// Marks the session bound at the given time.
func markBound(s *datamodel.Session, now *time.Time) {
	s.State = datamodel.StateAcknowledged
	if s.LeaseStartTime == nil {
		s.LeaseStartTime = now
	}
	s.DhcpCompleteTime = now
}

// Validates the coordinates of a simulated session.
func (e *Engine) validateCoordinates(coordinates datamodel.Coordinates) error {
	if coordinates.VlanID < pool.MinVlanID || coordinates.VlanID > pool.MaxVlanID {
		return errors.WithStack(datamodel.NewValidationError("VLAN", "%d is outside %d-%d", coordinates.VlanID, pool.MinVlanID, pool.MaxVlanID))
	}
	if err := e.settings.Topology.Validate(coordinates); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Validates and normalizes the optional MAC address.
func normalizeMAC(mac string) (string, error) {
	mac = strings.TrimSpace(mac)
	if mac == "" {
		return "", nil
	}
	if !govalidator.IsMAC(mac) {
		return "", errors.WithStack(datamodel.NewValidationError("MAC address", "%s is not a MAC address", mac))
	}
	normalized, err := bpsimutil.FormatMAC(mac)
	if err != nil {
		return "", errors.WithStack(datamodel.NewValidationError("MAC address", "%s", err.Error()))
	}
	return normalized, nil
}

// Starts the handshake of the session. An idle session registered
// earlier is moved to the discovering state, otherwise a new session is
// created. The Discover is sent on behalf of the client.
func (e *Engine) StartDiscovery(target *datamodel.Session) (*datamodel.Session, error) {
	var (
		started *datamodel.Session
		err     error
	)
	if target.State == datamodel.StateIdle && target.XID != 0 {
		started, err = e.registry.Modify(target.XID, func(s *datamodel.Session) error {
			if s.State != datamodel.StateIdle {
				return errors.Errorf("session %d is not idle", s.ID)
			}
			s.State = datamodel.StateDiscovering
			s.DhcpStartTime = e.timestamp()
			return nil
		})
	} else {
		started = datamodel.NewSession(target.Coordinates(), datamodel.StateDiscovering)
		started.ClientMAC = target.ClientMAC
		started.DhcpStartTime = e.timestamp()
		err = e.registry.Add(started)
	}
	if err != nil {
		return nil, err
	}
	if err = e.send(started, packet.MessageTypeDiscover); err != nil {
		return started, err
	}
	return started, nil
}

// Registers the idle sessions used by the storm. It returns the added
// sessions and stops at the first error.
func (e *Engine) SeedIdleSessions(specs []datamodel.IdleSessionSpec) ([]*datamodel.Session, error) {
	var added []*datamodel.Session
	for _, spec := range specs {
		if err := e.validateCoordinates(spec.Coordinates); err != nil {
			return added, err
		}
		mac, err := normalizeMAC(spec.ClientMAC)
		if err != nil {
			return added, err
		}
		idle := datamodel.NewSession(spec.Coordinates, datamodel.StateIdle)
		idle.ClientMAC = mac
		if err = e.registry.Add(idle); err != nil {
			return added, err
		}
		added = append(added, idle)
	}
	log.WithField("count", len(added)).Info("Seeded idle sessions")
	return added, nil
}

// Releases every address and removes all sessions. The inbound frames
// are not processed in the meantime.
func (e *Engine) ClearAll() {
	if e.inbound != nil {
		if err := e.inbound.Pause(); err != nil {
			log.WithError(err).Warn("Failed to pause inbound frame processing")
		} else {
			defer func() {
				if err := e.inbound.Resume(); err != nil {
					log.WithError(err).Warn("Failed to resume inbound frame processing")
				}
			}()
		}
	}
	e.registry.ClearAll()
	log.Info("Cleared all sessions and address pools")
}
