package dhcp

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/packet"
)

// Prepares the session for the simulated message. The session is either
// a new one or a matching idle session.
type prepareFunc func(e *Engine, s *datamodel.Session) error

// Simulated handshake step.
type simulationHandler struct {
	prepare     prepareFunc
	messageType packet.MessageType
}

// Handlers of the simulated packet kinds.
var simulationHandlers = map[datamodel.PacketKind]simulationHandler{
	datamodel.PacketKindDiscovery: {prepare: prepareDiscovery, messageType: packet.MessageTypeDiscover},
	datamodel.PacketKindOffer:     {prepare: prepareOffer, messageType: packet.MessageTypeOffer},
	datamodel.PacketKindRequest:   {prepare: prepareRequest, messageType: packet.MessageTypeRequest},
	datamodel.PacketKindAck:       {prepare: prepareAck, messageType: packet.MessageTypeAck},
}

func prepareDiscovery(e *Engine, s *datamodel.Session) error {
	s.State = datamodel.StateDiscovering
	s.DhcpStartTime = e.timestamp()
	return nil
}

// Allocates the address and fills the network parameters.
func (e *Engine) prepareAddress(s *datamodel.Session) error {
	ip, err := e.pool.Allocate(s.VlanID)
	if err != nil {
		return err
	}
	if err = e.applyNetworkConfiguration(s); err != nil {
		e.pool.Release(ip, s.VlanID)
		return err
	}
	s.IPAddress = ip
	s.DhcpStartTime = e.timestamp()
	return nil
}

func prepareOffer(e *Engine, s *datamodel.Session) error {
	if err := e.prepareAddress(s); err != nil {
		return err
	}
	s.State = datamodel.StateOffered
	return nil
}

func prepareRequest(e *Engine, s *datamodel.Session) error {
	if err := e.prepareAddress(s); err != nil {
		return err
	}
	s.RequiredIP = s.IPAddress
	s.State = datamodel.StateRequesting
	return nil
}

func prepareAck(e *Engine, s *datamodel.Session) error {
	if err := e.prepareAddress(s); err != nil {
		return err
	}
	s.RequiredIP = s.IPAddress
	markBound(s, e.timestamp())
	return nil
}

// Drives one handshake step for a new or a matching idle session and
// sends the corresponding message. It returns the registered session.
func (e *Engine) Simulate(request *datamodel.SimulateRequest) (*datamodel.Session, error) {
	kind, ok := datamodel.ParsePacketKind(request.PacketType)
	if !ok {
		return nil, errors.WithStack(datamodel.NewValidationError("packet type", "%q is not one of %v", request.PacketType, datamodel.PacketKinds()))
	}
	handler := simulationHandlers[kind]
	if err := e.validateCoordinates(request.Coordinates); err != nil {
		return nil, err
	}
	mac, err := normalizeMAC(request.ClientMAC)
	if err != nil {
		return nil, err
	}

	// The matching idle session is claimed under the registry lock so
	// concurrent simulations and storms never take the same session.
	allocated := ""
	target, err := e.registry.ClaimIdle(request.Coordinates, mac, func(s *datamodel.Session) error {
		if err := handler.prepare(e, s); err != nil {
			return err
		}
		allocated = s.IPAddress
		return nil
	})
	if err != nil {
		if allocated != "" {
			e.pool.Release(allocated, request.VlanID)
		}
		return nil, err
	}
	reused := target != nil
	if !reused {
		target = datamodel.NewSession(request.Coordinates, datamodel.StateIdle)
		target.ClientMAC = mac
		if err = handler.prepare(e, target); err != nil {
			return nil, err
		}
		if err = e.registry.Add(target); err != nil {
			if target.IPAddress != "" {
				e.pool.Release(target.IPAddress, target.VlanID)
			}
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"kind":   kind,
		"id":     target.ID,
		"xid":    target.XID,
		"reused": reused,
	}).Info("Simulating DHCP packet")

	if err = e.send(target, handler.messageType); err != nil {
		return target, err
	}
	return target, nil
}
