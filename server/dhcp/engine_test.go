package dhcp

import (
	"net"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/packet"
	"argela.com/bpsim/server/pool"
	"argela.com/bpsim/server/session"
	bpsimutil "argela.com/bpsim/util"
)

//go:generate mockgen -package=dhcp -destination=enginemock_test.go -source=engine.go Transport Pauser

func newTestTopology() datamodel.Topology {
	return datamodel.Topology{
		PonPortStart: 0,
		PonPortCount: 16,
		OnuPortStart: 0,
		OnuPortCount: 128,
		UniPortCount: 4,
	}
}

func newTestCodec() *packet.Codec {
	return packet.NewCodec(
		bpsimutil.MustParseMAC("aa:bb:cc:dd:ee:ff"),
		bpsimutil.MustParseMAC("ff:ff:ff:ff:ff:ff"),
		3,
	)
}

// Creates the engine with the default pool and the given transport.
func newTestEngine(t *testing.T, transport Transport, maxSessions int) *Engine {
	addressPool, err := pool.NewPool(pool.DefaultSettings())
	require.NoError(t, err)
	registry := session.NewRegistry(maxSessions, addressPool, nil)
	return NewEngine(registry, addressPool, newTestCodec(), transport, nil, Settings{
		Topology: newTestTopology(),
	})
}

// Transport delivering the sent frames back to the engine. The client
// frames go to the uplink handler, the server frames to the ONU handler.
type loopbackTransport struct {
	mutex    sync.Mutex
	engine   *Engine
	messages []*packet.Message
	routing  []datamodel.Coordinates
}

func (l *loopbackTransport) Send(frame []byte, routing datamodel.Coordinates) error {
	msg, err := packet.Decode(frame)
	if err != nil {
		return err
	}
	l.mutex.Lock()
	l.messages = append(l.messages, msg)
	l.routing = append(l.routing, routing)
	l.mutex.Unlock()
	if msg.Type.IsClientOrigin() {
		l.engine.HandleUplinkFrame(frame)
	} else {
		l.engine.HandleOnuFrame(frame)
	}
	return nil
}

// Transport recording the sent messages.
type recordingTransport struct {
	mutex    sync.Mutex
	messages []*packet.Message
}

func (r *recordingTransport) Send(frame []byte, routing datamodel.Coordinates) error {
	msg, err := packet.Decode(frame)
	if err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingTransport) last() *packet.Message {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}

func newDiscoveryRequest(vlan int) *datamodel.SimulateRequest {
	return &datamodel.SimulateRequest{
		PacketType: "discovery",
		Coordinates: datamodel.Coordinates{
			PonPort: 0,
			OnuID:   0,
			UniID:   0,
			GemPort: 1024,
			VlanID:  vlan,
		},
	}
}

// Encodes the message addressed to the session.
func encodeFor(t *testing.T, s *datamodel.Session, msg *packet.Message) []byte {
	msg.VlanID = s.VlanID
	msg.ClientMAC = bpsimutil.MustParseMAC(s.ClientMAC)
	if msg.XID == 0 {
		msg.XID = s.XID
	}
	frame, err := newTestCodec().Encode(msg)
	require.NoError(t, err)
	return frame
}

// Test the complete handshake of a simulated client and the cleanup.
func TestEndToEndHandshake(t *testing.T) {
	// Arrange
	transport := &loopbackTransport{}
	engine := newTestEngine(t, transport, 0)
	transport.engine = engine

	// Act
	started, err := engine.Simulate(newDiscoveryRequest(100))

	// Assert
	require.NoError(t, err)
	require.Len(t, transport.messages, 4)

	discover, offer, request, ack := transport.messages[0], transport.messages[1], transport.messages[2], transport.messages[3]
	require.Equal(t, packet.MessageTypeDiscover, discover.Type)
	require.Equal(t, started.XID, discover.XID)

	require.Equal(t, packet.MessageTypeOffer, offer.Type)
	require.Equal(t, "10.0.99.4", offer.YourIP.String())
	require.Equal(t, "10.0.99.1", offer.Router.String())
	require.Equal(t, "10.0.99.1", offer.ServerIdentifier.String())
	require.Equal(t, "255.255.255.0", offer.SubnetMask.String())
	require.Len(t, offer.DNS, 2)
	require.EqualValues(t, DefaultLeaseTime, offer.LeaseTime)

	require.Equal(t, packet.MessageTypeRequest, request.Type)
	require.Equal(t, "10.0.99.4", request.RequestedIP.String())
	require.Equal(t, "10.0.99.1", request.ServerIdentifier.String())

	require.Equal(t, packet.MessageTypeAck, ack.Type)
	require.Equal(t, "10.0.99.4", ack.YourIP.String())

	for _, routing := range transport.routing {
		require.EqualValues(t, 1100, routing.FlowID())
		require.EqualValues(t, 1024, routing.GemPort)
	}

	bound := engine.Registry().FindByXID(started.XID)
	require.NotNil(t, bound)
	require.Equal(t, datamodel.StateAcknowledged, bound.State)
	require.Equal(t, "10.0.99.4", bound.IPAddress)
	require.Equal(t, "10.0.99.4", bound.RequiredIP)
	require.Equal(t, "10.0.99.1", bound.Gateway)
	require.NotNil(t, bound.LeaseStartTime)
	require.NotNil(t, bound.DhcpStartTime)
	require.NotNil(t, bound.DhcpCompleteTime)
	require.True(t, engine.Pool().InUse("10.0.99.4", 100))
	require.Equal(t, 1, engine.Pool().UsedCount(100))

	// Clearing releases the addresses and restarts the numbering.
	engine.ClearAll()
	require.Zero(t, engine.Pool().UsedCount(100))
	require.Zero(t, engine.Registry().Count())
	next, err := engine.Simulate(newDiscoveryRequest(100))
	require.NoError(t, err)
	require.Zero(t, next.ID)
}

// Test that the server side allocates the address on Discover.
func TestHandleDiscover(t *testing.T) {
	// Arrange
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	started, err := engine.Simulate(newDiscoveryRequest(1))
	require.NoError(t, err)
	frame := encodeFor(t, started, &packet.Message{Type: packet.MessageTypeDiscover})

	// Act
	err = engine.processUplinkFrame(frame)

	// Assert
	require.NoError(t, err)
	offering := engine.Registry().FindByXID(started.XID)
	require.Equal(t, datamodel.StateOffering, offering.State)
	require.Equal(t, "10.0.0.4", offering.IPAddress)
	require.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, offering.DNS)
	require.EqualValues(t, DefaultLeaseTime, offering.LeaseTime)
	offer := transport.last()
	require.Equal(t, packet.MessageTypeOffer, offer.Type)
	require.Equal(t, "10.0.0.4", offer.YourIP.String())
}

// Test that only the Offer with the matching transaction id advances the
// discovering session.
func TestHandleOfferMatchingXID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := NewMockTransport(ctrl)
	engine := newTestEngine(t, transport, 0)

	var sent []*packet.Message
	transport.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(frame []byte, routing datamodel.Coordinates) error {
		msg, err := packet.Decode(frame)
		require.NoError(t, err)
		sent = append(sent, msg)
		return nil
	}).Times(2)

	started, err := engine.Simulate(newDiscoveryRequest(7))
	require.NoError(t, err)

	// Non-matching transaction id.
	offer := &packet.Message{
		Type:             packet.MessageTypeOffer,
		XID:              started.XID + 1,
		YourIP:           net.IPv4(10, 0, 6, 4),
		ServerIdentifier: net.IPv4(10, 0, 6, 1),
		LeaseTime:        3600,
	}
	err = engine.processOnuFrame(encodeFor(t, started, offer))
	var unknownErr *datamodel.UnknownSessionError
	require.True(t, errors.As(err, &unknownErr))
	require.Equal(t, datamodel.StateDiscovering, engine.Registry().FindByXID(started.XID).State)

	// Matching transaction id.
	offer.XID = started.XID
	err = engine.processOnuFrame(encodeFor(t, started, offer))
	require.NoError(t, err)

	requesting := engine.Registry().FindByXID(started.XID)
	require.Equal(t, datamodel.StateRequesting, requesting.State)
	require.Equal(t, "10.0.6.4", requesting.IPAddress)
	require.Equal(t, "10.0.6.4", requesting.RequiredIP)
	require.EqualValues(t, 3600, requesting.LeaseTime)
	require.True(t, engine.Pool().InUse("10.0.6.4", 7))

	require.Len(t, sent, 2)
	require.Equal(t, packet.MessageTypeRequest, sent[1].Type)
	require.Equal(t, "10.0.6.4", sent[1].RequestedIP.String())
	require.Equal(t, "10.0.6.1", sent[1].ServerIdentifier.String())
}

// Test that an Ack received by a discovering session is dropped without
// skipping the states.
func TestHandleAckInDiscoveringState(t *testing.T) {
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	started, err := engine.Simulate(newDiscoveryRequest(1))
	require.NoError(t, err)

	ack := &packet.Message{
		Type:             packet.MessageTypeAck,
		YourIP:           net.IPv4(10, 0, 0, 4),
		ServerIdentifier: net.IPv4(10, 0, 0, 1),
	}
	err = engine.processOnuFrame(encodeFor(t, started, ack))

	var unexpectedErr *UnexpectedMessageError
	require.True(t, errors.As(err, &unexpectedErr))
	require.Equal(t, datamodel.StateDiscovering, unexpectedErr.State)
	require.Equal(t, datamodel.StateDiscovering, engine.Registry().FindByXID(started.XID).State)
	require.Len(t, transport.messages, 1)
}

// Test that an Ack for the bound session is ignored.
func TestHandleAckInBoundState(t *testing.T) {
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	request := newDiscoveryRequest(1)
	request.PacketType = "ack"
	bound, err := engine.Simulate(request)
	require.NoError(t, err)
	require.Equal(t, datamodel.StateAcknowledged, bound.State)

	ack := &packet.Message{
		Type:             packet.MessageTypeAck,
		YourIP:           net.ParseIP(bound.IPAddress),
		ServerIdentifier: net.ParseIP(bound.ServerIdentifier),
	}
	require.NoError(t, engine.processOnuFrame(encodeFor(t, bound, ack)))
	require.Equal(t, datamodel.StateAcknowledged, engine.Registry().FindByXID(bound.XID).State)
}

// Test that the client-side Ack binds the acknowledging session.
func TestHandleAckInAcknowledgingState(t *testing.T) {
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	started, err := engine.Simulate(newDiscoveryRequest(1))
	require.NoError(t, err)
	_, err = engine.Registry().Modify(started.XID, func(s *datamodel.Session) error {
		s.State = datamodel.StateAcknowledging
		return nil
	})
	require.NoError(t, err)

	ack := &packet.Message{
		Type:             packet.MessageTypeAck,
		YourIP:           net.IPv4(10, 0, 0, 4),
		ServerIdentifier: net.IPv4(10, 0, 0, 1),
	}
	require.NoError(t, engine.processOnuFrame(encodeFor(t, started, ack)))

	bound := engine.Registry().FindByXID(started.XID)
	require.Equal(t, datamodel.StateAcknowledged, bound.State)
	require.Equal(t, "10.0.0.4", bound.IPAddress)
	require.NotNil(t, bound.DhcpCompleteTime)
}

// Test that the server binds the requesting session and acknowledges the
// requested address.
func TestHandleRequest(t *testing.T) {
	// Arrange
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	request := newDiscoveryRequest(3)
	request.PacketType = "request"
	requesting, err := engine.Simulate(request)
	require.NoError(t, err)
	require.Equal(t, "10.0.2.4", requesting.IPAddress)
	frame := transport.last()
	require.Equal(t, packet.MessageTypeRequest, frame.Type)

	// Act
	err = engine.processUplinkFrame(encodeFor(t, requesting, &packet.Message{
		Type:             packet.MessageTypeRequest,
		RequestedIP:      net.IPv4(10, 0, 2, 4),
		ServerIdentifier: net.IPv4(10, 0, 2, 1),
	}))

	// Assert
	require.NoError(t, err)
	bound := engine.Registry().FindByXID(requesting.XID)
	require.Equal(t, datamodel.StateAcknowledged, bound.State)
	require.NotNil(t, bound.LeaseStartTime)
	require.NotNil(t, bound.DhcpCompleteTime)
	ack := transport.last()
	require.Equal(t, packet.MessageTypeAck, ack.Type)
	require.Equal(t, "10.0.2.4", ack.YourIP.String())
}

// Test that the request without the requested address option falls back
// to the known address.
func TestHandleRequestWithoutRequestedIP(t *testing.T) {
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	request := newDiscoveryRequest(3)
	request.PacketType = "request"
	requesting, err := engine.Simulate(request)
	require.NoError(t, err)

	err = engine.processUplinkFrame(encodeFor(t, requesting, &packet.Message{Type: packet.MessageTypeRequest}))

	require.NoError(t, err)
	require.Equal(t, "10.0.2.4", transport.last().YourIP.String())
	require.Equal(t, datamodel.StateAcknowledged, engine.Registry().FindByXID(requesting.XID).State)
}

// Test that requesting a different free address moves the lease to that
// address.
func TestHandleRequestDifferentAddress(t *testing.T) {
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	request := newDiscoveryRequest(3)
	request.PacketType = "request"
	requesting, err := engine.Simulate(request)
	require.NoError(t, err)

	err = engine.processUplinkFrame(encodeFor(t, requesting, &packet.Message{
		Type:        packet.MessageTypeRequest,
		RequestedIP: net.IPv4(10, 0, 2, 50),
	}))

	require.NoError(t, err)
	bound := engine.Registry().FindByXID(requesting.XID)
	require.Equal(t, "10.0.2.50", bound.IPAddress)
	require.True(t, engine.Pool().InUse("10.0.2.50", 3))
	require.False(t, engine.Pool().InUse("10.0.2.4", 3))
	require.Equal(t, 1, engine.Pool().UsedCount(3))
}

// Test that requesting an address held by another session is dropped.
func TestHandleRequestAddressInUse(t *testing.T) {
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	request := newDiscoveryRequest(3)
	request.PacketType = "request"
	first, err := engine.Simulate(request)
	require.NoError(t, err)
	second, err := engine.Simulate(request)
	require.NoError(t, err)
	require.Equal(t, "10.0.2.5", second.IPAddress)

	err = engine.processUplinkFrame(encodeFor(t, second, &packet.Message{
		Type:        packet.MessageTypeRequest,
		RequestedIP: net.ParseIP(first.IPAddress),
	}))

	var duplicateErr *datamodel.DuplicateIdentityError
	require.True(t, errors.As(err, &duplicateErr))
	unchanged := engine.Registry().FindByXID(second.XID)
	require.Equal(t, datamodel.StateRequesting, unchanged.State)
	require.Equal(t, "10.0.2.5", unchanged.IPAddress)
}

// Test that the malformed frames and the messages not handled in the
// direction are dropped.
func TestDropFrames(t *testing.T) {
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	started, err := engine.Simulate(newDiscoveryRequest(1))
	require.NoError(t, err)

	var malformedErr *datamodel.MalformedFrameError
	require.True(t, errors.As(engine.processUplinkFrame([]byte{1, 2, 3}), &malformedErr))
	require.True(t, errors.As(engine.processOnuFrame([]byte{}), &malformedErr))

	// The Discover is not handled on the ONU side.
	var unexpectedErr *UnexpectedMessageError
	discover := encodeFor(t, started, &packet.Message{Type: packet.MessageTypeDiscover})
	require.True(t, errors.As(engine.processOnuFrame(discover), &unexpectedErr))

	// Unknown session on the uplink.
	var unknownErr *datamodel.UnknownSessionError
	unknown := encodeFor(t, started, &packet.Message{Type: packet.MessageTypeDiscover, XID: started.XID + 100})
	require.True(t, errors.As(engine.processUplinkFrame(unknown), &unknownErr))

	// The public handlers only log.
	engine.HandleUplinkFrame([]byte{1, 2, 3})
	engine.HandleOnuFrame(discover)
	require.Equal(t, datamodel.StateDiscovering, engine.Registry().FindByXID(started.XID).State)
}

// Test that the simulated packet kinds prepare the session accordingly.
func TestSimulatePacketKinds(t *testing.T) {
	cases := map[string]struct {
		state       datamodel.State
		messageType packet.MessageType
		hasAddress  bool
	}{
		"discovery": {datamodel.StateDiscovering, packet.MessageTypeDiscover, false},
		"offer":     {datamodel.StateOffered, packet.MessageTypeOffer, true},
		"REQUEST":   {datamodel.StateRequesting, packet.MessageTypeRequest, true},
		"ack":       {datamodel.StateAcknowledged, packet.MessageTypeAck, true},
	}
	for kind, expected := range cases {
		t.Run(kind, func(t *testing.T) {
			transport := &recordingTransport{}
			engine := newTestEngine(t, transport, 0)
			request := newDiscoveryRequest(10)
			request.PacketType = kind

			simulated, err := engine.Simulate(request)

			require.NoError(t, err)
			require.Equal(t, expected.state, simulated.State)
			require.NotNil(t, simulated.DhcpStartTime)
			require.Equal(t, expected.messageType, transport.last().Type)
			if expected.hasAddress {
				require.Equal(t, "10.0.9.4", simulated.IPAddress)
				require.Equal(t, "10.0.9.1", simulated.Gateway)
				require.True(t, engine.Pool().InUse("10.0.9.4", 10))
			} else {
				require.Empty(t, simulated.IPAddress)
			}
		})
	}
}

// Test that the invalid simulation requests are rejected before touching
// the registry.
func TestSimulateValidation(t *testing.T) {
	cases := map[string]func(*datamodel.SimulateRequest){
		"packet type": func(r *datamodel.SimulateRequest) { r.PacketType = "release" },
		"VLAN low":    func(r *datamodel.SimulateRequest) { r.VlanID = 0 },
		"VLAN high":   func(r *datamodel.SimulateRequest) { r.VlanID = 4095 },
		"PON port":    func(r *datamodel.SimulateRequest) { r.PonPort = 16 },
		"ONU id":      func(r *datamodel.SimulateRequest) { r.OnuID = 128 },
		"UNI id":      func(r *datamodel.SimulateRequest) { r.UniID = 4 },
		"MAC address": func(r *datamodel.SimulateRequest) { r.ClientMAC = "not-a-mac" },
		"MAC EUI-64":  func(r *datamodel.SimulateRequest) { r.ClientMAC = "02:00:5e:10:00:00:00:01" },
	}
	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			engine := newTestEngine(t, &recordingTransport{}, 0)
			request := newDiscoveryRequest(100)
			modify(request)

			_, err := engine.Simulate(request)

			var validationErr *datamodel.ValidationError
			require.True(t, errors.As(err, &validationErr), "unexpected error %v", err)
			require.Zero(t, engine.Registry().Count())
		})
	}
}

// Test that the simulation reuses the matching idle session.
func TestSimulateReusesIdleSession(t *testing.T) {
	// Arrange
	engine := newTestEngine(t, &recordingTransport{}, 0)
	request := newDiscoveryRequest(100)
	seeded, err := engine.SeedIdleSessions([]datamodel.IdleSessionSpec{
		{Coordinates: request.Coordinates, ClientMAC: "02:00:00:00:00:AA"},
	})
	require.NoError(t, err)
	require.Len(t, seeded, 1)
	require.Equal(t, "02:00:00:00:00:aa", seeded[0].ClientMAC)

	// Act
	reused, err := engine.Simulate(request)

	// Assert
	require.NoError(t, err)
	require.Equal(t, seeded[0].ID, reused.ID)
	require.Equal(t, seeded[0].XID, reused.XID)
	require.Equal(t, datamodel.StateDiscovering, reused.State)
	require.Equal(t, 1, engine.Registry().Count())
}

// Test that concurrent simulations claim the idle session only once and
// every other simulation registers its own session.
func TestSimulateConcurrentIdleSessionClaim(t *testing.T) {
	const simulations = 32
	for round := 0; round < 20; round++ {
		// Arrange
		transport := &recordingTransport{}
		engine := newTestEngine(t, transport, 0)
		request := newDiscoveryRequest(100)
		request.PacketType = "offer"
		seeded, err := engine.SeedIdleSessions([]datamodel.IdleSessionSpec{
			{Coordinates: request.Coordinates},
		})
		require.NoError(t, err)

		// Act
		results := make(chan *datamodel.Session, simulations)
		var wg sync.WaitGroup
		for i := 0; i < simulations; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				simulated, err := engine.Simulate(request)
				require.NoError(t, err)
				results <- simulated
			}()
		}
		wg.Wait()
		close(results)

		// Assert
		claims := 0
		ids := make(map[int]bool)
		for simulated := range results {
			require.False(t, ids[simulated.ID])
			ids[simulated.ID] = true
			require.Equal(t, datamodel.StateOffered, simulated.State)
			if simulated.ID == seeded[0].ID {
				claims++
			}
		}
		require.Equal(t, 1, claims)
		require.Equal(t, simulations, engine.Registry().Count())
		require.Empty(t, engine.Registry().ByState(datamodel.StateIdle))
		require.Equal(t, simulations, engine.Pool().UsedCount(100))

		xids := make(map[uint32]bool)
		for _, msg := range transport.messages {
			require.False(t, xids[msg.XID])
			xids[msg.XID] = true
		}
		require.Len(t, xids, simulations)
	}
}

// Test that the idle session with a different MAC address is not reused.
func TestSimulateIdleSessionMACMismatch(t *testing.T) {
	engine := newTestEngine(t, &recordingTransport{}, 0)
	request := newDiscoveryRequest(100)
	_, err := engine.SeedIdleSessions([]datamodel.IdleSessionSpec{
		{Coordinates: request.Coordinates, ClientMAC: "02:00:00:00:00:aa"},
	})
	require.NoError(t, err)

	request.ClientMAC = "02:00:00:00:00:bb"
	created, err := engine.Simulate(request)

	require.NoError(t, err)
	require.Equal(t, 1, created.ID)
	require.Equal(t, "02:00:00:00:00:bb", created.ClientMAC)
	require.Equal(t, 2, engine.Registry().Count())
	require.Len(t, engine.Registry().ByState(datamodel.StateIdle), 1)
}

// Test that the address allocated for a rejected session is returned to
// the pool.
func TestSimulateSessionLimit(t *testing.T) {
	engine := newTestEngine(t, &recordingTransport{}, 1)
	request := newDiscoveryRequest(5)
	request.PacketType = "offer"
	_, err := engine.Simulate(request)
	require.NoError(t, err)

	_, err = engine.Simulate(request)

	var exhaustedErr *datamodel.ResourceExhaustedError
	require.True(t, errors.As(err, &exhaustedErr))
	require.Equal(t, 1, engine.Pool().UsedCount(5))
}

// Test that the transport failure is reported while the session stays
// registered.
func TestSimulateTransportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := NewMockTransport(ctrl)
	transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("stream closed"))
	engine := newTestEngine(t, transport, 0)

	simulated, err := engine.Simulate(newDiscoveryRequest(1))

	require.ErrorContains(t, err, "stream closed")
	require.NotNil(t, simulated)
	require.NotNil(t, engine.Registry().FindByXID(simulated.XID))
}

// Test starting the discovery of an idle and of a new session.
func TestStartDiscovery(t *testing.T) {
	transport := &recordingTransport{}
	engine := newTestEngine(t, transport, 0)
	coordinates := datamodel.Coordinates{PonPort: 1, OnuID: 2, GemPort: 2000, VlanID: 200}
	seeded, err := engine.SeedIdleSessions([]datamodel.IdleSessionSpec{{Coordinates: coordinates}})
	require.NoError(t, err)

	started, err := engine.StartDiscovery(seeded[0])
	require.NoError(t, err)
	require.Equal(t, seeded[0].ID, started.ID)
	require.Equal(t, datamodel.StateDiscovering, started.State)
	require.NotNil(t, started.DhcpStartTime)
	require.Equal(t, packet.MessageTypeDiscover, transport.last().Type)
	require.Equal(t, started.XID, transport.last().XID)

	// The session is no longer idle.
	_, err = engine.StartDiscovery(seeded[0])
	require.Error(t, err)

	created, err := engine.StartDiscovery(datamodel.NewSession(coordinates, datamodel.StateIdle))
	require.NoError(t, err)
	require.Equal(t, 1, created.ID)
	require.Equal(t, 2, engine.Registry().Count())
}

// Test that seeding stops at the first invalid entry.
func TestSeedIdleSessionsInvalid(t *testing.T) {
	engine := newTestEngine(t, &recordingTransport{}, 0)

	added, err := engine.SeedIdleSessions([]datamodel.IdleSessionSpec{
		{Coordinates: datamodel.Coordinates{VlanID: 10}},
		{Coordinates: datamodel.Coordinates{VlanID: 5000}},
		{Coordinates: datamodel.Coordinates{VlanID: 11}},
	})

	require.Error(t, err)
	require.Len(t, added, 1)
	require.Equal(t, 1, engine.Registry().Count())
}

// Test that clearing pauses the inbound processing.
func TestClearAllPausesInbound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pauser := NewMockPauser(ctrl)
	gomock.InOrder(
		pauser.EXPECT().Pause().Return(nil),
		pauser.EXPECT().Resume().Return(nil),
	)
	engine := newTestEngine(t, &recordingTransport{}, 0)
	engine.inbound = pauser
	_, err := engine.Simulate(newDiscoveryRequest(1))
	require.NoError(t, err)

	engine.ClearAll()

	require.Zero(t, engine.Registry().Count())
}

// Test that many sessions complete the handshake concurrently without
// sharing addresses.
func TestConcurrentHandshakes(t *testing.T) {
	transport := &loopbackTransport{}
	engine := newTestEngine(t, transport, 0)
	transport.engine = engine

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(onu uint32) {
			defer wg.Done()
			request := newDiscoveryRequest(20)
			request.OnuID = onu
			_, err := engine.Simulate(request)
			require.NoError(t, err)
		}(uint32(i))
	}
	wg.Wait()

	bound := engine.Registry().ByState(datamodel.StateAcknowledged)
	require.Len(t, bound, 50)
	addresses := make(map[string]bool)
	for _, s := range bound {
		require.False(t, addresses[s.IPAddress])
		addresses[s.IPAddress] = true
	}
	require.Equal(t, 50, engine.Pool().UsedCount(20))
}
