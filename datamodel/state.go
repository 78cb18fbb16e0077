package datamodel

import "strings"

// Handshake state of a simulated session.
type State string

const (
	// A pooled session waiting for its first Discover.
	StateIdle State = "IDLE"
	// The client has sent a Discover.
	StateDiscovering State = "DISCOVERING"
	// The server side has sent an Offer.
	StateOffering State = "OFFERING"
	// A session created directly with an offered address.
	StateOffered State = "OFFERED"
	// The client has sent a Request.
	StateRequesting State = "REQUESTING"
	// The server side has confirmed the Request.
	StateAcknowledging State = "ACKNOWLEDGING"
	// The session is bound.
	StateAcknowledged State = "ACKNOWLEDGED"
)

// Returns all states in the handshake order.
func States() []State {
	return []State{
		StateIdle, StateDiscovering, StateOffering, StateOffered,
		StateRequesting, StateAcknowledging, StateAcknowledged,
	}
}

// Converts the state to string.
func (s State) String() string {
	return string(s)
}

// Checks if the session reached the bound state.
func (s State) IsBound() bool {
	return s == StateAcknowledged
}

// Parses the state name case-insensitively.
func ParseState(name string) (State, bool) {
	for _, state := range States() {
		if strings.EqualFold(string(state), strings.TrimSpace(name)) {
			return state, true
		}
	}
	return "", false
}

// Handshake message kind which may be simulated on demand.
type PacketKind string

const (
	PacketKindDiscovery PacketKind = "discovery"
	PacketKindOffer     PacketKind = "offer"
	PacketKindRequest   PacketKind = "request"
	PacketKindAck       PacketKind = "ack"
)

// Returns the simulated packet kinds.
func PacketKinds() []PacketKind {
	return []PacketKind{PacketKindDiscovery, PacketKindOffer, PacketKindRequest, PacketKindAck}
}

// Parses the packet kind case-insensitively.
func ParsePacketKind(name string) (PacketKind, bool) {
	for _, kind := range PacketKinds() {
		if strings.EqualFold(string(kind), strings.TrimSpace(name)) {
			return kind, true
		}
	}
	return "", false
}
