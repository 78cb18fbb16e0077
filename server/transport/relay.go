package transport

import (
	"context"

	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/server/packet"
)

// Default number of the indications waiting to be relayed.
const DefaultRelayQueueSize = 4096

// Loopback relay returning the indicated frames to the simulator. The
// client-originated frames go back as uplink packets and the
// server-originated frames as ONU packets, so the simulator completes
// the handshakes without an external controller.
type Relay struct {
	client *Client
	queue  chan *PacketIndication
}

// Creates the relay using the client.
func NewRelay(client *Client, queueSize int) *Relay {
	if queueSize < 1 {
		queueSize = DefaultRelayQueueSize
	}
	return &Relay{
		client: client,
		queue:  make(chan *PacketIndication, queueSize),
	}
}

// Relays the indications until the context is cancelled. The indications
// are dropped when the queue is full so the stream is never blocked.
func (r *Relay) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.forward(ctx)
	}()
	err := r.client.Subscribe(ctx, func(indication *PacketIndication) {
		select {
		case r.queue <- indication:
		default:
			log.WithField("flowId", indication.FlowID).Warn("Relay queue full; dropped indication")
		}
	})
	close(r.queue)
	<-done
	return err
}

func (r *Relay) forward(ctx context.Context) {
	for indication := range r.queue {
		if ctx.Err() != nil {
			continue
		}
		if err := r.relay(ctx, indication); err != nil {
			log.WithError(err).Warn("Cannot relay indication")
		}
	}
}

// Sends the indicated frame back in the direction matching its origin.
func (r *Relay) relay(ctx context.Context, indication *PacketIndication) error {
	message, err := packet.Decode(indication.Pkt)
	if err != nil {
		return err
	}
	if message.Type.IsClientOrigin() {
		return r.client.UplinkPacketOut(ctx, &UplinkPacket{
			IntfID: indication.IntfID,
			Pkt:    indication.Pkt,
		})
	}
	return r.client.OnuPacketOut(ctx, &OnuPacket{
		IntfID:    indication.IntfID,
		OnuID:     indication.OnuID,
		PortNo:    indication.PortNo,
		GemportID: indication.GemportID,
		Pkt:       indication.Pkt,
	})
}
