package transport

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Openolt client playing the controller role. It is used by the loopback
// relay and in the tests.
type Client struct {
	conn *grpc.ClientConn
}

// Creates the client connected to the openolt service at the target. The
// insecure credentials are used unless other dial options are specified.
func NewClient(target string, options ...grpc.DialOption) (*Client, error) {
	if len(options) == 0 {
		options = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, options...)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create openolt client for %s", target)
	}
	return &Client{conn: conn}, nil
}

// Closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Subscribes to the indications and calls the callback for each received
// packet indication. It blocks until the context is cancelled or the
// server closes the stream.
func (c *Client) Subscribe(ctx context.Context, callback func(*PacketIndication)) error {
	desc := &grpc.StreamDesc{
		StreamName:    "EnableIndication",
		ServerStreams: true,
	}
	stream, err := c.conn.NewStream(ctx, desc, enableIndicationMethod)
	if err != nil {
		return errors.Wrap(err, "cannot open indication stream")
	}
	if err = stream.SendMsg(dynamicpb.NewMessage(emptyDescriptor)); err != nil {
		return errors.Wrap(err, "cannot enable indications")
	}
	if err = stream.CloseSend(); err != nil {
		return errors.Wrap(err, "cannot enable indications")
	}
	for {
		indication := dynamicpb.NewMessage(indicationDescriptor)
		err = stream.RecvMsg(indication)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "indication stream failed")
		}
		if packetIndication := packetIndicationFromIndication(indication); packetIndication != nil {
			callback(packetIndication)
		}
	}
}

// Sends the frame towards the ONU.
func (c *Client) OnuPacketOut(ctx context.Context, onuPacket *OnuPacket) error {
	response := dynamicpb.NewMessage(emptyDescriptor)
	err := c.conn.Invoke(ctx, onuPacketOutMethod, onuPacket.toMessage(), response)
	return errors.Wrap(err, "OnuPacketOut failed")
}

// Sends the frame towards the network.
func (c *Client) UplinkPacketOut(ctx context.Context, uplinkPacket *UplinkPacket) error {
	response := dynamicpb.NewMessage(emptyDescriptor)
	err := c.conn.Invoke(ctx, uplinkPacketOutMethod, uplinkPacket.toMessage(), response)
	return errors.Wrap(err, "UplinkPacketOut failed")
}
