package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/dynamicpb"

	"argela.com/bpsim/datamodel"
	bpsimutil "argela.com/bpsim/util"
)

// Processes the frames received from the controller.
type FrameHandler interface {
	HandleUplinkFrame(frame []byte)
	HandleOnuFrame(frame []byte)
}

// Transport settings.
type Settings struct {
	Host string `long:"grpc-host" description:"The IP address or hostname to listen on for the openolt gRPC connections" default:"" env:"BPSIM_TRANSPORT_HOST"`
	Port int64  `long:"grpc-port" description:"The port to listen on for the openolt gRPC connections" default:"50060" env:"BPSIM_TRANSPORT_PORT"`
	// Number of the workers processing the inbound frames.
	Workers int `long:"grpc-workers" description:"The number of workers processing the inbound frames" default:"16" env:"BPSIM_TRANSPORT_WORKERS"`
}

// Controller connected to the indication stream.
type subscriber struct {
	name   string
	stream grpc.ServerStream
	// Closed when the subscriber is removed from the server.
	removed chan struct{}
	err     error
}

// Interface checked by the gRPC server when the service is registered.
type openoltServer interface {
	enableIndication(request *dynamicpb.Message, stream grpc.ServerStream) error
	onuPacketOut(ctx context.Context, request *dynamicpb.Message) (*dynamicpb.Message, error)
	uplinkPacketOut(ctx context.Context, request *dynamicpb.Message) (*dynamicpb.Message, error)
}

// Openolt gRPC service of the simulated OLT. The frames sent by the
// engine are broadcast to all controllers subscribed to the indication
// stream. The frames received from the controllers are handled by the
// worker pool.
type Server struct {
	settings    Settings
	mutex       sync.Mutex
	subscribers map[*subscriber]struct{}
	handler     FrameHandler
	handlerLock sync.RWMutex
	workers     *bpsimutil.PausablePool
	grpcServer  *grpc.Server
	address     net.Addr
	wg          sync.WaitGroup
	counter     int
}

// Creates the transport server. The worker pool is shared with the
// engine which pauses it while the state is cleared.
func NewServer(settings Settings, workers *bpsimutil.PausablePool, options ...grpc.ServerOption) *Server {
	server := &Server{
		settings:    settings,
		subscribers: make(map[*subscriber]struct{}),
		workers:     workers,
		grpcServer:  grpc.NewServer(options...),
	}
	server.grpcServer.RegisterService(&openoltServiceDesc, server)
	return server
}

// Sets the handler of the inbound frames.
func (s *Server) RegisterHandler(handler FrameHandler) {
	s.handlerLock.Lock()
	defer s.handlerLock.Unlock()
	s.handler = handler
}

func (s *Server) getHandler() FrameHandler {
	s.handlerLock.RLock()
	defer s.handlerLock.RUnlock()
	return s.handler
}

// Returns the number of the connected controllers.
func (s *Server) SubscriberCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.subscribers)
}

// Starts listening on the configured address.
func (s *Server) Start() error {
	address := bpsimutil.HostWithPort(s.settings.Host, s.settings.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", address)
	}
	log.WithField("address", listener.Addr().String()).Info("Started openolt gRPC service")
	s.Serve(listener)
	return nil
}

// Serves the connections accepted on the listener in the background.
func (s *Server) Serve(listener net.Listener) {
	s.mutex.Lock()
	s.address = listener.Addr()
	s.mutex.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(listener); err != nil {
			log.WithError(err).Error("openolt gRPC service stopped")
		}
	}()
}

// Returns the address the service listens on or nil when it is not
// serving.
func (s *Server) Address() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.address
}

// Disconnects the controllers and stops the service.
func (s *Server) Shutdown() {
	s.mutex.Lock()
	for sub := range s.subscribers {
		s.removeLocked(sub, nil)
	}
	s.mutex.Unlock()
	s.grpcServer.GracefulStop()
	s.wg.Wait()
	log.Info("Stopped openolt gRPC service")
}

// Removes the subscriber. It must be called with the lock held.
func (s *Server) removeLocked(sub *subscriber, err error) {
	if _, ok := s.subscribers[sub]; !ok {
		return
	}
	delete(s.subscribers, sub)
	sub.err = err
	close(sub.removed)
}

// Broadcasts the frame to all connected controllers as a packet
// indication. The controllers failing to receive it are disconnected.
func (s *Server) Send(frame []byte, routing datamodel.Coordinates) error {
	indication := (&PacketIndication{
		IntfType:  packetIndicationPonType,
		IntfID:    routing.PonPort,
		OnuID:     routing.OnuID,
		UniID:     routing.UniID,
		GemportID: routing.GemPort,
		FlowID:    routing.FlowID(),
		PortNo:    routing.PonPort,
		Pkt:       frame,
	}).toIndication()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for sub := range s.subscribers {
		if err := sub.stream.SendMsg(indication); err != nil {
			failure := errors.WithStack(&datamodel.TransportFailureError{Subscriber: sub.name, Cause: err})
			log.WithError(failure).Warn("Removed failing indication subscriber")
			s.removeLocked(sub, failure)
		}
	}
	return nil
}

// Registers the stream and blocks until the controller disconnects or the
// stream is removed.
func (s *Server) enableIndication(_ *dynamicpb.Message, stream grpc.ServerStream) error {
	name := "unknown"
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		name = p.Addr.String()
	}
	s.mutex.Lock()
	s.counter++
	sub := &subscriber{
		name:    fmt.Sprintf("%s#%d", name, s.counter),
		stream:  stream,
		removed: make(chan struct{}),
	}
	s.subscribers[sub] = struct{}{}
	s.mutex.Unlock()
	log.WithField("subscriber", sub.name).Info("Controller subscribed to indications")

	select {
	case <-stream.Context().Done():
		s.mutex.Lock()
		s.removeLocked(sub, nil)
		s.mutex.Unlock()
	case <-sub.removed:
	}
	log.WithField("subscriber", sub.name).Info("Controller unsubscribed from indications")
	return sub.err
}

// Submits the frame to the worker pool. The frames received while the
// pool is paused are dropped.
func (s *Server) submit(frame []byte, direction string, handle func(FrameHandler, []byte)) {
	handler := s.getHandler()
	if handler == nil {
		log.WithField("direction", direction).Warn("Dropped frame received before the handler was registered")
		return
	}
	err := s.workers.Submit(func() {
		handle(handler, frame)
	})
	if err != nil {
		log.WithError(err).WithField("direction", direction).Debug("Dropped inbound frame")
	}
}

// Handles the frame destined to an ONU.
func (s *Server) onuPacketOut(_ context.Context, request *dynamicpb.Message) (*dynamicpb.Message, error) {
	onuPacket := onuPacketFromMessage(request)
	s.submit(onuPacket.Pkt, "ONU", FrameHandler.HandleOnuFrame)
	return dynamicpb.NewMessage(emptyDescriptor), nil
}

// Handles the frame sent towards the network.
func (s *Server) uplinkPacketOut(_ context.Context, request *dynamicpb.Message) (*dynamicpb.Message, error) {
	uplinkPacket := uplinkPacketFromMessage(request)
	s.submit(uplinkPacket.Pkt, "uplink", FrameHandler.HandleUplinkFrame)
	return dynamicpb.NewMessage(emptyDescriptor), nil
}
